package config

import (
	"io"
	"os"
	"path/filepath"

	logging "github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

var stdoutLogFormat = logging.MustStringFormatter(
	`%{color:reset}%{color}%{time:15:04:05.000} [%{shortfunc}] [%{level}] %{message}`,
)

var fileLogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} [%{shortfunc}] [%{level}] %{message}`,
)

// SetupLogging はログの出力先とレベルを設定します
// logDir が空でなければローテーション付きのファイルにも出力します
// console が nil の場合はファイルのみに出力します（対話モードで画面を汚さないため）
func SetupLogging(level, logDir, name string, console io.Writer) (io.Closer, error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}

	var backends []logging.Backend
	var closer io.Closer = nopCloser{}
	if console != nil {
		b := logging.NewLogBackend(console, "", 0)
		backends = append(backends, logging.NewBackendFormatter(b, stdoutLogFormat))
	}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}
		w := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, name+".log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, //days
		}
		closer = w
		b := logging.NewLogBackend(w, "", 0)
		backends = append(backends, logging.NewBackendFormatter(b, fileLogFormat))
	}
	if len(backends) == 0 {
		backends = append(backends, logging.NewLogBackend(io.Discard, "", 0))
	}

	leveled := logging.MultiLogger(backends...)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
