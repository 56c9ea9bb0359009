// Package config はアプリケーションの設定を管理します
// 環境変数（および .env ファイル）から設定を読み込み、デフォルト値を提供します
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("config")

const (
	defaultAPIURL       = "http://localhost:5000" // REST APIのデフォルト接続先
	defaultTransport    = "socketio"              // リアルタイム通信のデフォルト方式
	defaultStore        = "file"                  // ローカルストアのデフォルト
	defaultRedisAddr    = "localhost:6379"        // Redisのデフォルト接続先
	defaultDataDir      = "~/.realtime-chat"      // ログとsqliteファイルの保存先
	defaultLogLevel     = "info"
	defaultHistoryLimit = 50   // 会話を開いたときに取得する履歴の件数
	defaultTypingIdleMS = 2000 // 入力停止とみなすまでの時間（ミリ秒）
	defaultRecentDMCap  = 20   // 最近のDM一覧の上限
	defaultToastTTLMS   = 3000 // 通知の自動消去までの時間（ミリ秒）
	defaultHTTPTimeout  = 30   // REST呼び出しのタイムアウト（秒）

	defaultDevAddr      = ":5000"     // 開発用サーバーのリッスンアドレス
	defaultDevJWTSecret = "change-me" // 開発用サーバーのトークン署名鍵
	defaultDevTokenTTL  = 24 * 60     // 開発用トークンの有効期限（分）
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5500",
	"http://127.0.0.1:5500",
}

// Config はクライアントの設定を保持します
type Config struct {
	APIURL       string        // REST APIのベースURL
	RealtimeURL  string        // リアルタイム通信の接続先
	Transport    string        // "socketio" または "ws"
	Store        string        // memory / redis / sqlite / mysql / file
	RedisAddr    string        // redis ストアの接続先
	StoreDSN     string        // sqlite / mysql のDSN
	DataDir      string        // 展開済みのデータディレクトリ
	LogLevel     string        // ログレベル
	HistoryLimit int           // 履歴の取得件数
	TypingIdle   time.Duration // タイピング停止の判定時間
	RecentDMCap  int           // 最近のDM一覧の上限
	ToastTTL     time.Duration // 通知の表示時間
	HTTPTimeout  time.Duration // REST呼び出しのタイムアウト
}

// DevConfig は開発用バックエンドの設定を保持します
type DevConfig struct {
	Addr          string        // リッスンアドレス
	JWTSecret     string        // トークン署名鍵
	TokenTTL      time.Duration // 発行するトークンの有効期限
	AllowedOrigin []string      // CORSで許可するオリジン一覧
	SeedFile      string        // 初期ユーザー・ルームのJSON（任意）
	RedisAddr     string        // 空の場合はメモリに保存
}

// Load は .env と環境変数から設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	loadDotEnv()

	apiURL := strings.TrimRight(envOr("CHAT_API_URL", defaultAPIURL), "/")
	dataDir := expandPath(envOr("CHAT_DATA_DIR", defaultDataDir))

	c := Config{
		APIURL:       apiURL,
		RealtimeURL:  strings.TrimRight(envOr("CHAT_REALTIME_URL", apiURL), "/"),
		Transport:    envOr("CHAT_TRANSPORT", defaultTransport),
		Store:        envOr("CHAT_STORE", defaultStore),
		RedisAddr:    envOr("CHAT_REDIS_ADDR", defaultRedisAddr),
		StoreDSN:     os.Getenv("CHAT_STORE_DSN"),
		DataDir:      dataDir,
		LogLevel:     envOr("CHAT_LOG_LEVEL", defaultLogLevel),
		HistoryLimit: envInt("CHAT_HISTORY_LIMIT", defaultHistoryLimit),
		TypingIdle:   envMillis("CHAT_TYPING_IDLE_MS", defaultTypingIdleMS),
		RecentDMCap:  envInt("CHAT_RECENT_DM_CAP", defaultRecentDMCap),
		ToastTTL:     envMillis("CHAT_TOAST_TTL_MS", defaultToastTTLMS),
		HTTPTimeout:  time.Duration(envInt("CHAT_HTTP_TIMEOUT_SEC", defaultHTTPTimeout)) * time.Second,
	}
	if c.Store == "file" {
		c.Store = "sqlite"
		if c.StoreDSN == "" {
			c.StoreDSN = filepath.Join(dataDir, "chat.db")
		}
	}
	return c
}

// LoadDev は開発用バックエンドの設定を読み込みます
func LoadDev() DevConfig {
	loadDotEnv()
	return DevConfig{
		Addr:          envOr("CHATDEV_ADDR", defaultDevAddr),
		JWTSecret:     envOr("CHATDEV_JWT_SECRET", defaultDevJWTSecret),
		TokenTTL:      time.Duration(envInt("CHATDEV_TOKEN_TTL_MIN", defaultDevTokenTTL)) * time.Minute,
		AllowedOrigin: envCSV("CHATDEV_CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		SeedFile:      os.Getenv("CHATDEV_SEED_FILE"),
		RedisAddr:     os.Getenv("CHATDEV_REDIS_ADDR"),
	}
}

// loadDotEnv はカレントディレクトリの .env を読み込みます（存在しなければ何もしない）
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warningf("failed to load .env: %v", err)
	}
}

// expandPath は ~ をホームディレクトリに展開します
func expandPath(p string) string {
	expanded, err := homedir.Expand(filepath.Clean(p))
	if err != nil {
		log.Warningf("invalid path %s, using as is: %v", p, err)
		return p
	}
	return expanded
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			log.Warningf("invalid %s=%s, fallback to default (%d)", key, v, def)
			return def
		}
		return i
	}
	return def
}

// envMillis はミリ秒指定の環境変数を time.Duration として取得します
func envMillis(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Millisecond
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
