// chatdev はチャットクライアントの開発・結合テスト用のバックエンドです
// REST API・WebSocket・Socket.IO の3つの入り口を1つのポートで提供します
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	logging "github.com/op/go-logging"
	"github.com/redis/go-redis/v9"

	"github.com/Hola62/realtime-chat-app/internal/config"
	"github.com/Hola62/realtime-chat-app/internal/handlers"
	httpx "github.com/Hola62/realtime-chat-app/internal/http"
	"github.com/Hola62/realtime-chat-app/internal/repo"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

var log = logging.MustGetLogger("chatdev")

type options struct {
	Addr      string `short:"a" long:"addr" description:"listen address (overrides CHATDEV_ADDR)"`
	RedisAddr string `long:"redis" description:"redis address; in-memory storage when empty (overrides CHATDEV_REDIS_ADDR)"`
	Seed      string `long:"seed" description:"JSON file with initial users and rooms (overrides CHATDEV_SEED_FILE)"`
	Demo      int    `long:"demo" description:"generate this many demo users (password: \"password\")"`
	LogLevel  string `short:"l" long:"loglevel" description:"log level" default:"info"`
	LogDir    string `long:"logdir" description:"also write logs to a rotated file in this directory"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	closer, err := config.SetupLogging(opts.LogLevel, opts.LogDir, "chatdev", os.Stdout)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closer.Close()

	cfg := config.LoadDev()
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.RedisAddr != "" {
		cfg.RedisAddr = opts.RedisAddr
	}
	if opts.Seed != "" {
		cfg.SeedFile = opts.Seed
	}

	chatRepo, err := openRepo(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer chatRepo.Close()

	auth := service.NewAuthService(chatRepo, cfg.JWTSecret, cfg.TokenTTL)
	chatSvc := service.NewChatService(chatRepo)
	if err := seed(cfg.SeedFile, opts.Demo, auth, chatSvc); err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	hub := handlers.NewChatHub(chatSvc)
	router := httpx.NewRouter(httpx.Handlers{
		Auth:      handlers.NewAuthHandler(auth),
		Chat:      handlers.NewChatHandler(chatSvc, hub),
		WebSocket: handlers.NewWebSocketHandler(auth, hub),
		SocketIO:  handlers.NewSocketIOHandler(auth, chatSvc, hub),
	}, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown用のシグナルチャネル
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// サーバーを別goroutineで起動
	go func() {
		log.Infof("Listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// シャットダウンシグナルを待つ
	<-sigChan
	log.Info("Shutdown signal received, shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("server shutdown error: %v", err)
	}
	log.Info("Server stopped")
}

// openRepo は保存先を開きます（アドレスが空ならメモリ）
func openRepo(redisAddr string) (repo.ChatRepo, error) {
	if redisAddr == "" {
		log.Info("Using in-memory storage")
		return repo.NewMemoryChatRepo(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		PoolSize:     10,              // 接続プールサイズ
		MinIdleConns: 5,               // 最小アイドル接続数
		MaxRetries:   3,               // リトライ回数
		DialTimeout:  5 * time.Second, // 接続タイムアウト
		ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
		WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
		PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
	})
	// Redis接続確認
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	log.Infof("Connected to redis: addr=%s", redisAddr)
	return repo.NewRedisChatRepo(rdb), nil
}

func seed(path string, demo int, auth *service.AuthService, chat *service.ChatService) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if path != "" {
		s, err := service.LoadSeed(path)
		if err != nil {
			return err
		}
		if err := s.Apply(ctx, auth, chat); err != nil {
			return err
		}
	}
	if demo > 0 {
		s := service.DemoSeed(demo)
		if err := s.Apply(ctx, auth, chat); err != nil {
			return err
		}
		for _, u := range s.Users {
			log.Infof("Demo user: email=%s", u.Email)
		}
	}
	return nil
}
