// chatclient はチャットのコマンドラインクライアントです
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	logging "github.com/op/go-logging"

	"github.com/Hola62/realtime-chat-app/internal/chat"
	"github.com/Hola62/realtime-chat-app/internal/config"
	"github.com/Hola62/realtime-chat-app/internal/gateway"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/session"
	"github.com/Hola62/realtime-chat-app/internal/store"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

var log = logging.MustGetLogger("main")

type Login struct {
	Email    string `short:"e" long:"email" description:"account email" required:"true"`
	Password string `short:"p" long:"password" description:"account password (read from stdin when omitted)"`
}
type Logout struct{}
type Rooms struct{}
type Chat struct {
	Room string `short:"r" long:"room" description:"open this room (name or id) after connecting"`
}

var (
	loginCmd  Login
	logoutCmd Logout
	roomsCmd  Rooms
	chatCmd   Chat
)

var parser = flags.NewParser(nil, flags.Default)

func main() {
	parser.AddCommand("login",
		"log in and store the access token",
		"The login command authenticates against the chat API and stores the access token locally",
		&loginCmd)
	parser.AddCommand("logout",
		"forget the stored access token",
		"The logout command removes the locally stored access token",
		&logoutCmd)
	parser.AddCommand("rooms",
		"list chat rooms",
		"The rooms command prints the rooms available on the server",
		&roomsCmd)
	parser.AddCommand("chat",
		"start an interactive chat session",
		"The chat command connects to the realtime server and reads commands and messages from stdin",
		&chatCmd)

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}

// app はコマンド共通の設定・保存先・APIクライアントです
type app struct {
	cfg    config.Config
	local  *store.Local
	gw     *gateway.Client
	logger io.Closer
}

// setup は設定を読み込み、ログと保存先を準備します
// 対話モードではログを画面に出さずファイルにだけ書きます
func setup(interactive bool) (*app, error) {
	cfg := config.Load()
	var console io.Writer = os.Stderr
	if interactive {
		console = nil
	}
	logger, err := config.SetupLogging(cfg.LogLevel, cfg.DataDir, "chatclient", console)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	kv, err := store.Open(ctx, store.Options{
		Kind:      store.Kind(cfg.Store),
		RedisAddr: cfg.RedisAddr,
		DSN:       cfg.StoreDSN,
		Namespace: "chatclient",
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{
		cfg:    cfg,
		local:  store.NewLocal(kv),
		gw:     gateway.New(cfg.APIURL, cfg.HTTPTimeout),
		logger: logger,
	}, nil
}

func (a *app) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.HTTPTimeout)
}

// authorize は保存済みトークンを API クライアントに設定します
func (a *app) authorize(ctx context.Context) error {
	token, err := a.local.Token(ctx)
	if errors.Is(err, store.ErrNotFound) || token == "" {
		return errors.New("not logged in, run `chatclient login` first")
	}
	if err != nil {
		return err
	}
	a.gw.SetToken(token)
	return nil
}

func (x *Login) Execute(args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.logger.Close()
	defer a.local.Close()

	password := x.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}

	ctx, cancel := a.ctx()
	defer cancel()
	res, err := a.gw.Login(ctx, x.Email, password)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			return errors.New("invalid email or password")
		}
		return err
	}
	if _, err := session.ParseToken(res.AccessToken, time.Now()); err != nil {
		return fmt.Errorf("server returned an unusable token: %w", err)
	}
	if err := a.local.SetToken(ctx, res.AccessToken); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", res.User.DisplayName())
	return nil
}

func (x *Logout) Execute(args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.logger.Close()
	defer a.local.Close()

	ctx, cancel := a.ctx()
	defer cancel()
	if err := a.local.ClearToken(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func (x *Rooms) Execute(args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.logger.Close()
	defer a.local.Close()

	ctx, cancel := a.ctx()
	defer cancel()
	if err := a.authorize(ctx); err != nil {
		return err
	}
	rooms, err := a.gw.ListRooms(ctx)
	if err != nil {
		return err
	}
	console := view.NewConsole(os.Stdout, a.cfg.ToastTTL)
	defer console.Close()
	console.ShowRooms(rooms)
	return nil
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// checkServer は接続前にバックエンドの死活を確認します
func checkServer(ctx context.Context, hc healthChecker, apiURL string) error {
	if err := hc.Health(ctx); err != nil {
		log.Warningf("Health check failed: url=%s, error=%v", apiURL, err)
		return fmt.Errorf("server unreachable at %s: %w", apiURL, err)
	}
	return nil
}

func (x *Chat) Execute(args []string) error {
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.logger.Close()

	hctx, cancel := a.ctx()
	err = checkServer(hctx, a.gw, a.cfg.APIURL)
	cancel()
	if err != nil {
		a.local.Close()
		return err
	}

	tr, err := realtime.NewTransport(a.cfg.Transport, a.cfg.RealtimeURL)
	if err != nil {
		a.local.Close()
		return err
	}
	console := view.NewConsole(os.Stdout, a.cfg.ToastTTL)
	defer console.Close()

	engine := chat.New(chat.Options{
		Gateway:      a.gw,
		Store:        a.local,
		Transport:    tr,
		Renderer:     console,
		HistoryLimit: a.cfg.HistoryLimit,
		RecentDMCap:  a.cfg.RecentDMCap,
		TypingIdle:   a.cfg.TypingIdle,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Engine stopped: %v", err)
		}
	}()
	// エンジンを閉じると保存先も閉じられる
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	log.Infof("Chat session started: transport=%s, url=%s", a.cfg.Transport, a.cfg.RealtimeURL)

	r := &repl{engine: engine, gw: a.gw, out: os.Stdout}
	if x.Room != "" {
		if err := r.run(ctx, "/join "+x.Room); err != nil {
			fmt.Fprintln(os.Stdout, err)
		}
	}
	return r.loop(ctx, os.Stdin)
}
