package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voice-diary/backend/internal/config"
	"github.com/zhouzirui/voice-diary/backend/internal/handler"
	"github.com/zhouzirui/voice-diary/backend/internal/service/ai"
	"github.com/zhouzirui/voice-diary/backend/internal/service/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
	"github.com/zhouzirui/voice-diary/backend/internal/service/sweeper"
	"github.com/zhouzirui/voice-diary/backend/internal/service/weekly"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := openStore(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	log.Printf("store initialized: driver=%s", cfg.Database.Driver)

	transcriber, err := newTranscriber(cfg)
	if err != nil {
		log.Fatalf("failed to initialize transcriber: %v", err)
	}

	reflector, analyzer, err := newLanguageServices(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize language model services: %v", err)
	}

	locker, closeLocker, err := newLocker(cfg.Lock)
	if err != nil {
		log.Fatalf("failed to initialize turn lock: %v", err)
	}
	defer closeLocker()

	diarySvc := diary.NewService(diary.Dependencies{
		Store:       st,
		Transcriber: transcriber,
		Reflector:   reflector,
		Analyzer:    analyzer,
		Locker:      locker,
	}, diary.Config{
		Greeting:                cfg.Diary.Greeting,
		EndingMinAssistantTurns: cfg.Diary.EndingMinAssistantTurns,
		MaxReplyRunes:           cfg.Diary.MaxReplyRunes,
	})
	weeklySvc := weekly.NewService(st, cfg.Weekly.Location)

	if cfg.Sweeper.Schedule != "" {
		sw := sweeper.New(st, diarySvc, cfg.Sweeper.Schedule, cfg.Sweeper.StaleAfter)
		if err := sw.Start(); err != nil {
			log.Fatalf("failed to start session sweeper: %v", err)
		}
		defer sw.Stop()
		log.Printf("session sweeper scheduled: %s (stale after %s)", cfg.Sweeper.Schedule, cfg.Sweeper.StaleAfter)
	} else {
		log.Println("session sweeper disabled")
	}

	router := handler.NewRouter(cfg.Server, st, diarySvc, weeklySvc)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return store.OpenPostgres(cfg.URL, cfg.Verbose)
	case config.DriverSQLite:
		return store.OpenSQLite(cfg.SQLitePath)
	case config.DriverMemory:
		log.Println("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newTranscriber(cfg *config.Config) (speech.Transcriber, error) {
	tc := cfg.Transcribe
	if cfg.DemoMode {
		tc.Provider = config.ProviderDemo
	}

	transcriber, err := tc.NewTranscriber()
	if err != nil {
		return nil, err
	}
	log.Printf("transcriber initialized: provider=%s", tc.Provider)
	return transcriber, nil
}

// newLanguageServices 创建回复生成与情绪分析，两者共用一个 ChatModel。
func newLanguageServices(ctx context.Context, cfg *config.Config) (ai.Reflector, emotion.Analyzer, error) {
	if cfg.DemoMode {
		log.Println("language model: demo mode, using scripted reflections and emotions")
		return ai.NewDemo(nil), emotion.NewDemo(nil), nil
	}
	if !cfg.AI.Enabled() {
		return nil, nil, errors.New("Ark 凭证未配置：请设置 ARK_API_KEY 与 Model，或开启 DEMO_MODE")
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, nil, err
	}

	reflector, err := ai.NewService(ctx, chatModel, ai.Options{
		ClosingPhrase: cfg.Diary.ClosingPhrase,
		MaxReplyRunes: cfg.Diary.MaxReplyRunes,
	})
	if err != nil {
		return nil, nil, err
	}

	analyzer, err := emotion.NewService(ctx, chatModel)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("language model initialized: model=%s", cfg.AI.Model)
	return reflector, analyzer, nil
}

func newLocker(cfg config.LockConfig) (diary.TurnLocker, func(), error) {
	if cfg.RedisURL == "" {
		return diary.NewMemoryLocker(), func() {}, nil
	}

	locker, err := diary.NewRedisLocker(cfg.RedisURL, cfg.TTL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("turn lock: redis (ttl %s)", cfg.TTL)
	return locker, func() { _ = locker.Close() }, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voice diary backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
