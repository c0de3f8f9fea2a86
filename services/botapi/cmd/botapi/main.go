package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"faceseek/pkg/bus"
	"faceseek/pkg/db"
	"faceseek/pkg/render"
	"faceseek/pkg/telemetry"
	"faceseek/services/botapi"
	"faceseek/services/ledger"
	"faceseek/services/orchestrator"
	"faceseek/services/preview"
	"faceseek/services/provider"
	"faceseek/services/session"
)

func main() {
	if err := run("botapi"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if days := envInt("EVENTS_RETENTION_DAYS", 90); days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		tag, err := db.Exec(ctx, pool, `DELETE FROM events WHERE created_at < $1`, cutoff)
		if err != nil {
			logger.Printf("ERROR prune events: %v", err)
		} else if tag.RowsAffected() > 0 {
			logger.Printf("INFO pruned %d events older than %d days", tag.RowsAffected(), days)
		}
	}

	orm, err := db.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect orm: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Printf("ERROR close orm: %v", err)
		}
	}()

	store, err := ledger.NewGormStore(orm)
	if err != nil {
		return fmt.Errorf("init ledger store: %w", err)
	}
	credits, err := ledger.New(store, ledger.Config{
		StartingFreeSearches: envInt("STARTING_FREE_SEARCHES", 1),
	})
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	natsURL := strings.TrimSpace(os.Getenv("NATS_URL"))
	if natsURL == "" {
		return errors.New("NATS_URL is required")
	}
	eventBus, err := bus.New(natsURL)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer eventBus.Close()

	var searcher orchestrator.Searcher
	switch name := envStr("SEARCH_PROVIDER", "facecheck"); name {
	case "facecheck":
		apiKey := strings.TrimSpace(os.Getenv("FACECHECK_API_KEY"))
		if apiKey == "" {
			return errors.New("FACECHECK_API_KEY is required")
		}
		searcher, err = provider.NewClient(apiKey)
		if err != nil {
			return fmt.Errorf("init search client: %w", err)
		}
	case "search4faces":
		apiKey := strings.TrimSpace(os.Getenv("SEARCH4FACES_API_KEY"))
		if apiKey == "" {
			return errors.New("SEARCH4FACES_API_KEY is required")
		}
		searcher, err = provider.NewS4FClient(apiKey)
		if err != nil {
			return fmt.Errorf("init search client: %w", err)
		}
	default:
		return fmt.Errorf("unknown SEARCH_PROVIDER %q", name)
	}

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	sessions := session.NewCache(
		time.Duration(envInt("SESSION_TTL_SECONDS", 1800))*time.Second,
		0,
	)
	defer sessions.Close()

	var names orchestrator.NameResolver
	if token := strings.TrimSpace(os.Getenv("VK_ACCESS_TOKEN")); token != "" {
		names = provider.NewVKLookup(token)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		FreeTierItems: envInt("FREE_TIER_ITEMS", 3),
		Demo:          os.Getenv("FACECHECK_DEMO") == "true",
	}, orchestrator.Deps{
		Ledger:    credits,
		Searcher:  searcher,
		Sessions:  sessions,
		Renderer:  renderer,
		Messenger: botapi.NewWebhookMessenger(os.Getenv("BOT_WEBHOOK_URL"), logger),
		Bus:       eventBus,
		Names:     names,
		Previews:  preview.NewRenderer(0, 0),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Close()

	api, err := botapi.New(orch, credits, eventBus, renderer, botapi.Config{
		Ready: func(ctx context.Context) error { return db.Ping(ctx, pool) },
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	routes, err := api.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	server := &http.Server{
		Addr:              envStr("LISTEN_ADDR", ":8080"),
		Handler:           middleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
