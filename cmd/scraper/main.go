package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dkorolev/trademe-shop-scraper/internal/api"
	"github.com/dkorolev/trademe-shop-scraper/internal/auth"
	"github.com/dkorolev/trademe-shop-scraper/internal/config"
	"github.com/dkorolev/trademe-shop-scraper/internal/events"
	"github.com/dkorolev/trademe-shop-scraper/internal/fetch"
	"github.com/dkorolev/trademe-shop-scraper/internal/metrics"
	"github.com/dkorolev/trademe-shop-scraper/internal/pipeline"
	"github.com/dkorolev/trademe-shop-scraper/internal/ratelimit"
	"github.com/dkorolev/trademe-shop-scraper/internal/seeds"
	"github.com/dkorolev/trademe-shop-scraper/internal/session"
	"github.com/dkorolev/trademe-shop-scraper/internal/sink"
	"github.com/dkorolev/trademe-shop-scraper/internal/state"
	"github.com/dkorolev/trademe-shop-scraper/pkg/logger"
)

var version = "0.2.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "scraper",
		Short:   "Resumable shop listing scraper for trademe.co.nz",
		Version: version,
	}

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(resumeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func crawlCmd() *cobra.Command {
	var reuseSession bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Log in, read the seed list and crawl every shop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cookies, err := obtainCookies(cfg, reuseSession)
			if err != nil {
				slog.Error("no session credentials, cannot continue", "error", err)
				return err
			}

			shops, err := seeds.Load(cfg.Crawl.SeedFile)
			if err != nil {
				slog.Error("failed to load seed list", "file", cfg.Crawl.SeedFile, "error", err)
				return err
			}
			slog.Info("seed list loaded", "shops", len(shops))

			return run(cmd.Context(), cfg, cookies, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.Run(ctx, shops)
			})
		},
	}

	cmd.Flags().BoolVar(&reuseSession, "reuse-session", false,
		"reuse the saved credential snapshot instead of logging in")
	return cmd
}

func resumeCmd() *cobra.Command {
	var shopFile string
	var reuseSession bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume one interrupted shop from its snapshot file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := state.Load(shopFile)
			if err != nil {
				slog.Error("failed to load shop snapshot", "file", shopFile, "error", err)
				return err
			}
			slog.Info("resuming from snapshot",
				"shop", st.Name,
				"pending_pages", len(st.ListingPages),
				"pending_products", len(st.Products))

			cookies, err := obtainCookies(cfg, reuseSession)
			if err != nil {
				slog.Error("no session credentials, cannot continue", "error", err)
				return err
			}

			return run(cmd.Context(), cfg, cookies, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.ResumeShop(ctx, st)
			})
		},
	}

	cmd.Flags().StringVar(&shopFile, "shop-file", "", "path to the shop snapshot to resume")
	cmd.Flags().BoolVar(&reuseSession, "reuse-session", false,
		"reuse the saved credential snapshot instead of logging in")
	_ = cmd.MarkFlagRequired("shop-file")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

// obtainCookies runs the interactive login, or loads the last credential
// snapshot when the operator asked to skip it.
func obtainCookies(cfg *config.Config, reuseSession bool) ([]session.Cookie, error) {
	if reuseSession {
		cookies, err := session.Load(cfg.Crawl.SessionFile)
		if err != nil {
			return nil, fmt.Errorf("load session snapshot: %w", err)
		}
		slog.Info("session snapshot loaded", "cookies", len(cookies))
		return cookies, nil
	}
	return auth.Login(cfg.Auth, cfg.Site.BaseURL)
}

// run assembles the full stack around the pipeline and executes fn.
func run(parent context.Context, cfg *config.Config, cookies []session.Cookie,
	fn func(context.Context, *pipeline.Pipeline) error) error {

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	client, err := session.NewClient(cfg.Site.BaseURL, cfg.Site.Timeout, cookies)
	if err != nil {
		return fmt.Errorf("build http session: %w", err)
	}

	m := metrics.New()
	counters := fetch.NewCounters(cfg.Crawl.UnauthenticatedBudget)
	gate := fetch.NewGate(client, cookies, cfg.Auth.Identity, cfg.Crawl.SessionFile, cfg.Site.BaseURL, counters, m)

	slog.Info("checking authentication", "url", cfg.Site.AuthCheckURL)
	if !gate.CheckAuth(ctx, cfg.Site.AuthCheckURL) {
		slog.Error("session is not authenticated",
			"requests_issued", counters.RequestsIssued())
		return errors.New("authentication check failed")
	}

	sinks, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	runID := uuid.New().String()
	publisher := buildPublisher(cfg, runID)
	defer publisher.Close()

	p := pipeline.New(pipeline.Options{
		Gate:      gate,
		Store:     state.NewStore(cfg.Crawl.StateDir),
		Sink:      sinks,
		Publisher: publisher,
		Pacer:     ratelimit.NewJitterPacer(cfg.Crawl.PaceMin, cfg.Crawl.PaceMax),
		ShopPacer: ratelimit.NewJitterPacer(cfg.Crawl.ShopPauseMin, cfg.Crawl.ShopPauseMax),
		Metrics:   m,
		BaseURL:   cfg.Site.BaseURL,
		RunID:     runID,
	})

	if cfg.Status.Enabled {
		server := api.NewServer(cfg.Status.Addr, p, counters, m.Registry)
		go server.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	if err := fn(ctx, p); err != nil {
		slog.Error("run aborted",
			"requests_issued", counters.RequestsIssued(),
			"error", err)
		return err
	}
	return nil
}

func buildSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	csvSink := sink.NewCSVSink(cfg.Sink.CSVDir)

	if cfg.Sink.PostgresDSN == "" {
		slog.Info("no postgres sink configured, writing csv only", "dir", cfg.Sink.CSVDir)
		return sink.NewFallback(nil, csvSink), nil
	}

	pg, err := sink.NewPostgresSink(ctx, cfg.Sink.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres sink: %w", err)
	}
	return sink.NewFallback(pg, csvSink), nil
}

func buildPublisher(cfg *config.Config, runID string) *events.Publisher {
	if cfg.Events.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
	slog.Info("event publishing enabled", "stream", cfg.Events.Stream)
	return events.NewPublisher(client, cfg.Events.Stream, runID)
}
