// Command hn-server serves Hacker News feeds, comment trees, exports and
// summaries over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hneveryday/hn-client/pkg/article"
	"github.com/hneveryday/hn-client/pkg/batch"
	"github.com/hneveryday/hn-client/pkg/client"
	"github.com/hneveryday/hn-client/pkg/config"
	"github.com/hneveryday/hn-client/pkg/feed"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/hneveryday/hn-client/pkg/logging"
	"github.com/hneveryday/hn-client/pkg/store"
	"github.com/hneveryday/hn-client/pkg/summarize"
	"github.com/hneveryday/hn-client/pkg/tree"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("hn-server failed")
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("hn-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", os.Getenv("HN_CONFIG"), "path to the YAML config file")
	addr := flags.String("addr", "", "listen address (overrides server.addr)")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (overrides log.level)")
	pretty := flags.Bool("pretty", false, "human-readable console logs")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		level, err := logging.ParseLevel(*logLevel)
		if err != nil {
			return err
		}
		cfg.Log.Level = level
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = *pretty
	}

	logger := logging.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Client.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Client.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	} else {
		logger.Info().Msg("Redis not configured - response cache disabled")
	}

	ccfg := client.DefaultConfig(rdb, cfg.Client.UserAgent)
	ccfg.BaseURL = cfg.Client.BaseURL
	ccfg.Timeout = cfg.Client.Timeout
	ccfg.ItemCacheTTL = cfg.Client.ItemCacheTTL
	ccfg.ListingCacheTTL = cfg.Client.ListingCacheTTL
	ccfg.MaxRetries = cfg.Client.MaxRetries

	api, err := client.New(ccfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer api.Close()

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if _, err := db.Cleanup(ctx, cfg.Store.RetentionDays); err != nil {
		logger.Warn().Err(err).Msg("Store housekeeping failed")
	}

	fetcher := batch.NewFetcher(api, cfg.Batch)
	srv := &server{
		api:        api,
		fetcher:    fetcher,
		loader:     tree.NewLoader(fetcher, cfg.Tree),
		store:      db,
		summarizer: summarize.New(cfg.Summarize),
		extractor:  article.New(cfg.Article),
		feedConfig: cfg.Feed,
		publicURL:  cfg.Server.PublicURL,
		logger:     logging.NewLogger("hn-server"),
		feeds:      make(map[item.Category]*feed.Controller),
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("user_agent", cfg.Client.UserAgent).
			Bool("summarizer", srv.summarizer.Enabled()).
			Msg("Starting hn-server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
