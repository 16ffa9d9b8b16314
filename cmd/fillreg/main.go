// Command fillreg is the form-fill learning registry service.
//
// Usage:
//
//	fillreg -config fillreg.yaml            # run with config file
//	fillreg -db fillreg.db                  # run with defaults
//	fillreg -db fillreg.db -aggregate       # one sweep and exit
//	fillreg -db fillreg.db -stats           # show stats and exit
//	fillreg -db fillreg.db -leaderboard     # print leaderboard HTML and exit
//	fillreg -db fillreg.db -mcp             # serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fillreg/fillreg"
)

func main() {
	configPath := flag.String("config", "", "path to fillreg.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	addr := flag.String("addr", ":8086", "HTTP listen address")
	runSweep := flag.Bool("aggregate", false, "run one aggregation sweep and exit")
	showStats := flag.Bool("stats", false, "show stats and exit")
	showBoard := flag.Bool("leaderboard", false, "print leaderboard HTML and exit")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio instead of HTTP")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		configPath: *configPath,
		dbPath:     *dbPath,
		addr:       *addr,
		runSweep:   *runSweep,
		showStats:  *showStats,
		showBoard:  *showBoard,
		serveMCP:   *serveMCP,
	}); err != nil {
		logger.Error("fillreg: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dbPath     string
	addr       string
	runSweep   bool
	showStats  bool
	showBoard  bool
	serveMCP   bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := resolveConfig(opts.configPath, opts.dbPath)
	if err != nil {
		return err
	}

	reg, err := fillreg.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer reg.Close()

	// One-shot: aggregation sweep.
	if opts.runSweep {
		return reg.AggregateAll(ctx)
	}

	// One-shot: stats.
	if opts.showStats {
		stats, err := reg.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	// One-shot: leaderboard HTML.
	if opts.showBoard {
		page, err := reg.GenerateLeaderboardHTML(ctx)
		if err != nil {
			return fmt.Errorf("leaderboard: %w", err)
		}
		_, err = os.Stdout.Write(page)
		return err
	}

	// MCP mode: tools on stdio, no HTTP.
	if opts.serveMCP {
		go reg.RunScheduler(ctx)
		srv := mcp.NewServer(&mcp.Implementation{Name: "fillreg", Version: "0.1.0"}, nil)
		reg.RegisterMCP(srv)
		logger.Info("fillreg: serving MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	// Daemon mode.
	go reg.RunScheduler(ctx)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/leaderboard.html", func(w http.ResponseWriter, req *http.Request) {
		page, err := reg.GenerateLeaderboardHTML(req.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	})
	r.Mount("/fillreg", http.StripPrefix("/fillreg", reg.Handler()))

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("fillreg: server starting", "addr", opts.addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("fillreg: server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("fillreg: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("fillreg: shutdown", "error", err)
	}
	logger.Info("fillreg: server stopped")
	return nil
}

func resolveConfig(configPath, dbPath string) (*fillreg.Config, error) {
	if configPath != "" {
		return fillreg.LoadConfigFile(configPath)
	}

	cfg := &fillreg.Config{}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	if cfg.DBPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fillreg -config <file> | -db <path> [-aggregate] [-stats] [-leaderboard] [-mcp]")
		os.Exit(1)
	}
	return cfg, nil
}
