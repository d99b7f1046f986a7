// Command anticheat-inspect serves stored detection runs over HTTP and
// manages the results database schema.
//
//	anticheat-inspect [flags] [serve]
//	anticheat-inspect [flags] migrate <action> [args]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/anticheat.report/internal/config"
	"github.com/banshee-data/anticheat.report/internal/db"
	"github.com/banshee-data/anticheat.report/internal/inspect"
	"github.com/banshee-data/anticheat.report/internal/monitoring"
	"github.com/banshee-data/anticheat.report/internal/version"
)

var flagKeys = map[string]string{
	"db":     "db_path",
	"listen": "listen",
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

type invocation struct {
	cfg         *config.Config
	command     string
	args        []string
	showVersion bool
}

func parseArgs(args []string, stderr io.Writer) (*invocation, error) {
	fs := flag.NewFlagSet("anticheat-inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	def := config.Default()

	configFile := fs.String("config", "", "Optional YAML or JSON config file")
	showVersion := fs.Bool("version", false, "Print version information and exit")
	fs.String("db", "", "Results database path")
	fs.String("listen", def.Listen, "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	inv := &invocation{command: "serve", showVersion: *showVersion}
	if *showVersion {
		return inv, nil
	}
	if rest := fs.Args(); len(rest) > 0 {
		inv.command, inv.args = rest[0], rest[1:]
	}
	switch inv.command {
	case "serve":
		if len(inv.args) > 0 {
			return nil, fmt.Errorf("unexpected arguments: %v", inv.args)
		}
	case "migrate":
	default:
		return nil, fmt.Errorf("unknown command %q (want serve or migrate)", inv.command)
	}

	cfg, err := config.Load(config.LoadOptions{
		File:      *configFile,
		Overrides: config.FlagOverrides(fs, flagKeys),
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		return nil, errors.New("a results database is required (-db or db_path)")
	}
	inv.cfg = cfg
	return inv, nil
}

// newHandler wires the inspection routes for an open database.
func newHandler(database *db.DB, logf monitoring.LogFunc) (http.Handler, error) {
	srv := inspect.NewServer(database, logf)
	mux, err := srv.ServeMux()
	if err != nil {
		return nil, err
	}
	return srv.LoggingMiddleware(mux), nil
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logf monitoring.LogFunc) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open results db: %w", err)
	}
	defer database.Close()

	handler, err := newHandler(database, logf)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Infof(logf, "Serving %s on http://%s", cfg.DBPath, cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	monitoring.Infof(logf, "Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf(logf, "HTTP server shutdown error: %v", err)
		return server.Close()
	}
	return nil
}

func main() {
	inv, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Printf("[E] %v", err)
		os.Exit(2)
	}
	if inv.showVersion {
		fmt.Printf("anticheat-inspect %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	switch inv.command {
	case "migrate":
		if err := db.RunMigrateCommand(inv.args, inv.cfg.DBPath, os.Stdout); err != nil {
			log.Printf("[E] %v", err)
			os.Exit(1)
		}
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, inv.cfg, monitoring.Logf); err != nil {
			log.Printf("[E] %v", err)
			stop()
			os.Exit(1)
		}
	}
}
