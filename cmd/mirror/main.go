package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reading-tracker/config"
	"reading-tracker/logger"
	"reading-tracker/mirror"
	"reading-tracker/snapshot"
)

func main() {
	root := &cobra.Command{
		Use:          "mirror",
		Short:        "Serve a copy of the tracker database to the browser viewer",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), tokenCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		port       int
		skipImport bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Import a fresh snapshot, then serve it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Mirror.Port = port
			}
			log := logger.NewSlog(logger.SlogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
			return serve(cmd.Context(), cfg, skipImport, log)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides MIRROR_PORT)")
	cmd.Flags().BoolVar(&skipImport, "skip-import", false, "serve the existing copy without pulling a new one")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, skipImport bool, log *slog.Logger) error {
	path := filepath.Join(cfg.Mirror.DataDir, cfg.Mirror.DBName)

	if !skipImport {
		src, err := snapshot.SourceFromConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if _, err := snapshot.Import(ctx, src, cfg.Mirror.DataDir, cfg.Mirror.DBName, log); err != nil {
			log.Error("snapshot import failed", "error", err)
			return err
		}
	}
	if _, err := snapshot.Check(path); err != nil {
		log.Error("refusing to start without a usable copy", "path", path, "error", err)
		return fmt.Errorf("%w; run the snapshot command first", err)
	}

	store, err := mirror.Open(ctx, path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := mirror.NewHub(log)
	handler := mirror.NewServer(store, hub, mirror.Options{
		AuthSecret:     cfg.Mirror.AuthSecret,
		RateLimitRPS:   cfg.Mirror.RateLimitRPS,
		RateLimitBurst: cfg.Mirror.RateLimitBurst,
	}, log)
	srv := mirror.NewHTTPServer(":"+strconv.Itoa(cfg.Mirror.Port), handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server running", "url", fmt.Sprintf("http://localhost:%d", cfg.Mirror.Port), "auth", cfg.Mirror.AuthSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := mirror.IssueToken(cfg.Mirror.AuthSecret, subject, ttl)
			if err != nil {
				return fmt.Errorf("%w (set MIRROR_AUTH_SECRET)", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "viewer", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
