package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reading-tracker/config"
	"reading-tracker/googlebooks"
	"reading-tracker/library"
	"reading-tracker/logger"
	"reading-tracker/notify"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbPath, sessionPath string

	root := &cobra.Command{
		Use:           "reading-tracker",
		Short:         "Track the books you read and get reminded to read them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(dbPath, sessionPath)
			if err != nil {
				return err
			}
			return runREPL(cmd.Context(), cfg, log)
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides TRACKER_DB_PATH)")
	root.PersistentFlags().StringVar(&sessionPath, "session", "", "session file (overrides TRACKER_SESSION_PATH)")

	root.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Deliver reminders queued on RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(dbPath, sessionPath)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, log)
		},
	})
	return root
}

func setup(dbPath, sessionPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if sessionPath != "" {
		cfg.SessionPath = sessionPath
	}
	log := logger.NewSlog(logger.SlogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*library.Handle, *library.Database, error) {
	handle := library.NewHandle(cfg.DBPath, library.WithLogger(log))
	db, err := handle.Get(ctx)
	if err != nil {
		log.Error("open database failed", "path", cfg.DBPath, "error", err)
		fmt.Fprintln(os.Stderr, library.UserMessage(err))
		return nil, nil, err
	}
	return handle, db, nil
}

func runREPL(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	handle, db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer handle.Close()

	var scheduler library.ReminderScheduler
	if cfg.RabbitMQ.URL != "" {
		q, err := notify.DialQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName, log)
		if err != nil {
			log.Error("reminder queue unavailable", "error", err)
			return err
		}
		defer q.Close()
		scheduler = q
	} else {
		local := notify.NewLocalScheduler(func(m notify.Message) {
			fmt.Printf("\n🔔 %s %s\n> ", m.Title, m.Body)
		}, log)
		defer local.Stop()
		scheduler = local
	}

	catalog := googlebooks.NewClient(cfg.GoogleBooks.BaseURL, cfg.GoogleBooks.APIKey)
	mgr := library.NewLibraryManager(db, scheduler, catalog, log)
	if _, err := mgr.RescheduleAll(ctx); err != nil {
		log.Warn("could not reschedule reminders", "error", err)
	}

	r := &repl{
		ctx:      ctx,
		sc:       bufio.NewScanner(os.Stdin),
		mgr:      mgr,
		catalog:  catalog,
		sessions: library.NewSessionStore(cfg.SessionPath),
		language: cfg.GoogleBooks.Language,
		log:      log,
	}
	r.run()
	return nil
}

func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is not set")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer handle.Close()

	local := notify.NewLocalScheduler(nil, log)
	defer local.Stop()

	// Arm what is already stored before taking new jobs.
	if _, err := library.NewLibraryManager(db, local, nil, log).RescheduleAll(ctx); err != nil {
		return err
	}

	q, err := notify.DialQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName, log)
	if err != nil {
		return err
	}
	defer q.Close()
	log.Info("worker consuming", "queue", cfg.RabbitMQ.QueueName, "db", db.Path())

	if err := q.Consume(ctx, local); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
