package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"PositionScanner/internal/config"
	"PositionScanner/internal/domain"
	"PositionScanner/internal/infrastructure/directory"
	"PositionScanner/internal/infrastructure/email"
	"PositionScanner/internal/infrastructure/natsbus"
	"PositionScanner/internal/infrastructure/parser"
	"PositionScanner/internal/infrastructure/scheduler"
	"PositionScanner/internal/infrastructure/storage"
	"PositionScanner/internal/infrastructure/telegram"
	"PositionScanner/internal/logging"
	"PositionScanner/internal/metrics"
	"PositionScanner/internal/ports"
	"PositionScanner/internal/scanner"
	"PositionScanner/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	metrics  *metrics.Recorder
	pipeline *usecase.Pipeline
	sources  []usecase.SourceBinding
	closers  []func() error
}

// Option adjusts how New assembles the application.
type Option func(*options)

type options struct {
	sender ports.Sender
}

// WithSender replaces the channel selected by notifications.channel.
func WithSender(s ports.Sender) Option {
	return func(o *options) { o.sender = s }
}

// New connects every configured adapter. Close releases them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.NewRecorder()}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context, o options) error {
	cfg := a.cfg

	if cfg.Database.DSN != "" {
		if !cfg.Database.SkipMigrations {
			if err := storage.RunMigrations(cfg.Database.DSN); err != nil {
				return err
			}
		}
		db, err := storage.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
	}

	ledger, err := storage.OpenLedger(ctx, storage.LedgerOptions{
		Driver:      cfg.Ledger.Driver,
		Path:        cfg.Ledger.Path,
		RedisURL:    cfg.Ledger.RedisURL,
		KeyPrefix:   cfg.Ledger.KeyPrefix,
		BusyTimeout: cfg.Ledger.BusyTimeout,
	}, a.db, a.logger.With("component", "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	// Registered before the database so the ledger is closed first.
	a.closers = append([]func() error{ledger.Close}, a.closers...)

	dir, err := a.directory()
	if err != nil {
		return err
	}

	sender := o.sender
	if sender == nil {
		if sender, err = a.sender(); err != nil {
			return err
		}
	}

	if a.sources, err = a.bindSources(); err != nil {
		return err
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Directory:       dir,
		Ledger:          ledger,
		Sender:          sender,
		Logger:          a.logger.With("component", "pipeline"),
		Metrics:         a.metrics,
		FilterWorkers:   cfg.Dispatch.FilterWorkers,
		DispatchWorkers: cfg.Dispatch.Workers,
		RatePerSec:      cfg.Dispatch.RatePerSec,
		LedgerTimeout:   cfg.Dispatch.LedgerTimeout,
		SendTimeout:     cfg.Dispatch.SendTimeout,
		FetchTimeout:    cfg.Dispatch.FetchTimeout,
	})
	return nil
}

func (a *Application) directory() (ports.SubscriberDirectory, error) {
	switch a.cfg.Subscribers.Kind {
	case config.DirectoryTable:
		return storage.NewSubscribersTable(a.db, a.cfg.Subscribers.Table)
	case config.DirectoryYAML:
		return directory.NewYAMLDirectory(a.cfg.Subscribers.Path, a.logger.With("component", "directory")), nil
	default:
		return nil, fmt.Errorf("unknown subscriber directory %q", a.cfg.Subscribers.Kind)
	}
}

func (a *Application) sender() (ports.Sender, error) {
	n := a.cfg.Notifications
	switch n.Channel {
	case config.ChannelEmail:
		return email.NewSender(email.Config{
			Host:     n.Email.Host,
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			FromName: n.Email.FromName,
			TLS:      n.Email.TLS,
		}, email.NewComposer(n.SiteTitle))
	case config.ChannelTelegram:
		return telegram.NewSender(n.Telegram.BotToken, n.Telegram.ChatID), nil
	case config.ChannelNATS:
		bus, err := natsbus.Connect(n.NATS.URL, n.NATS.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append([]func() error{bus.Close}, a.closers...)
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown notification channel %q", n.Channel)
	}
}

func (a *Application) bindSources() ([]usecase.SourceBinding, error) {
	registry := scanner.NewRegistry()
	registry.Register(parser.NewListingScanner(nil, parser.NewTextCleaner()))

	bindings := make([]usecase.SourceBinding, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		profile := domain.SourceProfile{
			Name:              src.Name,
			Label:             src.Label,
			TargetKeywords:    src.Target,
			ForbiddenKeywords: src.Forbidden,
		}

		var source ports.ItemSource
		switch src.Kind {
		case config.SourceTable:
			table, err := storage.NewPositionsTable(a.db, src.Name, src.TableName())
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", src.Name, err)
			}
			source = table
		case config.SourceListing:
			name := src.Scanner
			if name == "" {
				name = "listing"
			}
			req := scanner.Request{SourceName: src.Name, Options: src.Options}
			for _, p := range src.Pages {
				req.Pages = append(req.Pages, scanner.Page{Name: p.Name, URL: p.URL})
			}
			source = parser.NewStrategySource(registry, name, req, a.logger.With("component", "source", "source", src.Name))
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", src.Name, src.Kind)
		}
		bindings = append(bindings, usecase.SourceBinding{Profile: profile, Source: source})
	}
	return bindings, nil
}

// Run performs one pass over every source, or only the named one.
func (a *Application) Run(ctx context.Context, only string) ([]usecase.RunReport, error) {
	sources := a.sources
	if only != "" {
		sources = nil
		for _, b := range a.sources {
			if b.Profile.Name == only {
				sources = append(sources, b)
			}
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("unknown source %q", only)
		}
	}
	return a.pipeline.ProcessAll(ctx, sources)
}

// Serve runs the pipeline on the configured cron schedule and exposes metrics
// until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	sc := a.cfg.Scheduler
	if err := scheduler.Validate(sc.CronExpression); err != nil {
		return err
	}

	driver := scheduler.NewCronScheduler(sc.CronExpression, sc.Location(), sc.RunOnStart, a.logger.With("component", "cron"))
	runs := usecase.NewScheduler(driver, a.pipeline, func() []usecase.SourceBinding { return a.sources }, a.logger.With("component", "scheduler"))

	var srv *http.Server
	serveErr := make(chan error, 1)
	if addr := a.cfg.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	if err := runs.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("scheduler started", "cron", sc.CronExpression, "timezone", sc.Location().String(), "sources", len(a.sources))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		a.logger.Error("metrics endpoint failed", "error", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := runs.Stop(stopCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop scheduler: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(stopCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("stop metrics endpoint: %w", err))
		}
	}
	a.logger.Info("scheduler stopped")
	return runErr
}

// ImportSubscribers copies the subscribers of a YAML file into the
// subscribers table.
func (a *Application) ImportSubscribers(ctx context.Context, path string) (int, error) {
	table, err := storage.NewSubscribersTable(a.db, a.cfg.Subscribers.Table)
	if err != nil {
		return 0, err
	}
	subs, err := directory.NewYAMLDirectory(path, a.logger.With("component", "directory")).ListSubscribers(ctx)
	if err != nil {
		return 0, err
	}
	for i, s := range subs {
		if err := s.Validate(); err != nil {
			return i, err
		}
		if err := table.PutSubscriber(ctx, s); err != nil {
			return i, fmt.Errorf("import %s: %w", s.ID, err)
		}
	}
	return len(subs), nil
}

// Close releases the ledger, bus and database connections.
func (a *Application) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
