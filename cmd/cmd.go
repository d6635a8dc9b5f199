package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/cloud"
	"github.com/anicoll/homeconnect-integration/internal/pkg/config"
	"github.com/anicoll/homeconnect-integration/internal/pkg/database"
	"github.com/anicoll/homeconnect-integration/internal/pkg/database/migration"
	"github.com/anicoll/homeconnect-integration/internal/pkg/homeconnect"
	"github.com/anicoll/homeconnect-integration/internal/pkg/influx"
	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/mqtt"
	"github.com/anicoll/homeconnect-integration/internal/pkg/publisher"
	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/anicoll/homeconnect-integration/internal/pkg/server"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errCron = errors.New("cron error")

func SyncCommand(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := cloud.New(cfg.CloudConfig(), cloud.StaticToken(cfg.HomeConnect.Token), cloud.WithLogger(logger.Named("cloud")))

	var store HistoryStore
	if cfg.Database.URL != "" {
		if err := migration.Migrate(cfg.Database.URL, cfg.Database.MigrationsFolder); err != nil {
			return err
		}
		db, err := database.Connect(sigCtx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
	}

	return run(sigCtx, cfg, transport, store, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// run syncs until ctx is cancelled or a background task fails. store may be
// nil when no database is configured.
func run(ctx context.Context, cfg *config.Config, transport reconcile.Transport, store HistoryStore, logger *zap.Logger) error {
	errorChan := make(chan error, 16)
	eg, ctx := errgroup.WithContext(ctx)

	client := homeconnect.New(cfg.ClientConfig(), transport, homeconnect.WithLogger(logger))
	defer client.Close()

	pub := publisher.New(client, publisher.WithLogger(logger.Named("publisher")))
	closeSinks, err := registerSinks(ctx, cfg, pub, store, logger)
	defer closeSinks()
	if err != nil {
		return err
	}
	pub.Subscribe()

	client.SubscribeDiagnostics(func(d model.Diagnostic) {
		logger.Warn("sync diagnostic", zap.String("kind", string(d.Kind)), zap.String("appliance", d.ApplianceID), zap.Error(d.Err))
	})
	client.OnStateChange(func(from, to reconcile.State) {
		logger.Info("sync state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	client.Start(ctx)

	eg.Go(func() error {
		return runCron(ctx, cfg, store, client, errorChan)
	})

	if cfg.Server.Addr != "" {
		handler, err := server.New(client, store).Handler(cfg.Server.APIKeyHash)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			return runServer(ctx, &http.Server{
				Handler:      handler,
				Addr:         cfg.Server.Addr,
				WriteTimeout: cfg.Server.WriteTimeout,
				ReadTimeout:  cfg.Server.ReadTimeout,
			})
		})
	}

	eg.Go(func() error {
		// handle any async errors from background jobs
		select {
		case err := <-errorChan:
			logger.Error("background job failed", zap.Error(err))
			return err
		case <-ctx.Done():
			logger.Info("context done")
			return nil
		}
	})

	return eg.Wait()
}

// registerSinks wires every configured sink into the publisher. The returned
// func closes them and is safe to call on error.
func registerSinks(ctx context.Context, cfg *config.Config, pub *publisher.Publisher, store HistoryStore, logger *zap.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if sink, ok := store.(publisher.Sink); ok {
		if err := pub.Register("postgres", sink); err != nil {
			return closeAll, err
		}
	}

	if cfg.Mqtt.Host != "" {
		svc := mqtt.New(
			mqtt.NewClient(cfg.Mqtt.Host, cfg.Mqtt.ClientID, cfg.Mqtt.Username, cfg.Mqtt.Password),
			mqtt.WithDiscoveryPrefix(cfg.Mqtt.DiscoveryPrefix),
			mqtt.WithLogger(logger.Named("mqtt")),
		)
		if err := svc.Connect(); err != nil {
			return closeAll, err
		}
		closers = append(closers, svc.Close)
		if err := pub.Register("mqtt", svc); err != nil {
			return closeAll, err
		}
	}

	if cfg.Influx.URL != "" {
		sink, err := influx.Connect(ctx, cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		if err != nil {
			return closeAll, err
		}
		closers = append(closers, sink.Close)
		if err := pub.Register("influx", sink); err != nil {
			return closeAll, err
		}
	}
	return closeAll, nil
}

func runCron(ctx context.Context, cfg *config.Config, store HistoryStore, sync resyncer, errChan chan error) error {
	c := cron.New()

	if store != nil {
		cleanup := func() error {
			deleted, err := store.Cleanup(ctx, cfg.Database.Retention)
			if err != nil {
				return err
			}
			zap.L().Info("cleaned up history", zap.Int64("deleted", deleted))
			return nil
		}
		if err := cleanup(); err != nil {
			return err
		}
		if _, err := c.AddFunc(cfg.CronSpec(cfg.Cron.CleanupSchedule), func() {
			if err := cleanup(); err != nil {
				zap.L().Error("error cleaning up database", zap.Error(err))
				errChan <- errors.Join(errCron, err)
			}
		}); err != nil {
			return err
		}
	}

	if cfg.Cron.ResyncSchedule != "" {
		if _, err := c.AddFunc(cfg.CronSpec(cfg.Cron.ResyncSchedule), func() {
			if err := sync.Resync(ctx); err != nil {
				zap.L().Warn("scheduled resync failed", zap.Error(err))
				return
			}
			zap.L().Info("scheduled resync requested")
		}); err != nil {
			return err
		}
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
