package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-alerts/internal/alerting"
	"price-alerts/internal/api"
	"price-alerts/internal/clock"
	"price-alerts/internal/config"
	"price-alerts/internal/evaluator"
	"price-alerts/internal/scheduler"
	"price-alerts/internal/service"
	"price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newEvaluator(c *components) *evaluator.Evaluator {
	return evaluator.New(evaluator.Options{
		DedupWindow:   a.Config.Alerting.DedupWindow,
		PriceExchange: a.Config.Broker.PriceExchange,
		AlertExchange: a.Config.Broker.AlertExchange,
	}, c.alerts, c.bus, clock.Real{}, c.metrics, a.Logger)
}

func (a *App) newScheduler(c *components) *scheduler.Scheduler {
	var jobs scheduler.JobStore = scheduler.NewMemoryJobStore()
	var locker scheduler.Locker
	if c.store != nil {
		jobs = storage.NewJobStore(c.store)
		if a.Config.Scheduler.UseAdvisoryLock {
			locker = c.store
		}
	}

	return scheduler.New(scheduler.Options{
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, jobs, locker, clock.Real{}, c.metrics, a.Logger)
}

// Run executes the long-running service: scheduled fetches, trigger evaluation,
// the optional notification relay and the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	var relay *alerting.Relay
	if notifier := a.newNotifier(); notifier != nil {
		relay = alerting.NewRelay(a.Config.Broker.AlertExchange, notifier, a.Logger)
	}

	svc := service.New(service.Options{
		FetchInterval: a.Config.Scheduler.FetchInterval,
	}, a.newScheduler(c), c.fetcher, a.newEvaluator(c), relay, c.bus, a.Logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return svc.Run(groupCtx)
	})

	if a.Config.HTTP.Enabled {
		router := api.NewRouter(c.fetcher, c.alerts, api.Options{
			Gatherer: c.registry,
			Checks:   c.checks,
		}, a.Logger)
		server := api.NewServer(a.Config.HTTP.Addr, a.Config.HTTP.ReadTimeout, router)

		group.Go(func() error {
			a.Logger.Info().Str("addr", server.Addr).Msg("http api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			timeout := a.Config.HTTP.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), timeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	a.Logger.Info().Msg("starting price alert service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price alert service stopped")
	return nil
}

// ListOptions configure the alerts listing.
type ListOptions struct {
	Owner string
}
