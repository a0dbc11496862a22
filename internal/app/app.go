package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-sentinel/internal/alerting"
	"vault-sentinel/internal/config"
	"vault-sentinel/internal/oracle"
	"vault-sentinel/internal/ratelimit"
	"vault-sentinel/internal/scheduler"
	"vault-sentinel/internal/service"
	"vault-sentinel/internal/storage"
	"vault-sentinel/internal/vault"
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

func (a *App) newVault(sink vault.EventSink) (*vault.Vault, error) {
	vc := a.Config.Vault
	return vault.New(vault.Config{
		ID: vc.ID,
		Limits: ratelimit.Limits{
			MaxDepositPerTx:    vc.MaxDepositPerTx,
			MaxWithdrawalPerTx: vc.MaxWithdrawalPerTx,
			DailyLimit:         vc.DailyLimit,
		},
		EmergencyCap:  vc.EmergencyCap,
		Signers:       vc.SignerAddresses(),
		Threshold:     vc.Threshold,
		TimelockDelay: vc.TimelockDelay,
	}, vault.NopLedger{}, sink, a.Logger)
}

func (a *App) newOracle() (*oracle.Oracle, error) {
	oc := a.Config.Oracle
	return oracle.New(oracle.Config{
		Updaters:   oc.UpdaterAddresses(),
		Operators:  oc.OperatorAddresses(),
		Thresholds: a.thresholds(),
	}, a.Logger)
}

func (a *App) thresholds() oracle.Thresholds {
	oc := a.Config.Oracle
	return oracle.Thresholds{
		MinTVL:          decimal.NewFromFloat(oc.MinTVL),
		VolumeTVLRatio:  decimal.NewFromFloat(oc.VolumeTVLRatio),
		MaxAPY:          decimal.NewFromFloat(oc.MaxAPY),
		TVLDropFraction: decimal.NewFromFloat(oc.TVLDropFraction),
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running sentinel service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	sinks := vault.MultiSink{vault.NewLogSink(a.Logger)}
	var metricsStore storage.MetricsStore
	var alertStore storage.AlertStore
	if store != nil {
		sinks = append(sinks, service.NewEventPersister(store, a.Logger))
		metricsStore = store
		alertStore = store
	}

	v, err := a.newVault(sinks)
	if err != nil {
		return err
	}

	orc, err := a.newOracle()
	if err != nil {
		return err
	}

	notifier := a.newNotifier()
	updater := a.Config.Oracle.UpdaterAddresses()[0]

	svc := service.New(a.Config, sched, []*vault.Vault{v}, orc, nil, metricsStore, alertStore, notifier, updater, a.Logger)

	a.Logger.Info().Msg("starting sentinel service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sentinel service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical metrics samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions configure the risk-score replay job.
type ReplayOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
