package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-sentinel/internal/alerting"
	"vault-sentinel/internal/config"
	"vault-sentinel/internal/oracle"
	"vault-sentinel/internal/scheduler"
	"vault-sentinel/internal/storage"
	"vault-sentinel/internal/vault"
)

// APYSource reports the current yield for a vault. Yield computation itself
// is out of scope; the feeder only forwards the number into the oracle.
type APYSource interface {
	CurrentAPY(ctx context.Context, vaultID string) (decimal.Decimal, error)
}

// StaticAPY always reports the same yield. Used when no external source is
// wired.
type StaticAPY decimal.Decimal

// CurrentAPY returns the fixed value.
func (s StaticAPY) CurrentAPY(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(s), nil
}

// Service is the metrics feeder: on every scheduler tick it snapshots each
// vault, pushes the observation into the risk oracle, persists the sample,
// and dispatches any newly raised alerts.
type Service struct {
	scheduler *scheduler.Scheduler
	vaults    []*vault.Vault
	oracle    *oracle.Oracle
	apy       APYSource
	metrics   storage.MetricsStore
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	updater  common.Address
	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the feeder service. The updater identity must be in the
// oracle's allowlist.
func New(cfg *config.Config, sched *scheduler.Scheduler, vaults []*vault.Vault, orc *oracle.Oracle, apy APYSource, metrics storage.MetricsStore, alerts storage.AlertStore, notifier alerting.Notifier, updater common.Address, logger zerolog.Logger) *Service {
	if apy == nil {
		apy = StaticAPY(decimal.Zero)
	}

	var locker storage.AdvisoryLocker
	if l, ok := metrics.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		vaults:    vaults,
		oracle:    orc,
		apy:       apy,
		metrics:   metrics,
		alerts:    alerts,
		notifier:  notifier,
		logger:    logger.With().Str("component", "feeder").Logger(),
		updater:   updater,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned feeding loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket feeds one observation bucket for every vault.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, v := range s.vaults {
		if err := s.feedVault(ctx, v, bucket); err != nil {
			s.logger.Error().Err(err).Str("vault", v.ID()).Time("bucket", bucket).Msg("feeding vault failed")
		}
	}
	return nil
}

func (s *Service) feedVault(ctx context.Context, v *vault.Vault, bucket time.Time) error {
	snap := v.Snapshot()

	apy, err := s.apy.CurrentAPY(ctx, snap.VaultID)
	if err != nil {
		return fmt.Errorf("fetch apy: %w", err)
	}

	tvl := decimal.NewFromUint64(snap.TotalAssets)
	volume := decimal.NewFromUint64(snap.DailyVolume)

	m, raised, err := s.oracle.UpdateMetrics(s.updater, snap.VaultID, tvl, volume, apy, bucket)
	if err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}

	if s.metrics != nil {
		sample := storage.MetricsSample{
			VaultID:     m.VaultID,
			Bucket:      bucket,
			TVL:         m.TVL,
			DailyVolume: m.DailyVolume,
			APY:         m.APY,
			RiskScore:   m.RiskScore,
			Healthy:     m.Healthy,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.metrics.UpsertMetricsSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert metrics sample")
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Str("vault", m.VaultID).
		Str("risk_score", m.RiskScore.String()).
		Bool("healthy", m.Healthy).
		Msg("metrics recorded")

	for _, alert := range raised {
		s.handleAlert(ctx, alert, m)
	}
	return nil
}

func (s *Service) handleAlert(ctx context.Context, alert oracle.Alert, m oracle.Metrics) {
	if s.alerts != nil {
		record := storage.AlertRecord{
			ID:        alert.ID,
			VaultID:   alert.VaultID,
			Severity:  alert.Severity.String(),
			Condition: alert.Condition,
			Active:    true,
			CreatedAt: alert.CreatedAt,
		}
		if err := s.alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("alert", alert.ID.String()).Msg("failed to persist alert record")
		}
	}

	if !s.alertsOn || s.notifier == nil {
		return
	}

	note := alerting.Notification{
		AlertID:   alert.ID.String(),
		VaultID:   alert.VaultID,
		Severity:  alert.Severity.String(),
		Condition: alert.Condition,
		RiskScore: m.RiskScore,
		TVL:       m.TVL,
		RaisedAt:  alert.CreatedAt,
		Channels:  s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("alert", alert.ID.String()).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
