package app

import (
	"context"
	"errors"
	"time"

	"vault-sentinel/internal/storage"
)

// Replay re-scores stored metrics samples through a fresh oracle, for example
// after the risk thresholds changed. Samples are replayed in bucket order
// because the drain rule compares against the previous observation.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	start := opts.From.UTC()
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("replay range is empty, check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured, cannot replay")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: recomputed scores will not be written")
	}

	samples, err := store.ListSamplesBetween(ctx, a.Config.Vault.ID, start, end)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found in replay window")
		return nil
	}

	orc, err := a.newOracle()
	if err != nil {
		return err
	}
	updater := a.Config.Oracle.UpdaterAddresses()[0]

	processed := 0
	failed := 0
	for _, sample := range samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m, raised, err := orc.UpdateMetrics(updater, sample.VaultID, sample.TVL, sample.DailyVolume, sample.APY, sample.Bucket)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", sample.Bucket).Msg("replay failed")
			continue
		}

		if !opts.DryRun {
			rescored := storage.MetricsSample{
				VaultID:     m.VaultID,
				Bucket:      sample.Bucket,
				TVL:         m.TVL,
				DailyVolume: m.DailyVolume,
				APY:         m.APY,
				RiskScore:   m.RiskScore,
				Healthy:     m.Healthy,
				CreatedAt:   time.Now().UTC(),
			}
			if err := store.UpsertMetricsSample(ctx, rescored); err != nil {
				failed++
				a.Logger.Error().Err(err).Time("bucket", sample.Bucket).Msg("rewrite failed")
				continue
			}
		}

		if len(raised) > 0 {
			a.Logger.Info().Time("bucket", sample.Bucket).Int("alerts", len(raised)).
				Str("risk_score", m.RiskScore.String()).Msg("replayed bucket would raise alerts")
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("replay finished")
	if failed > 0 {
		return errors.New("some buckets failed to replay, check the logs")
	}
	return nil
}
