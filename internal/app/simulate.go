package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"vault-sentinel/internal/alerting"
)

// SimulateAlert feeds a before/after TVL observation through a throwaway
// oracle and dispatches whatever alerts come out. Useful for verifying the
// notification channel end to end without touching the real vault.
func (a *App) SimulateAlert(ctx context.Context, tvlBefore, tvlAfter, apy decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	orc, err := a.newOracle()
	if err != nil {
		return err
	}

	updater := a.Config.Oracle.UpdaterAddresses()[0]
	vaultID := a.Config.Vault.ID
	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)

	if _, _, err := orc.UpdateMetrics(updater, vaultID, tvlBefore, decimal.Zero, apy, bucket.Add(-a.Config.Scheduler.Interval)); err != nil {
		return err
	}

	volume := tvlBefore.Sub(tvlAfter)
	if volume.IsNegative() {
		volume = decimal.Zero
	}
	m, raised, err := orc.UpdateMetrics(updater, vaultID, tvlAfter, volume, apy, bucket)
	if err != nil {
		return err
	}

	if len(raised) == 0 {
		a.Logger.Info().Str("risk_score", m.RiskScore.String()).Msg("simulated observation raised no alerts")
		return nil
	}

	for _, alert := range raised {
		note := alerting.Notification{
			AlertID:       alert.ID.String(),
			VaultID:       alert.VaultID,
			Severity:      alert.Severity.String(),
			Condition:     alert.Condition,
			RiskScore:     m.RiskScore,
			TVL:           m.TVL,
			RaisedAt:      alert.CreatedAt,
			Channels:      a.Config.Alerting.Channels,
			AdditionalMsg: "(simulated)",
		}
		if err := notifier.Notify(ctx, note); err != nil {
			return err
		}
	}
	return nil
}
