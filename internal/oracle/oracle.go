package oracle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnauthorizedUpdater indicates the caller is not in the oracle's
	// updater allowlist.
	ErrUnauthorizedUpdater = errors.New("oracle: unauthorized updater")
	// ErrUnauthorizedOperator indicates the caller may not resolve alerts.
	ErrUnauthorizedOperator = errors.New("oracle: unauthorized operator")
	// ErrAlertNotFound indicates no alert exists for the given id.
	ErrAlertNotFound = errors.New("oracle: alert not found")
	// ErrAlreadyResolved indicates the alert was acknowledged before.
	ErrAlreadyResolved = errors.New("oracle: alert already resolved")
)

// Severity ranks alert urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds tune the risk rule set.
type Thresholds struct {
	// MinTVL is the low-liquidity floor in token units.
	MinTVL decimal.Decimal
	// VolumeTVLRatio flags daily volume exceeding this multiple of TVL while
	// TVL sits under the floor.
	VolumeTVLRatio decimal.Decimal
	// MaxAPY is the implausible-yield ceiling, in percent.
	MaxAPY decimal.Decimal
	// TVLDropFraction flags a relative TVL drop versus the previous snapshot
	// (0.3 means a 30% drop). Sudden drains are the primary attack signature,
	// so rate of change is checked even when absolute values look fine.
	TVLDropFraction decimal.Decimal
}

// DefaultThresholds returns the deployment defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTVL:          decimal.NewFromInt(100_000),
		VolumeTVLRatio:  decimal.NewFromInt(3),
		MaxAPY:          decimal.NewFromInt(100),
		TVLDropFraction: decimal.RequireFromString("0.3"),
	}
}

// Metrics is the per-vault health snapshot.
type Metrics struct {
	VaultID     string
	TVL         decimal.Decimal
	DailyVolume decimal.Decimal
	APY         decimal.Decimal
	RiskScore   decimal.Decimal // 0 (calm) .. 100 (on fire)
	Healthy     bool
	UpdatedAt   time.Time
}

// Alert is a raised risk condition. Alerts never expire on their own; an
// operator has to acknowledge them so incidents are not silently dropped.
type Alert struct {
	ID         uuid.UUID
	VaultID    string
	Severity   Severity
	Condition  string
	Active     bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy common.Address
}

// Config parameterises the oracle.
type Config struct {
	// Updaters may push metrics. Distinct from the vault's signer set: a
	// compromised oracle feeder must not gain custody powers.
	Updaters []common.Address
	// Operators may resolve alerts. Defaults to Updaters when empty.
	Operators  []common.Address
	Thresholds Thresholds
}

// Oracle scores vault health from pushed metrics and manages the alert
// lifecycle. It holds no reference to any vault: a malfunctioning vault
// cannot block risk visibility, and a compromised oracle cannot halt custody.
type Oracle struct {
	mu         sync.RWMutex
	thresholds Thresholds
	updaters   map[common.Address]struct{}
	operators  map[common.Address]struct{}
	metrics    map[string]Metrics
	alerts     map[uuid.UUID]*Alert
	logger     zerolog.Logger
}

// New constructs an Oracle.
func New(cfg Config, logger zerolog.Logger) (*Oracle, error) {
	if len(cfg.Updaters) == 0 {
		return nil, fmt.Errorf("at least one updater is required")
	}

	o := &Oracle{
		thresholds: cfg.Thresholds,
		updaters:   make(map[common.Address]struct{}, len(cfg.Updaters)),
		operators:  make(map[common.Address]struct{}),
		metrics:    make(map[string]Metrics),
		alerts:     make(map[uuid.UUID]*Alert),
		logger:     logger.With().Str("component", "risk_oracle").Logger(),
	}
	for _, u := range cfg.Updaters {
		o.updaters[u] = struct{}{}
	}
	operators := cfg.Operators
	if len(operators) == 0 {
		operators = cfg.Updaters
	}
	for _, op := range operators {
		o.operators[op] = struct{}{}
	}
	return o, nil
}

type finding struct {
	condition string
	// ratio is how far past its threshold the metric sits; 1.0 means exactly
	// at the threshold, 2.0 means twice over.
	ratio decimal.Decimal
}

// UpdateMetrics ingests one observation for a vault, recomputes the risk
// score and health flag, and raises alerts for every rule the observation
// trips. It returns the stored snapshot and any newly raised alerts.
func (o *Oracle) UpdateMetrics(updater common.Address, vaultID string, tvl, dailyVolume, apy decimal.Decimal, now time.Time) (Metrics, []Alert, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.updaters[updater]; !ok {
		return Metrics{}, nil, fmt.Errorf("updater %s: %w", updater, ErrUnauthorizedUpdater)
	}

	prev, hadPrev := o.metrics[vaultID]
	findings := o.evaluate(tvl, dailyVolume, apy, prev, hadPrev)

	score := decimal.Zero
	healthy := true
	raised := make([]Alert, 0, len(findings))
	for _, f := range findings {
		contribution := f.ratio.Mul(decimal.NewFromInt(25))
		if ceiling := decimal.NewFromInt(50); contribution.GreaterThan(ceiling) {
			contribution = ceiling
		}
		score = score.Add(contribution)

		severity := severityFor(f.ratio)
		if severity >= SeverityWarning {
			healthy = false
		}

		alert := Alert{
			ID:        uuid.New(),
			VaultID:   vaultID,
			Severity:  severity,
			Condition: f.condition,
			Active:    true,
			CreatedAt: now,
		}
		o.alerts[alert.ID] = &alert
		raised = append(raised, alert)

		o.logger.Warn().
			Str("vault", vaultID).
			Str("severity", severity.String()).
			Str("condition", f.condition).
			Msg("risk alert raised")
	}
	hundred := decimal.NewFromInt(100)
	if score.GreaterThan(hundred) {
		score = hundred
	}

	m := Metrics{
		VaultID:     vaultID,
		TVL:         tvl,
		DailyVolume: dailyVolume,
		APY:         apy,
		RiskScore:   score,
		Healthy:     healthy,
		UpdatedAt:   now,
	}
	o.metrics[vaultID] = m
	return m, raised, nil
}

func (o *Oracle) evaluate(tvl, dailyVolume, apy decimal.Decimal, prev Metrics, hadPrev bool) []finding {
	var findings []finding
	t := o.thresholds

	// Low liquidity combined with volume far exceeding TVL.
	if tvl.LessThan(t.MinTVL) && tvl.IsPositive() {
		volumeCeiling := tvl.Mul(t.VolumeTVLRatio)
		if dailyVolume.GreaterThan(volumeCeiling) && volumeCeiling.IsPositive() {
			findings = append(findings, finding{
				condition: fmt.Sprintf("daily volume %s exceeds %sx of low TVL %s", dailyVolume, t.VolumeTVLRatio, tvl),
				ratio:     dailyVolume.Div(volumeCeiling),
			})
		}
	}

	// Implausible yield.
	if t.MaxAPY.IsPositive() && apy.GreaterThan(t.MaxAPY) {
		findings = append(findings, finding{
			condition: fmt.Sprintf("apy %s%% above plausibility ceiling %s%%", apy, t.MaxAPY),
			ratio:     apy.Div(t.MaxAPY),
		})
	}

	// Sudden TVL drop versus the previous snapshot.
	if hadPrev && prev.TVL.IsPositive() && t.TVLDropFraction.IsPositive() {
		drop := prev.TVL.Sub(tvl).Div(prev.TVL)
		if drop.GreaterThanOrEqual(t.TVLDropFraction) {
			findings = append(findings, finding{
				condition: fmt.Sprintf("tvl dropped %s%% since last snapshot (%s -> %s)", drop.Mul(decimal.NewFromInt(100)).StringFixed(1), prev.TVL, tvl),
				ratio:     drop.Div(t.TVLDropFraction),
			})
		}
	}

	return findings
}

func severityFor(ratio decimal.Decimal) Severity {
	if ratio.GreaterThanOrEqual(decimal.NewFromInt(2)) {
		return SeverityCritical
	}
	return SeverityWarning
}

// Metrics returns the latest snapshot for a vault.
func (o *Oracle) Metrics(vaultID string) (Metrics, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.metrics[vaultID]
	return m, ok
}

// ActiveAlerts lists unresolved alerts across all vaults, oldest first.
func (o *Oracle) ActiveAlerts() []Alert {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Alert, 0)
	for _, a := range o.alerts {
		if a.Active {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Alert returns a single alert by id.
func (o *Oracle) Alert(id uuid.UUID) (Alert, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	a, ok := o.alerts[id]
	if !ok {
		return Alert{}, fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	return *a, nil
}

// ResolveAlert acknowledges an alert. Resolution is explicit and permanent;
// a second resolve fails.
func (o *Oracle) ResolveAlert(operator common.Address, id uuid.UUID, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.operators[operator]; !ok {
		return fmt.Errorf("operator %s: %w", operator, ErrUnauthorizedOperator)
	}
	a, ok := o.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	if !a.Active {
		return fmt.Errorf("alert %s: %w", id, ErrAlreadyResolved)
	}

	a.Active = false
	a.ResolvedAt = &now
	a.ResolvedBy = operator
	o.logger.Info().Str("alert", id.String()).Str("operator", operator.Hex()).Msg("alert resolved")
	return nil
}
