package vault

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"vault-sentinel/internal/governance"
	"vault-sentinel/internal/ratelimit"
)

var (
	// ErrInvalidAmount indicates a zero amount.
	ErrInvalidAmount = errors.New("vault: invalid amount")
	// ErrInsufficientBalance indicates a withdrawal above the user's position.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	// ErrEmergencyModeActive indicates normal flow is suspended.
	ErrEmergencyModeActive = errors.New("vault: emergency mode active")
	// ErrNotInEmergency indicates an emergency-only call during normal
	// operation.
	ErrNotInEmergency = errors.New("vault: not in emergency mode")
)

// Config parameterises a vault instance.
type Config struct {
	ID            string
	Limits        ratelimit.Limits
	EmergencyCap  uint64
	Signers       []common.Address
	Threshold     int
	TimelockDelay time.Duration
}

// Option adjusts vault construction.
type Option func(*Vault)

// WithClock replaces the time source. Tests drive the withdrawal window and
// timelock through this.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// Vault is the custodial façade: user deposits and withdrawals bounded by the
// rate limiter, governance operations bounded by the consensus engine and
// timelock, and an emergency mode that suspends normal flow.
//
// Every state-changing method takes the vault's mutex; the instance behaves
// as a serialized state machine. Independent vaults share nothing and may be
// operated side by side.
type Vault struct {
	mu     sync.RWMutex
	id     string
	ledger Ledger
	limit  *ratelimit.Limiter
	gov    *governance.Engine
	sink   EventSink
	logger zerolog.Logger
	now    func() time.Time

	totalAssets  uint64
	positions    map[common.Address]uint64
	emergency    bool
	emergencyCap uint64
}

// New constructs a vault over the given ledger.
func New(cfg Config, ledger Ledger, sink EventSink, logger zerolog.Logger, opts ...Option) (*Vault, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("vault id is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger adapter is required")
	}

	gov, err := governance.NewEngine(cfg.Signers, cfg.Threshold, cfg.TimelockDelay)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		id:           cfg.ID,
		ledger:       ledger,
		limit:        ratelimit.New(cfg.Limits),
		gov:          gov,
		sink:         sink,
		logger:       logger.With().Str("component", "vault").Str("vault", cfg.ID).Logger(),
		now:          time.Now,
		positions:    make(map[common.Address]uint64),
		emergencyCap: cfg.EmergencyCap,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ID returns the vault identity.
func (v *Vault) ID() string {
	return v.id
}

// Deposit credits the user's position, subject to the per-tx deposit cap.
func (v *Vault) Deposit(ctx context.Context, user common.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.emergency {
		return ErrEmergencyModeActive
	}
	if err := v.limit.CheckDeposit(amount); err != nil {
		return err
	}

	total, carry := bits.Add64(v.totalAssets, amount, 0)
	if carry != 0 {
		return fmt.Errorf("total assets %d + %d: %w", v.totalAssets, amount, ratelimit.ErrArithmeticOverflow)
	}
	position, carry := bits.Add64(v.positions[user], amount, 0)
	if carry != 0 {
		return fmt.Errorf("position %d + %d: %w", v.positions[user], amount, ratelimit.ErrArithmeticOverflow)
	}

	if err := v.ledger.TransferIn(ctx, user, amount); err != nil {
		return fmt.Errorf("ledger transfer in: %w", err)
	}

	v.totalAssets = total
	v.positions[user] = position
	v.emit(ctx, Event{Kind: EventDeposit, Actor: user, Amount: amount})
	return nil
}

// Withdraw debits the user's position, subject to the per-tx withdrawal cap
// and the rolling daily limit. Window accounting commits only after the
// ledger transfer succeeds.
func (v *Vault) Withdraw(ctx context.Context, user common.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.emergency {
		return ErrEmergencyModeActive
	}
	if amount > v.positions[user] {
		return fmt.Errorf("withdraw %d from position %d: %w", amount, v.positions[user], ErrInsufficientBalance)
	}

	now := v.now()
	if err := v.limit.CheckWithdrawal(amount, now); err != nil {
		return err
	}

	if err := v.ledger.TransferOut(ctx, user, amount); err != nil {
		return fmt.Errorf("ledger transfer out: %w", err)
	}

	// Cannot fail: same amount and instant that CheckWithdrawal accepted.
	if err := v.limit.RecordWithdrawal(amount, now); err != nil {
		return err
	}
	v.totalAssets -= amount
	v.positions[user] -= amount
	v.emit(ctx, Event{Kind: EventWithdrawal, Actor: user, Amount: amount})
	return nil
}

// EmergencyShutdown halts normal flow. Any single authorized signer may call
// it; consensus is too slow for incident response. Idempotent.
func (v *Vault) EmergencyShutdown(ctx context.Context, signer common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.gov.IsSigner(signer) {
		return fmt.Errorf("shutdown by %s: %w", signer, governance.ErrNotAuthorizedSigner)
	}
	if v.emergency {
		return nil
	}

	v.emergency = true
	v.logger.Warn().Str("signer", signer.Hex()).Msg("emergency shutdown engaged")
	v.emit(ctx, Event{Kind: EventEmergencyShutdown, Actor: signer})
	return nil
}

// EmergencyWithdraw pays a user out while the vault is being wound down. It
// is bounded by the emergency cap and bypasses daily-window accounting.
func (v *Vault) EmergencyWithdraw(ctx context.Context, user common.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.emergency {
		return ErrNotInEmergency
	}
	if amount > v.emergencyCap {
		return fmt.Errorf("emergency withdrawal %d over cap %d: %w", amount, v.emergencyCap, ratelimit.ErrExceedsMaxTxLimit)
	}
	if amount > v.positions[user] {
		return fmt.Errorf("withdraw %d from position %d: %w", amount, v.positions[user], ErrInsufficientBalance)
	}

	if err := v.ledger.TransferOut(ctx, user, amount); err != nil {
		return fmt.Errorf("ledger transfer out: %w", err)
	}

	v.totalAssets -= amount
	v.positions[user] -= amount
	v.emit(ctx, Event{Kind: EventEmergencyWithdraw, Actor: user, Amount: amount})
	return nil
}

// Propose registers a governed operation. Signer-set changes, limit updates,
// and resuming normal operation all pass through here; there is no direct
// mutation path.
func (v *Vault) Propose(ctx context.Context, proposer common.Address, action governance.Action) (common.Hash, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	hash := action.Hash()
	_, existed := v.gov.Proposal(hash)

	hash, err := v.gov.Propose(action, proposer, v.now())
	if err != nil {
		return common.Hash{}, err
	}
	if !existed {
		v.emit(ctx, Event{Kind: EventProposalCreated, Actor: proposer, Proposal: hash})
	}
	return hash, nil
}

// SignProposal adds the signer's attestation and returns the new count.
func (v *Vault) SignProposal(ctx context.Context, signer common.Address, hash common.Hash) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	count, err := v.gov.Sign(hash, signer, v.now())
	if err != nil {
		return count, err
	}
	v.emit(ctx, Event{Kind: EventProposalSigned, Actor: signer, Proposal: hash})
	return count, nil
}

// ExecuteProposal applies a governed operation once its threshold is met and
// the timelock has elapsed. Execution is open to any caller; the signatures
// and the delay are the authorization.
func (v *Vault) ExecuteProposal(ctx context.Context, executor common.Address, hash common.Hash) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.gov.Execute(hash, v.now(), func(action governance.Action) error {
		return v.applyAction(ctx, action, hash)
	})
	if err != nil {
		return err
	}
	v.emit(ctx, Event{Kind: EventProposalExecuted, Actor: executor, Proposal: hash})
	return nil
}

func (v *Vault) applyAction(ctx context.Context, action governance.Action, hash common.Hash) error {
	switch action.Kind {
	case governance.ActionAddSigner:
		v.gov.AddSigner(action.Signer)
		v.emit(ctx, Event{Kind: EventSignerAdded, Actor: action.Signer, Proposal: hash})
	case governance.ActionRemoveSigner:
		if err := v.gov.RemoveSigner(action.Signer); err != nil {
			return err
		}
		v.emit(ctx, Event{Kind: EventSignerRemoved, Actor: action.Signer, Proposal: hash})
	case governance.ActionUpdateLimits:
		v.limit.SetLimits(action.Limits)
		v.emergencyCap = action.EmergencyCap
		v.emit(ctx, Event{Kind: EventLimitsUpdated, Proposal: hash})
	case governance.ActionResumeNormal:
		v.emergency = false
		v.emit(ctx, Event{Kind: EventResumedNormal, Proposal: hash})
	default:
		return fmt.Errorf("unknown governance action kind %d", action.Kind)
	}
	return nil
}

func (v *Vault) emit(ctx context.Context, ev Event) {
	if v.sink == nil {
		return
	}
	ev.VaultID = v.id
	ev.At = v.now()
	if err := v.sink.Emit(ctx, ev); err != nil {
		v.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("event sink failed")
	}
}

// Balance returns the user's current position. Positions are never deleted;
// a fully withdrawn user reads zero.
func (v *Vault) Balance(user common.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.positions[user]
}

// TotalAssets returns the pooled balance under custody.
func (v *Vault) TotalAssets() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalAssets
}

// EmergencyActive reports whether the vault is in emergency mode.
func (v *Vault) EmergencyActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.emergency
}

// EmergencyCap returns the per-tx bound on emergency withdrawals.
func (v *Vault) EmergencyCap() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.emergencyCap
}

// Limits returns the active rate limits.
func (v *Vault) Limits() ratelimit.Limits {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.limit.Limits()
}

// Signers returns the current signer set in admission order.
func (v *Vault) Signers() []common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gov.Signers()
}

// Threshold returns the required signature count.
func (v *Vault) Threshold() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gov.Threshold()
}

// SignatureCount reports collected signatures; zero for unknown hashes.
func (v *Vault) SignatureCount(hash common.Hash) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gov.SignatureCount(hash)
}

// ReadyAt reports the earliest execution time once the threshold is reached.
func (v *Vault) ReadyAt(hash common.Hash) (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gov.ReadyAt(hash)
}

// Snapshot captures the observability view the metrics feeder pushes into the
// risk oracle: pooled assets and the rolling daily outflow.
type Snapshot struct {
	VaultID     string
	TotalAssets uint64
	DailyVolume uint64
	Emergency   bool
	At          time.Time
}

// Snapshot returns a consistent point-in-time view of the vault.
func (v *Vault) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now := v.now()
	_, volume := v.limit.Window(now)
	return Snapshot{
		VaultID:     v.id,
		TotalAssets: v.totalAssets,
		DailyVolume: volume,
		Emergency:   v.emergency,
		At:          now,
	}
}
