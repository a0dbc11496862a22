package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-sentinel/internal/governance"
	"vault-sentinel/internal/ratelimit"
)

var (
	signer1 = common.HexToAddress("0x0000000000000000000000000000000000000001")
	signer2 = common.HexToAddress("0x0000000000000000000000000000000000000002")
	signer3 = common.HexToAddress("0x0000000000000000000000000000000000000003")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) kinds() []EventKind {
	out := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

type failingLedger struct {
	err error
}

func (l failingLedger) TransferIn(context.Context, common.Address, uint64) error  { return l.err }
func (l failingLedger) TransferOut(context.Context, common.Address, uint64) error { return l.err }

func testConfig() Config {
	return Config{
		ID: "vault-1",
		Limits: ratelimit.Limits{
			MaxDepositPerTx:    5_000,
			MaxWithdrawalPerTx: 2_000,
			DailyLimit:         10_000,
		},
		EmergencyCap:  500,
		Signers:       []common.Address{signer1, signer2, signer3},
		Threshold:     2,
		TimelockDelay: 24 * time.Hour,
	}
}

func newTestVault(t *testing.T, cfg Config, ledger Ledger) (*Vault, *recordingSink, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	sink := &recordingSink{}
	if ledger == nil {
		ledger = NopLedger{}
	}
	v, err := New(cfg, ledger, sink, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	return v, sink, clock
}

func TestDepositAndWithdraw(t *testing.T) {
	v, sink, _ := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 3_000))
	require.NoError(t, v.Deposit(ctx, bob, 1_000))
	assert.Equal(t, uint64(3_000), v.Balance(alice))
	assert.Equal(t, uint64(4_000), v.TotalAssets())

	require.NoError(t, v.Withdraw(ctx, alice, 1_500))
	assert.Equal(t, uint64(1_500), v.Balance(alice))
	assert.Equal(t, uint64(2_500), v.TotalAssets())

	assert.Equal(t, []EventKind{EventDeposit, EventDeposit, EventWithdrawal}, sink.kinds())
}

func TestZeroAmountRejected(t *testing.T) {
	v, _, _ := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.ErrorIs(t, v.Deposit(ctx, alice, 0), ErrInvalidAmount)
	require.ErrorIs(t, v.Withdraw(ctx, alice, 0), ErrInvalidAmount)
}

func TestDepositPerTxCapLeavesStateUntouched(t *testing.T) {
	v, sink, _ := newTestVault(t, testConfig(), nil)

	err := v.Deposit(context.Background(), alice, 6_000)
	require.ErrorIs(t, err, ratelimit.ErrExceedsMaxTxLimit)
	assert.Zero(t, v.TotalAssets())
	assert.Empty(t, sink.events)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	v, _, _ := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 1_000))
	err := v.Withdraw(ctx, alice, 1_001)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(1_000), v.Balance(alice))
}

func TestWithdrawDailyLimit(t *testing.T) {
	v, _, clock := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, v.Deposit(ctx, alice, 5_000))
	}

	// Five 2,000 withdrawals consume the 10,000 daily budget exactly.
	for i := 0; i < 5; i++ {
		require.NoError(t, v.Withdraw(ctx, alice, 2_000))
		clock.Advance(time.Minute)
	}

	err := v.Withdraw(ctx, alice, 1)
	require.ErrorIs(t, err, ratelimit.ErrExceedsDailyLimit)

	// After the window rolls over, withdrawals flow again.
	clock.Advance(25 * time.Hour)
	require.NoError(t, v.Withdraw(ctx, alice, 2_000))
}

func TestLedgerFailureAbortsDeposit(t *testing.T) {
	boom := errors.New("rpc unavailable")
	v, sink, _ := newTestVault(t, testConfig(), failingLedger{err: boom})

	err := v.Deposit(context.Background(), alice, 100)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, v.TotalAssets())
	assert.Zero(t, v.Balance(alice))
	assert.Empty(t, sink.events)
}

func TestLedgerFailureAbortsWithdrawal(t *testing.T) {
	boom := errors.New("rpc unavailable")
	ledger := &switchableLedger{}
	v, _, _ := newTestVault(t, testConfig(), ledger)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 2_000))

	ledger.err = boom
	err := v.Withdraw(ctx, alice, 1_000)
	require.ErrorIs(t, err, boom)

	// No partial debit and no window accrual.
	assert.Equal(t, uint64(2_000), v.Balance(alice))
	snap := v.Snapshot()
	assert.Zero(t, snap.DailyVolume)
}

type switchableLedger struct {
	err error
}

func (l *switchableLedger) TransferIn(context.Context, common.Address, uint64) error {
	return l.err
}

func (l *switchableLedger) TransferOut(context.Context, common.Address, uint64) error {
	return l.err
}

func TestEmergencyShutdownFlow(t *testing.T) {
	v, sink, _ := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 5_000))

	// Only signers may halt the vault.
	err := v.EmergencyShutdown(ctx, alice)
	require.ErrorIs(t, err, governance.ErrNotAuthorizedSigner)

	require.NoError(t, v.EmergencyShutdown(ctx, signer1))
	assert.True(t, v.EmergencyActive())

	// Repeating the shutdown is a no-op success.
	require.NoError(t, v.EmergencyShutdown(ctx, signer2))

	// Normal flow is suspended for everyone.
	require.ErrorIs(t, v.Deposit(ctx, alice, 100), ErrEmergencyModeActive)
	require.ErrorIs(t, v.Withdraw(ctx, alice, 100), ErrEmergencyModeActive)

	// Emergency withdrawals work up to the emergency cap, beyond fails.
	require.NoError(t, v.EmergencyWithdraw(ctx, alice, 500))
	err = v.EmergencyWithdraw(ctx, alice, 501)
	require.ErrorIs(t, err, ratelimit.ErrExceedsMaxTxLimit)
	assert.Equal(t, uint64(4_500), v.Balance(alice))

	kinds := sink.kinds()
	assert.Contains(t, kinds, EventEmergencyShutdown, "shutdown must be observable")
	assert.Contains(t, kinds, EventEmergencyWithdraw)
}

func TestEmergencyWithdrawRequiresEmergency(t *testing.T) {
	v, _, _ := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 1_000))
	require.ErrorIs(t, v.EmergencyWithdraw(ctx, alice, 100), ErrNotInEmergency)
}

func TestEmergencyWithdrawBypassesDailyWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.DailyLimit = 1_000
	cfg.EmergencyCap = 900
	v, _, _ := newTestVault(t, cfg, nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 2_000))
	require.NoError(t, v.Withdraw(ctx, alice, 1_000)) // daily budget spent
	require.NoError(t, v.EmergencyShutdown(ctx, signer1))

	// Emergency cap, not the exhausted window, is the only bound.
	require.NoError(t, v.EmergencyWithdraw(ctx, alice, 900))
}

func TestResumeNormalRequiresFullPipeline(t *testing.T) {
	v, _, clock := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 1_000))
	require.NoError(t, v.EmergencyShutdown(ctx, signer1))

	hash, err := v.Propose(ctx, signer1, governance.ResumeNormal())
	require.NoError(t, err)

	_, err = v.SignProposal(ctx, signer1, hash)
	require.NoError(t, err)

	// One signature is not consensus.
	err = v.ExecuteProposal(ctx, signer1, hash)
	require.ErrorIs(t, err, governance.ErrInsufficientSignatures)

	count, err := v.SignProposal(ctx, signer2, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Threshold reached but the timelock still runs.
	err = v.ExecuteProposal(ctx, signer1, hash)
	require.ErrorIs(t, err, governance.ErrTimelockNotExpired)
	assert.True(t, v.EmergencyActive())

	clock.Advance(24*time.Hour + time.Second)
	require.NoError(t, v.ExecuteProposal(ctx, signer1, hash))
	assert.False(t, v.EmergencyActive())

	// Normal flow is back; the proposal is spent.
	require.NoError(t, v.Deposit(ctx, bob, 100))
	err = v.ExecuteProposal(ctx, signer1, hash)
	require.ErrorIs(t, err, governance.ErrAlreadyExecuted)
}

func TestGovernedLimitUpdate(t *testing.T) {
	v, sink, clock := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	newLimits := ratelimit.Limits{
		MaxDepositPerTx:    1_000,
		MaxWithdrawalPerTx: 500,
		DailyLimit:         2_000,
	}
	hash, err := v.Propose(ctx, signer2, governance.UpdateLimits(newLimits, 250))
	require.NoError(t, err)
	_, err = v.SignProposal(ctx, signer2, hash)
	require.NoError(t, err)
	_, err = v.SignProposal(ctx, signer3, hash)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	require.NoError(t, v.ExecuteProposal(ctx, signer2, hash))

	assert.Equal(t, newLimits, v.Limits())
	assert.Equal(t, uint64(250), v.EmergencyCap())
	assert.Contains(t, sink.kinds(), EventLimitsUpdated)

	// The tightened cap is live immediately.
	err = v.Deposit(ctx, alice, 1_001)
	require.ErrorIs(t, err, ratelimit.ErrExceedsMaxTxLimit)
}

func TestGovernedSignerChanges(t *testing.T) {
	v, _, clock := newTestVault(t, testConfig(), nil)
	ctx := context.Background()
	newcomer := common.HexToAddress("0x0000000000000000000000000000000000000004")

	hash, err := v.Propose(ctx, signer1, governance.AddSigner(newcomer))
	require.NoError(t, err)
	_, err = v.SignProposal(ctx, signer1, hash)
	require.NoError(t, err)
	_, err = v.SignProposal(ctx, signer2, hash)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	require.NoError(t, v.ExecuteProposal(ctx, signer1, hash))
	assert.Len(t, v.Signers(), 4)

	// The newcomer can immediately exercise signer powers.
	require.NoError(t, v.EmergencyShutdown(ctx, newcomer))
}

func TestProposalIdempotentAcrossVaultFacade(t *testing.T) {
	v, _, _ := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	action := governance.ResumeNormal()
	hash, err := v.Propose(ctx, signer1, action)
	require.NoError(t, err)
	_, err = v.SignProposal(ctx, signer1, hash)
	require.NoError(t, err)

	again, err := v.Propose(ctx, signer2, action)
	require.NoError(t, err)
	assert.Equal(t, hash, again)
	assert.Equal(t, 1, v.SignatureCount(hash))
}

func TestIndependentVaultInstances(t *testing.T) {
	cfg2 := testConfig()
	cfg2.ID = "vault-2"

	v1, _, _ := newTestVault(t, testConfig(), nil)
	v2, _, _ := newTestVault(t, cfg2, nil)
	ctx := context.Background()

	require.NoError(t, v1.Deposit(ctx, alice, 1_000))
	require.NoError(t, v1.EmergencyShutdown(ctx, signer1))

	// The second vault is unaffected by the first one's emergency.
	require.NoError(t, v2.Deposit(ctx, alice, 1_000))
	assert.False(t, v2.EmergencyActive())
	assert.Equal(t, uint64(1_000), v2.TotalAssets())
}

func TestSnapshotReflectsWindow(t *testing.T) {
	v, _, clock := newTestVault(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, alice, 5_000))
	require.NoError(t, v.Withdraw(ctx, alice, 2_000))

	snap := v.Snapshot()
	assert.Equal(t, "vault-1", snap.VaultID)
	assert.Equal(t, uint64(3_000), snap.TotalAssets)
	assert.Equal(t, uint64(2_000), snap.DailyVolume)
	assert.False(t, snap.Emergency)

	// A stale window reads as zero volume.
	clock.Advance(25 * time.Hour)
	snap = v.Snapshot()
	assert.Zero(t, snap.DailyVolume)
}
