package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-sentinel/internal/alerting"
	"vault-sentinel/internal/config"
	"vault-sentinel/internal/oracle"
	"vault-sentinel/internal/ratelimit"
	"vault-sentinel/internal/storage"
	"vault-sentinel/internal/vault"
)

var (
	feeder  = common.HexToAddress("0x0000000000000000000000000000000000000010")
	signerA = common.HexToAddress("0x0000000000000000000000000000000000000001")
	signerB = common.HexToAddress("0x0000000000000000000000000000000000000002")
	user    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type memMetricsStore struct {
	samples []storage.MetricsSample
}

func (m *memMetricsStore) UpsertMetricsSample(_ context.Context, sample storage.MetricsSample) error {
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memMetricsStore) ListSamplesBetween(context.Context, string, time.Time, time.Time) ([]storage.MetricsSample, error) {
	return m.samples, nil
}

type memAlertStore struct {
	records []storage.AlertRecord
}

func (m *memAlertStore) InsertAlert(_ context.Context, alert storage.AlertRecord) error {
	m.records = append(m.records, alert)
	return nil
}

func (m *memAlertStore) MarkAlertResolved(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func (m *memAlertStore) ListActiveAlerts(context.Context) ([]storage.AlertRecord, error) {
	return m.records, nil
}

func (m *memAlertStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return m.records, nil
}

type memNotifier struct {
	notes []alerting.Notification
}

func (m *memNotifier) Notify(_ context.Context, note alerting.Notification) error {
	m.notes = append(m.notes, note)
	return nil
}

func testService(t *testing.T) (*Service, *vault.Vault, *memMetricsStore, *memAlertStore, *memNotifier) {
	t.Helper()

	v, err := vault.New(vault.Config{
		ID: "main",
		Limits: ratelimit.Limits{
			MaxDepositPerTx:    1_000_000,
			MaxWithdrawalPerTx: 600_000,
			DailyLimit:         900_000,
		},
		EmergencyCap:  1_000,
		Signers:       []common.Address{signerA, signerB},
		Threshold:     2,
		TimelockDelay: time.Hour,
	}, vault.NopLedger{}, nil, zerolog.Nop())
	require.NoError(t, err)

	orc, err := oracle.New(oracle.Config{
		Updaters: []common.Address{feeder},
		Thresholds: oracle.Thresholds{
			MinTVL:          decimal.NewFromInt(100_000),
			VolumeTVLRatio:  decimal.NewFromInt(3),
			MaxAPY:          decimal.NewFromInt(100),
			TVLDropFraction: decimal.RequireFromString("0.3"),
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.Channels = []string{"telegram"}

	metrics := &memMetricsStore{}
	alerts := &memAlertStore{}
	notifier := &memNotifier{}

	svc := New(cfg, nil, []*vault.Vault{v}, orc, nil, metrics, alerts, notifier, feeder, zerolog.Nop())
	return svc, v, metrics, alerts, notifier
}

func TestProcessBucketPersistsSample(t *testing.T) {
	svc, v, metrics, _, notifier := testService(t)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, user, 1_000_000))

	bucket := time.Now().UTC().Truncate(5 * time.Minute)
	require.NoError(t, svc.ProcessBucket(ctx, bucket))

	require.Len(t, metrics.samples, 1)
	sample := metrics.samples[0]
	assert.Equal(t, "main", sample.VaultID)
	assert.True(t, sample.TVL.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, sample.Healthy)
	assert.Empty(t, notifier.notes)
}

func TestProcessBucketRaisesAndDispatchesDrainAlert(t *testing.T) {
	svc, v, _, alerts, notifier := testService(t)
	ctx := context.Background()

	require.NoError(t, v.Deposit(ctx, user, 1_000_000))

	bucket := time.Now().UTC().Truncate(5 * time.Minute)
	require.NoError(t, svc.ProcessBucket(ctx, bucket))

	// A drain between buckets trips the rate-of-change rule.
	require.NoError(t, v.Withdraw(ctx, user, 600_000))
	require.NoError(t, svc.ProcessBucket(ctx, bucket.Add(5*time.Minute)))

	require.Len(t, alerts.records, 1)
	assert.Equal(t, "main", alerts.records[0].VaultID)
	assert.Contains(t, alerts.records[0].Condition, "tvl dropped")

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, alerts.records[0].ID.String(), notifier.notes[0].AlertID)
	assert.Equal(t, []string{"telegram"}, notifier.notes[0].Channels)
}

func TestEventPersisterMapsEvents(t *testing.T) {
	store := &memEventStore{}
	persister := NewEventPersister(store, zerolog.Nop())

	ev := vault.Event{
		VaultID: "main",
		Kind:    vault.EventDeposit,
		Actor:   user,
		Amount:  42,
		At:      time.Now(),
	}
	require.NoError(t, persister.Emit(context.Background(), ev))

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "deposit", rec.Kind)
	assert.Equal(t, uint64(42), rec.Amount)
	assert.Nil(t, rec.Proposal)
}

type memEventStore struct {
	records []storage.EventRecord
}

func (m *memEventStore) InsertEvent(_ context.Context, event storage.EventRecord) (storage.EventRecord, error) {
	event.ID = int64(len(m.records) + 1)
	m.records = append(m.records, event)
	return event, nil
}

func (m *memEventStore) ListRecentEvents(context.Context, string, int) ([]storage.EventRecord, error) {
	return m.records, nil
}
