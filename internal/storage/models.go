package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventRecord is a persisted vault audit event.
type EventRecord struct {
	ID        int64
	VaultID   string
	Kind      string
	Actor     string
	Amount    uint64
	Proposal  *string
	CreatedAt time.Time
}

// MetricsSample is a persisted risk-oracle observation.
type MetricsSample struct {
	VaultID     string
	Bucket      time.Time
	TVL         decimal.Decimal
	DailyVolume decimal.Decimal
	APY         decimal.Decimal
	RiskScore   decimal.Decimal
	Healthy     bool
	CreatedAt   time.Time
}

// AlertRecord mirrors a risk alert for auditing and dashboard reads.
type AlertRecord struct {
	ID         uuid.UUID
	VaultID    string
	Severity   string
	Condition  string
	Active     bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy *string
}
