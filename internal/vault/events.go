package vault

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// EventKind names an observable vault state change.
type EventKind string

const (
	EventDeposit           EventKind = "deposit"
	EventWithdrawal        EventKind = "withdrawal"
	EventEmergencyWithdraw EventKind = "emergency_withdrawal"
	EventEmergencyShutdown EventKind = "emergency_shutdown"
	EventResumedNormal     EventKind = "resumed_normal"
	EventLimitsUpdated     EventKind = "limits_updated"
	EventSignerAdded       EventKind = "signer_added"
	EventSignerRemoved     EventKind = "signer_removed"
	EventProposalCreated   EventKind = "proposal_created"
	EventProposalSigned    EventKind = "proposal_signed"
	EventProposalExecuted  EventKind = "proposal_executed"
)

// Event is the audit record emitted on every state-changing call. It is the
// only contract the surrounding dashboard relies on.
type Event struct {
	VaultID  string
	Kind     EventKind
	Actor    common.Address
	Amount   uint64      // zero when not a fund movement
	Proposal common.Hash // zero unless tied to a governed operation
	At       time.Time
}

// EventSink consumes vault events. Sink failures are logged and never roll
// back the operation that produced the event; the event stream is advisory.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "vault_events").Logger()}
}

// Emit logs the event at info level.
func (s *LogSink) Emit(_ context.Context, ev Event) error {
	entry := s.logger.Info().
		Str("vault", ev.VaultID).
		Str("kind", string(ev.Kind)).
		Str("actor", ev.Actor.Hex()).
		Time("at", ev.At)
	if ev.Amount != 0 {
		entry = entry.Uint64("amount", ev.Amount)
	}
	if ev.Proposal != (common.Hash{}) {
		entry = entry.Str("proposal", ev.Proposal.Hex())
	}
	entry.Msg("vault event")
	return nil
}

// MultiSink fans an event out to several sinks, returning the first error
// after all sinks have seen the event.
type MultiSink []EventSink

// Emit delivers the event to every sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var first error
	for _, sink := range m {
		if err := sink.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ EventSink = (*LogSink)(nil)
	_ EventSink = MultiSink(nil)
)
