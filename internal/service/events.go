package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"vault-sentinel/internal/storage"
	"vault-sentinel/internal/vault"
)

// EventPersister bridges the vault's event stream into the audit table.
type EventPersister struct {
	store  storage.EventStore
	logger zerolog.Logger
}

// NewEventPersister constructs an EventPersister.
func NewEventPersister(store storage.EventStore, logger zerolog.Logger) *EventPersister {
	return &EventPersister{
		store:  store,
		logger: logger.With().Str("component", "event_persister").Logger(),
	}
}

// Emit writes the event as an audit record.
func (p *EventPersister) Emit(ctx context.Context, ev vault.Event) error {
	record := storage.EventRecord{
		VaultID: ev.VaultID,
		Kind:    string(ev.Kind),
		Actor:   ev.Actor.Hex(),
		Amount:  ev.Amount,
	}
	if ev.Proposal != (common.Hash{}) {
		hash := ev.Proposal.Hex()
		record.Proposal = &hash
	}

	if _, err := p.store.InsertEvent(ctx, record); err != nil {
		return err
	}
	return nil
}

var _ vault.EventSink = (*EventPersister)(nil)
