package vault

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger moves the fungible balance in and out of the vault's custody. It is
// a contract the vault depends on, not something implemented here; any
// failure hard-aborts the enclosing operation before vault state mutates.
type Ledger interface {
	TransferIn(ctx context.Context, from common.Address, amount uint64) error
	TransferOut(ctx context.Context, to common.Address, amount uint64) error
}

// NopLedger accepts every transfer. Useful for simulations and tests where
// the underlying token movement is out of scope.
type NopLedger struct{}

func (NopLedger) TransferIn(context.Context, common.Address, uint64) error  { return nil }
func (NopLedger) TransferOut(context.Context, common.Address, uint64) error { return nil }

var _ Ledger = NopLedger{}
