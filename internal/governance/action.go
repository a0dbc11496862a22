package governance

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"vault-sentinel/internal/ratelimit"
)

// ActionKind discriminates governed operation payloads.
type ActionKind uint8

const (
	// ActionAddSigner admits a new signer to the registry.
	ActionAddSigner ActionKind = iota + 1
	// ActionRemoveSigner evicts a signer from the registry.
	ActionRemoveSigner
	// ActionUpdateLimits replaces the vault's rate limits and emergency cap.
	ActionUpdateLimits
	// ActionResumeNormal lifts emergency mode. Shutdown is unilateral; resuming
	// requires the full proposal pipeline.
	ActionResumeNormal
)

// String returns a stable name for logging and event payloads.
func (k ActionKind) String() string {
	switch k {
	case ActionAddSigner:
		return "add_signer"
	case ActionRemoveSigner:
		return "remove_signer"
	case ActionUpdateLimits:
		return "update_limits"
	case ActionResumeNormal:
		return "resume_normal"
	default:
		return "unknown"
	}
}

// Action is a governed operation payload. Exactly the fields relevant to the
// Kind are meaningful; the rest stay zero and still participate in hashing so
// equal intents produce equal hashes.
type Action struct {
	Kind         ActionKind
	Signer       common.Address   // AddSigner / RemoveSigner
	Limits       ratelimit.Limits // UpdateLimits
	EmergencyCap uint64           // UpdateLimits
}

// Hash derives the content hash identifying a proposal for this action.
// The encoding is fixed-width and order-stable: re-proposing the same intent
// always lands on the same proposal.
func (a Action) Hash() common.Hash {
	buf := make([]byte, 0, 1+common.AddressLength+4*8)
	buf = append(buf, byte(a.Kind))
	buf = append(buf, a.Signer.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, a.Limits.MaxDepositPerTx)
	buf = binary.BigEndian.AppendUint64(buf, a.Limits.MaxWithdrawalPerTx)
	buf = binary.BigEndian.AppendUint64(buf, a.Limits.DailyLimit)
	buf = binary.BigEndian.AppendUint64(buf, a.EmergencyCap)
	return crypto.Keccak256Hash(buf)
}

// AddSigner builds an add-signer action.
func AddSigner(signer common.Address) Action {
	return Action{Kind: ActionAddSigner, Signer: signer}
}

// RemoveSigner builds a remove-signer action.
func RemoveSigner(signer common.Address) Action {
	return Action{Kind: ActionRemoveSigner, Signer: signer}
}

// UpdateLimits builds a security-parameter update action.
func UpdateLimits(limits ratelimit.Limits, emergencyCap uint64) Action {
	return Action{Kind: ActionUpdateLimits, Limits: limits, EmergencyCap: emergencyCap}
}

// ResumeNormal builds an action lifting emergency mode.
func ResumeNormal() Action {
	return Action{Kind: ActionResumeNormal}
}
