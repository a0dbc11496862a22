package governance

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotAuthorizedSigner indicates the caller is not in the signer set.
	ErrNotAuthorizedSigner = errors.New("governance: not an authorized signer")
	// ErrProposalNotFound indicates no proposal exists for the given hash.
	ErrProposalNotFound = errors.New("governance: proposal not found")
	// ErrAlreadySigned indicates the signer already attested to this proposal.
	ErrAlreadySigned = errors.New("governance: already signed")
	// ErrInsufficientSignatures indicates the threshold has not been reached.
	ErrInsufficientSignatures = errors.New("governance: insufficient signatures")
	// ErrTimelockNotExpired indicates the mandatory delay is still running.
	ErrTimelockNotExpired = errors.New("governance: timelock not expired")
	// ErrAlreadyExecuted indicates the proposal was executed before.
	ErrAlreadyExecuted = errors.New("governance: already executed")
	// ErrThresholdUnreachable indicates a signer-set change that would leave
	// fewer signers than the threshold requires.
	ErrThresholdUnreachable = errors.New("governance: threshold would become unreachable")
)

// Proposal tracks one governed operation through its lifecycle:
// proposed -> partially signed -> ready (timelock running) -> executable ->
// executed. Stale proposals are never deleted; they simply stay
// non-executable.
type Proposal struct {
	Hash        common.Hash
	Action      Action
	CreatedAt   time.Time
	ThresholdAt time.Time // zero until signatures reach threshold
	Executed    bool

	signatures map[common.Address]struct{}
}

// Signatures returns the number of distinct signer attestations collected.
func (p *Proposal) Signatures() int {
	return len(p.signatures)
}

// HasSigned reports whether the given signer attested to this proposal.
func (p *Proposal) HasSigned(signer common.Address) bool {
	_, ok := p.signatures[signer]
	return ok
}

// Engine holds the authorized signer set, the M-of-N threshold, and all
// proposals keyed by operation hash, and enforces the timelock between
// threshold and execution. The engine carries no lock; the owning vault
// serializes every call.
type Engine struct {
	signers   map[common.Address]struct{}
	order     []common.Address
	threshold int
	delay     time.Duration
	proposals map[common.Hash]*Proposal
}

// NewEngine constructs an engine over the initial signer set. The threshold
// must be reachable and positive; the delay is the per-deployment timelock.
func NewEngine(signers []common.Address, threshold int, delay time.Duration) (*Engine, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %d", threshold)
	}
	if delay < 0 {
		return nil, fmt.Errorf("timelock delay cannot be negative, got %s", delay)
	}

	e := &Engine{
		signers:   make(map[common.Address]struct{}, len(signers)),
		threshold: threshold,
		delay:     delay,
		proposals: make(map[common.Hash]*Proposal),
	}
	for _, s := range signers {
		if _, dup := e.signers[s]; dup {
			continue
		}
		e.signers[s] = struct{}{}
		e.order = append(e.order, s)
	}
	if len(e.signers) < threshold {
		return nil, fmt.Errorf("%d signers cannot satisfy threshold %d: %w", len(e.signers), threshold, ErrThresholdUnreachable)
	}
	return e, nil
}

// IsSigner reports current signer-set membership.
func (e *Engine) IsSigner(addr common.Address) bool {
	_, ok := e.signers[addr]
	return ok
}

// Signers returns the signer set in admission order.
func (e *Engine) Signers() []common.Address {
	out := make([]common.Address, len(e.order))
	copy(out, e.order)
	return out
}

// Threshold returns the required signature count.
func (e *Engine) Threshold() int {
	return e.threshold
}

// Delay returns the configured timelock delay.
func (e *Engine) Delay() time.Duration {
	return e.delay
}

// Propose registers a proposal for the action, keyed by its content hash.
// Re-proposing an existing hash is a no-op success and does not disturb the
// collected signatures.
func (e *Engine) Propose(action Action, proposer common.Address, now time.Time) (common.Hash, error) {
	if !e.IsSigner(proposer) {
		return common.Hash{}, fmt.Errorf("proposer %s: %w", proposer, ErrNotAuthorizedSigner)
	}

	hash := action.Hash()
	if _, exists := e.proposals[hash]; exists {
		return hash, nil
	}

	e.proposals[hash] = &Proposal{
		Hash:       hash,
		Action:     action,
		CreatedAt:  now,
		signatures: make(map[common.Address]struct{}),
	}
	return hash, nil
}

// Sign records the signer's attestation and returns the new count. The
// signature that reaches the threshold starts the timelock.
func (e *Engine) Sign(hash common.Hash, signer common.Address, now time.Time) (int, error) {
	if !e.IsSigner(signer) {
		return 0, fmt.Errorf("signer %s: %w", signer, ErrNotAuthorizedSigner)
	}
	p, ok := e.proposals[hash]
	if !ok {
		return 0, fmt.Errorf("proposal %s: %w", hash, ErrProposalNotFound)
	}
	if p.HasSigned(signer) {
		return p.Signatures(), fmt.Errorf("signer %s on %s: %w", signer, hash, ErrAlreadySigned)
	}

	p.signatures[signer] = struct{}{}
	if p.ThresholdAt.IsZero() && p.Signatures() >= e.threshold {
		p.ThresholdAt = now
	}
	return p.Signatures(), nil
}

// SignatureCount returns the number of signatures collected for the hash.
// Unknown hashes report zero; observation never errors.
func (e *Engine) SignatureCount(hash common.Hash) int {
	p, ok := e.proposals[hash]
	if !ok {
		return 0
	}
	return p.Signatures()
}

// Proposal returns the tracked proposal for the hash, if any.
func (e *Engine) Proposal(hash common.Hash) (*Proposal, bool) {
	p, ok := e.proposals[hash]
	return p, ok
}

// ReadyAt reports the earliest permitted execution time. It is defined only
// once the threshold has been reached.
func (e *Engine) ReadyAt(hash common.Hash) (time.Time, bool) {
	p, ok := e.proposals[hash]
	if !ok || p.ThresholdAt.IsZero() {
		return time.Time{}, false
	}
	return p.ThresholdAt.Add(e.delay), true
}

// Execute applies the proposal's action through the supplied callback once
// the threshold is met and the timelock has elapsed. The executed flag is set
// only after the callback succeeds, so a failed application can be retried;
// a successful execution is terminal.
func (e *Engine) Execute(hash common.Hash, now time.Time, apply func(Action) error) error {
	p, ok := e.proposals[hash]
	if !ok {
		return fmt.Errorf("proposal %s: %w", hash, ErrProposalNotFound)
	}
	if p.Executed {
		return fmt.Errorf("proposal %s: %w", hash, ErrAlreadyExecuted)
	}
	if p.Signatures() < e.threshold {
		return fmt.Errorf("proposal %s has %d of %d signatures: %w", hash, p.Signatures(), e.threshold, ErrInsufficientSignatures)
	}
	readyAt := p.ThresholdAt.Add(e.delay)
	if now.Before(readyAt) {
		return fmt.Errorf("proposal %s executable at %s: %w", hash, readyAt.UTC().Format(time.RFC3339), ErrTimelockNotExpired)
	}

	if err := apply(p.Action); err != nil {
		return err
	}
	p.Executed = true
	return nil
}

// AddSigner admits a signer. Admitting an existing signer is a no-op; the
// method exists for Execute callbacks, not for direct callers.
func (e *Engine) AddSigner(addr common.Address) {
	if _, ok := e.signers[addr]; ok {
		return
	}
	e.signers[addr] = struct{}{}
	e.order = append(e.order, addr)
}

// RemoveSigner evicts a signer. Signatures the signer already placed remain
// counted: attestations are a historical fact, not a live re-evaluation.
// Removal that would leave the threshold unreachable is refused.
func (e *Engine) RemoveSigner(addr common.Address) error {
	if _, ok := e.signers[addr]; !ok {
		return nil
	}
	if len(e.signers)-1 < e.threshold {
		return fmt.Errorf("removing %s leaves %d signers for threshold %d: %w", addr, len(e.signers)-1, e.threshold, ErrThresholdUnreachable)
	}
	delete(e.signers, addr)
	for i, s := range e.order {
		if s == addr {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}
