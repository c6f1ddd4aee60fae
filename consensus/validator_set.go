package consensus

import (
	"errors"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/canonchain/canonchain/core/types"
	"github.com/canonchain/canonchain/crypto"
)

// Validator registry errors.
var (
	ErrValidatorExists  = errors.New("validators: address already registered")
	ErrValidatorUnknown = errors.New("validators: address not registered")
	ErrValidatorBadKey  = errors.New("validators: invalid BLS public key")
	ErrValidatorNoStake = errors.New("validators: zero stake")
)

// ValidatorSet answers membership queries for the active validator set.
// The attack detector consumes it for the long-range rule; concrete
// implementations may carry more.
type ValidatorSet interface {
	IsValidator(addr types.Address) bool
}

// Validator describes one registered proposer identity.
type Validator struct {
	Address types.Address
	PubKey  [crypto.PubkeySize]byte // compressed BLS public key (MinPk)
	Stake   *uint256.Int
	Active  bool
}

// StaticValidatorSet is an address-keyed validator registry. Registration
// validates the BLS public key so downstream signature checks can trust
// every stored key. Thread-safe.
type StaticValidatorSet struct {
	mu         sync.RWMutex
	validators map[types.Address]*Validator
}

// NewStaticValidatorSet returns an empty registry.
func NewStaticValidatorSet() *StaticValidatorSet {
	return &StaticValidatorSet{
		validators: make(map[types.Address]*Validator),
	}
}

// Register adds an active validator with the given BLS public key and
// stake. The key must be a valid non-infinity G1 point and the stake must
// be non-zero.
func (vs *StaticValidatorSet) Register(addr types.Address, pubkey [crypto.PubkeySize]byte, stake *uint256.Int) error {
	if err := crypto.ValidatePubkey(pubkey[:]); err != nil {
		return ErrValidatorBadKey
	}
	if stake == nil || stake.IsZero() {
		return ErrValidatorNoStake
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.validators[addr]; exists {
		return ErrValidatorExists
	}
	vs.validators[addr] = &Validator{
		Address: addr,
		PubKey:  pubkey,
		Stake:   new(uint256.Int).Set(stake),
		Active:  true,
	}
	return nil
}

// Deactivate marks a validator inactive. Inactive validators fail
// IsValidator but retain their registration for key lookups.
func (vs *StaticValidatorSet) Deactivate(addr types.Address) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorUnknown
	}
	v.Active = false
	return nil
}

// Activate re-marks a validator active.
func (vs *StaticValidatorSet) Activate(addr types.Address) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorUnknown
	}
	v.Active = true
	return nil
}

// IsValidator returns whether addr is a currently active validator.
func (vs *StaticValidatorSet) IsValidator(addr types.Address) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	v, ok := vs.validators[addr]
	return ok && v.Active
}

// PublicKey returns the registered BLS public key for addr. The second
// return reports whether the address is registered at all (active or not),
// since signature checks remain meaningful for deactivated validators.
func (vs *StaticValidatorSet) PublicKey(addr types.Address) ([crypto.PubkeySize]byte, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	v, ok := vs.validators[addr]
	if !ok {
		return [crypto.PubkeySize]byte{}, false
	}
	return v.PubKey, true
}

// Stake returns a copy of the validator's stake, or zero if unregistered
// or inactive.
func (vs *StaticValidatorSet) Stake(addr types.Address) *uint256.Int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	v, ok := vs.validators[addr]
	if !ok || !v.Active {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v.Stake)
}

// TotalStake returns the summed stake of all active validators.
func (vs *StaticValidatorSet) TotalStake() *uint256.Int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	total := uint256.NewInt(0)
	for _, v := range vs.validators {
		if v.Active {
			total.Add(total, v.Stake)
		}
	}
	return total
}

// Active returns the addresses of all active validators sorted so
// enumeration is deterministic.
func (vs *StaticValidatorSet) Active() []types.Address {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	out := make([]types.Address, 0, len(vs.validators))
	for addr, v := range vs.validators {
		if v.Active {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		for k := 0; k < types.AddressLength; k++ {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}

// Len returns the number of registered validators, active or not.
func (vs *StaticValidatorSet) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.validators)
}
