package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/canonchain/canonchain/core/types"
)

// SuspectReason classifies why a proposer entered the suspect set.
type SuspectReason uint8

const (
	SuspectEquivocation SuspectReason = iota
	SuspectLongRange
	SuspectSelfishMining
)

// String returns a human-readable name for the suspect reason.
func (r SuspectReason) String() string {
	switch r {
	case SuspectEquivocation:
		return "equivocation"
	case SuspectLongRange:
		return "long_range"
	case SuspectSelfishMining:
		return "selfish_mining"
	default:
		return "unknown"
	}
}

// SuspectRecord aggregates the flagged events for one proposer.
type SuspectRecord struct {
	Proposer     types.Address
	Flags        map[SuspectReason]int
	FirstFlagged time.Time
	LastFlagged  time.Time
}

// TotalFlags returns the total number of flag events for the proposer.
func (sr *SuspectRecord) TotalFlags() int {
	total := 0
	for _, n := range sr.Flags {
		total += n
	}
	return total
}

// SuspectSet tracks proposers with at least one flagged event. The attack
// detector records flags; fork choice policies consult membership to
// de-prioritize suspect proposers. Records persist until an external
// accountability process resolves them via Remove. Thread-safe.
type SuspectSet struct {
	mu      sync.RWMutex
	records map[types.Address]*SuspectRecord
}

// NewSuspectSet returns an empty suspect set.
func NewSuspectSet() *SuspectSet {
	return &SuspectSet{records: make(map[types.Address]*SuspectRecord)}
}

// Flag records a flagged event against a proposer at the given time,
// creating the record on first flag.
func (ss *SuspectSet) Flag(proposer types.Address, reason SuspectReason, at time.Time) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	rec, ok := ss.records[proposer]
	if !ok {
		rec = &SuspectRecord{
			Proposer:     proposer,
			Flags:        make(map[SuspectReason]int),
			FirstFlagged: at,
		}
		ss.records[proposer] = rec
	}
	rec.Flags[reason]++
	rec.LastFlagged = at
}

// IsSuspect returns whether the proposer has at least one flagged event.
func (ss *SuspectSet) IsSuspect(proposer types.Address) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	_, ok := ss.records[proposer]
	return ok
}

// Record returns a copy of the proposer's suspect record, if any.
func (ss *SuspectSet) Record(proposer types.Address) (SuspectRecord, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rec, ok := ss.records[proposer]
	if !ok {
		return SuspectRecord{}, false
	}
	cp := SuspectRecord{
		Proposer:     rec.Proposer,
		Flags:        make(map[SuspectReason]int, len(rec.Flags)),
		FirstFlagged: rec.FirstFlagged,
		LastFlagged:  rec.LastFlagged,
	}
	for reason, n := range rec.Flags {
		cp.Flags[reason] = n
	}
	return cp, true
}

// Suspects returns all flagged proposers sorted by address so enumeration
// is deterministic.
func (ss *SuspectSet) Suspects() []types.Address {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	out := make([]types.Address, 0, len(ss.records))
	for addr := range ss.records {
		out = append(out, addr)
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

// Remove clears a proposer's record, typically after the external
// accountability subsystem has consumed it. Returns true if a record
// was removed.
func (ss *SuspectSet) Remove(proposer types.Address) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	_, ok := ss.records[proposer]
	if ok {
		delete(ss.records, proposer)
	}
	return ok
}

// Len returns the number of flagged proposers.
func (ss *SuspectSet) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.records)
}
