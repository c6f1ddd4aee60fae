package consensus

import (
	"bytes"
	"testing"
	"time"
)

func TestSuspectSet_FlagAndQuery(t *testing.T) {
	ss := NewSuspectSet()
	addr := testAddr(0x42)

	if ss.IsSuspect(addr) {
		t.Fatal("fresh set should hold no suspects")
	}

	at := time.Unix(1700000000, 0)
	ss.Flag(addr, SuspectEquivocation, at)

	if !ss.IsSuspect(addr) {
		t.Fatal("flagged proposer not reported as suspect")
	}
	rec, ok := ss.Record(addr)
	if !ok {
		t.Fatal("record missing after flag")
	}
	if rec.Flags[SuspectEquivocation] != 1 {
		t.Fatalf("equivocation count: want 1, got %d", rec.Flags[SuspectEquivocation])
	}
	if !rec.FirstFlagged.Equal(at) || !rec.LastFlagged.Equal(at) {
		t.Fatal("first/last flag times should both equal the single flag time")
	}
}

func TestSuspectSet_RepeatedFlags(t *testing.T) {
	ss := NewSuspectSet()
	addr := testAddr(0x42)

	t0 := time.Unix(1700000000, 0)
	ss.Flag(addr, SuspectEquivocation, t0)
	ss.Flag(addr, SuspectEquivocation, t0.Add(time.Minute))
	ss.Flag(addr, SuspectLongRange, t0.Add(2*time.Minute))

	rec, _ := ss.Record(addr)
	if got := rec.TotalFlags(); got != 3 {
		t.Fatalf("total flags: want 3, got %d", got)
	}
	if rec.Flags[SuspectEquivocation] != 2 || rec.Flags[SuspectLongRange] != 1 {
		t.Fatalf("per-reason counts wrong: %v", rec.Flags)
	}
	if !rec.FirstFlagged.Equal(t0) {
		t.Fatal("FirstFlagged must keep the earliest flag time")
	}
	if !rec.LastFlagged.Equal(t0.Add(2 * time.Minute)) {
		t.Fatal("LastFlagged must track the newest flag time")
	}
	if ss.Len() != 1 {
		t.Fatalf("len: want 1, got %d", ss.Len())
	}
}

func TestSuspectSet_RecordIsCopy(t *testing.T) {
	ss := NewSuspectSet()
	addr := testAddr(0x42)
	ss.Flag(addr, SuspectSelfishMining, time.Now())

	rec, _ := ss.Record(addr)
	rec.Flags[SuspectSelfishMining] = 99

	fresh, _ := ss.Record(addr)
	if fresh.Flags[SuspectSelfishMining] != 1 {
		t.Fatal("mutating a returned record leaked into the set")
	}
}

func TestSuspectSet_SuspectsSorted(t *testing.T) {
	ss := NewSuspectSet()
	now := time.Now()
	for _, b := range []byte{0x90, 0x10, 0x55} {
		ss.Flag(testAddr(b), SuspectEquivocation, now)
	}

	suspects := ss.Suspects()
	if len(suspects) != 3 {
		t.Fatalf("suspects: want 3, got %d", len(suspects))
	}
	for i := 1; i < len(suspects); i++ {
		if bytes.Compare(suspects[i-1].Bytes(), suspects[i].Bytes()) >= 0 {
			t.Fatal("suspects not sorted by address")
		}
	}
}

func TestSuspectSet_Remove(t *testing.T) {
	ss := NewSuspectSet()
	addr := testAddr(0x42)
	ss.Flag(addr, SuspectLongRange, time.Now())

	if !ss.Remove(addr) {
		t.Fatal("remove of existing record returned false")
	}
	if ss.IsSuspect(addr) {
		t.Fatal("proposer still suspect after remove")
	}
	if ss.Remove(addr) {
		t.Fatal("remove of absent record returned true")
	}
}

func TestSuspectReason_String(t *testing.T) {
	cases := map[SuspectReason]string{
		SuspectEquivocation:  "equivocation",
		SuspectLongRange:     "long_range",
		SuspectSelfishMining: "selfish_mining",
		SuspectReason(99):    "unknown",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Errorf("String(%d): want %q, got %q", reason, want, got)
		}
	}
}
