package consensus

import "time"

// TimingPolicy decides whether a proposer's recent proposal timing looks
// like withheld blocks released in a burst. It receives the proposer's
// observed proposal times in ascending order, the newest block included,
// and returns true when the pattern is suspicious. The heuristic has false
// positives against honest proposers on slow links, so a positive result
// only annotates a block (accept with penalty), never rejects it.
type TimingPolicy func(times []time.Time) bool

// Selfish-mining heuristic defaults.
const (
	DefaultSelfishWindow     = 2 * time.Minute
	DefaultSelfishMinBurst   = 3
	DefaultSelfishBurstGap   = 2 * time.Second
	DefaultSelfishSilenceGap = 30 * time.Second
)

// SelfishMiningConfig tunes the withheld-release heuristic.
type SelfishMiningConfig struct {
	// Window is how far back proposals count toward a burst.
	Window time.Duration
	// MinBurst is the minimum number of back-to-back proposals that
	// constitute a burst.
	MinBurst int
	// BurstGap is the maximum spacing between consecutive blocks of a
	// burst.
	BurstGap time.Duration
	// SilenceGap is the minimum quiet period preceding the burst for it
	// to look like withholding rather than ordinary production.
	SilenceGap time.Duration
}

// DefaultSelfishMiningConfig returns the default heuristic tuning.
func DefaultSelfishMiningConfig() SelfishMiningConfig {
	return SelfishMiningConfig{
		Window:     DefaultSelfishWindow,
		MinBurst:   DefaultSelfishMinBurst,
		BurstGap:   DefaultSelfishBurstGap,
		SilenceGap: DefaultSelfishSilenceGap,
	}
}

// BurstAfterSilence returns the default TimingPolicy: flag when the newest
// MinBurst or more proposals arrived back-to-back inside the window, and
// the proposal immediately before the burst is separated from it by at
// least SilenceGap. A burst at the very start of a proposer's history is
// not flagged because no preceding silence was observed.
func BurstAfterSilence(cfg SelfishMiningConfig) TimingPolicy {
	return func(times []time.Time) bool {
		n := len(times)
		if n < cfg.MinBurst+1 {
			return false
		}

		// Length of the maximal back-to-back suffix.
		burst := 1
		for i := n - 1; i > 0; i-- {
			if times[i].Sub(times[i-1]) > cfg.BurstGap {
				break
			}
			burst++
		}
		if burst < cfg.MinBurst || burst == n {
			return false
		}
		if times[n-1].Sub(times[n-burst]) > cfg.Window {
			return false
		}
		return times[n-burst].Sub(times[n-burst-1]) >= cfg.SilenceGap
	}
}
