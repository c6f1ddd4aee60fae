// Command canonsim simulates a network of block proposers driving the
// chain-selection engine. It generates forks, equivocations, and
// long-range rewrite attempts at configurable rates, feeds every block
// through the engine, and reports what the engine did about it.
//
// Usage:
//
//	canonsim [flags]
//
// Flags:
//
//	--slots              Number of slots to simulate (default: 96)
//	--validators         Registered proposer count (default: 8)
//	--attackers          Unregistered proposer count (default: 1)
//	--fork.rate          Chance a proposal builds on a stale parent (default: 0.15)
//	--equivocation.rate  Chance a proposer double-proposes a slot (default: 0.04)
//	--attack.rate        Chance an attacker proposes a deep fork (default: 0.02)
//	--policy             Fork choice policy: longest, weighted (default: longest)
//	--reorg.maxdepth     Abort reorgs deeper than this, 0 = unlimited (default: 0)
//	--finality.lag       Finalize head minus lag each slot, 0 = off (default: 16)
//	--seed               Simulation RNG seed (default: 1)
//	--metrics.addr       Serve Prometheus metrics on this address after the run
//	--config             Load a TOML config file (flags override it)
//	--verbosity          Log level 0-5 (default: 3)
//	--version            Print version and exit
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonchain/canonchain/log"
	"github.com/canonchain/canonchain/metrics"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	logger := log.New(verbosityToLevel(cfg.Verbosity))
	log.SetDefault(logger)

	logger.Info("canonsim starting", "version", version,
		"slots", cfg.Slots, "validators", cfg.Validators,
		"attackers", cfg.Attackers, "policy", cfg.Policy,
		"fork_rate", cfg.ForkRate, "equivocation_rate", cfg.EquivocationRate,
		"attack_rate", cfg.AttackRate, "finality_lag", cfg.FinalityLag,
		"seed", cfg.Seed)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	sim, err := newSimulator(cfg, logger.Module("sim"))
	if err != nil {
		logger.Error("simulator setup failed", "err", err)
		return 1
	}

	summary, err := sim.Run()
	if err != nil {
		logger.Error("simulation failed", "err", err)
		return 1
	}
	summary.log(logger)

	// Optionally keep serving the metric exposition for scraping.
	if cfg.MetricsAddr != "" {
		exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
		exporter.RegisterCollector("sim", sim.collector())

		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr, "path", "/metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, exporter.Handler()); err != nil {
				logger.Error("metrics server stopped", "err", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
	}

	sim.Stop()
	if summary.Halted {
		return 1
	}
	return 0
}

// parseFlags parses CLI arguments into a simConfig. Returns the config,
// whether the caller should exit immediately, and the exit code.
// Precedence: defaults, then the config file, then explicit flags.
func parseFlags(args []string) (simConfig, bool, int) {
	cfg := DefaultSimConfig()
	fs := newFlagSet(&cfg)

	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Printf("canonsim %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	if cfg.ConfigFile != "" {
		loaded, err := LoadConfig(cfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cfg, true, 1
		}
		// Re-apply the flags so explicit ones win over file values.
		cfg = loaded
		refs := newFlagSet(&cfg)
		refs.Bool("version", false, "print version and exit")
		refs.Parse(args)
	}

	return cfg, false, 0
}

// newFlagSet creates a flag set binding all CLI flags to the given config.
func newFlagSet(cfg *simConfig) *flagSet {
	fs := newCustomFlagSet("canonsim")
	fs.Uint64Var(&cfg.Slots, "slots", cfg.Slots, "number of slots to simulate")
	fs.IntVar(&cfg.Validators, "validators", cfg.Validators, "registered proposer count")
	fs.IntVar(&cfg.Attackers, "attackers", cfg.Attackers, "unregistered proposer count")
	fs.RateVar(&cfg.ForkRate, "fork.rate", cfg.ForkRate, "chance a proposal builds on a stale parent")
	fs.RateVar(&cfg.EquivocationRate, "equivocation.rate", cfg.EquivocationRate, "chance a proposer double-proposes a slot")
	fs.RateVar(&cfg.AttackRate, "attack.rate", cfg.AttackRate, "chance an attacker proposes a deep fork")
	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "fork choice policy (longest, weighted)")
	fs.IntVar(&cfg.MaxReorgDepth, "reorg.maxdepth", cfg.MaxReorgDepth, "abort reorgs deeper than this, 0 = unlimited")
	fs.Uint64Var(&cfg.FinalityLag, "finality.lag", cfg.FinalityLag, "finalize head minus lag each slot, 0 = off")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "simulation RNG seed")
	fs.StringVar(&cfg.MetricsAddr, "metrics.addr", cfg.MetricsAddr, "serve Prometheus metrics on this address after the run")
	fs.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "log level 0-5 (0=silent, 5=trace)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "load a TOML config file (flags override it)")
	return fs
}

// verbosityToLevel maps the CLI verbosity scale onto slog levels.
func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4 // effectively silent
	case v == 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
