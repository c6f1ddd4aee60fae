package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadConfig reads a TOML-like simulation config file. An empty path
// returns the defaults. Flags parsed after loading override file values.
//
// Supported layout:
//
//	slots = 96
//	seed = 42
//	verbosity = 3
//
//	[proposers]
//	validators = 8
//	attackers = 1
//
//	[rates]
//	fork = 0.15
//	equivocation = 0.04
//	attack = 0.02
//
//	[engine]
//	policy = "weighted"
//	reorg_maxdepth = 12
//	finality_lag = 16
//
//	[metrics]
//	addr = ":9090"
func LoadConfig(path string) (simConfig, error) {
	cfg := DefaultSimConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := parseConfig(&cfg, data); err != nil {
		return cfg, err
	}
	cfg.ConfigFile = path
	return cfg, nil
}

func parseConfig(cfg *simConfig, data []byte) error {
	section := ""

	lines := strings.Split(string(data), "\n")
	for lineNum, raw := range lines {
		line := strings.TrimSpace(raw)

		// Skip empty lines and comments.
		if line == "" || line[0] == '#' {
			continue
		}

		// Section header.
		if line[0] == '[' {
			end := strings.Index(line, "]")
			if end < 0 {
				return fmt.Errorf("line %d: unclosed section header", lineNum+1)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}

		// Key = value pair.
		eqIdx := strings.Index(line, "=")
		if eqIdx < 0 {
			return fmt.Errorf("line %d: expected key = value", lineNum+1)
		}
		key := strings.TrimSpace(line[:eqIdx])
		val := strings.TrimSpace(line[eqIdx+1:])

		if err := applyConfigValue(cfg, section, key, val, lineNum+1); err != nil {
			return err
		}
	}

	return nil
}

// applyConfigValue sets a single configuration field based on section, key, value.
func applyConfigValue(cfg *simConfig, section, key, val string, lineNum int) error {
	switch section {
	case "":
		return applyTopLevel(cfg, key, val, lineNum)
	case "proposers":
		return applyProposers(cfg, key, val, lineNum)
	case "rates":
		return applyRates(cfg, key, val, lineNum)
	case "engine":
		return applyEngine(cfg, key, val, lineNum)
	case "metrics":
		return applyMetrics(cfg, key, val, lineNum)
	default:
		return fmt.Errorf("line %d: unknown section [%s]", lineNum, section)
	}
}

func applyTopLevel(cfg *simConfig, key, val string, lineNum int) error {
	switch key {
	case "slots":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid slots: %w", lineNum, err)
		}
		cfg.Slots = n
	case "seed":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid seed: %w", lineNum, err)
		}
		cfg.Seed = n
	case "verbosity":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid verbosity: %w", lineNum, err)
		}
		cfg.Verbosity = n
	default:
		return fmt.Errorf("line %d: unknown key %q in top-level", lineNum, key)
	}
	return nil
}

func applyProposers(cfg *simConfig, key, val string, lineNum int) error {
	switch key {
	case "validators":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid validators: %w", lineNum, err)
		}
		cfg.Validators = n
	case "attackers":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid attackers: %w", lineNum, err)
		}
		cfg.Attackers = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [proposers]", lineNum, key)
	}
	return nil
}

func applyRates(cfg *simConfig, key, val string, lineNum int) error {
	rate, err := parseRate(val)
	if err != nil {
		return fmt.Errorf("line %d: invalid %s rate: %w", lineNum, key, err)
	}
	switch key {
	case "fork":
		cfg.ForkRate = rate
	case "equivocation":
		cfg.EquivocationRate = rate
	case "attack":
		cfg.AttackRate = rate
	default:
		return fmt.Errorf("line %d: unknown key %q in [rates]", lineNum, key)
	}
	return nil
}

func applyEngine(cfg *simConfig, key, val string, lineNum int) error {
	switch key {
	case "policy":
		cfg.Policy = unquote(val)
	case "reorg_maxdepth":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid reorg_maxdepth: %w", lineNum, err)
		}
		cfg.MaxReorgDepth = n
	case "finality_lag":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid finality_lag: %w", lineNum, err)
		}
		cfg.FinalityLag = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [engine]", lineNum, key)
	}
	return nil
}

func applyMetrics(cfg *simConfig, key, val string, lineNum int) error {
	switch key {
	case "addr":
		cfg.MetricsAddr = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [metrics]", lineNum, key)
	}
	return nil
}

// parseRate parses a probability in [0, 1].
func parseRate(val string) (float64, error) {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("rate %v outside [0, 1]", f)
	}
	return f, nil
}

// unquote strips surrounding double quotes from a string value.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
