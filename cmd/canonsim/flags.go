package main

import (
	"flag"
	"fmt"
	"strconv"
)

// flagSet wraps flag.FlagSet to add probability-rate flags that are
// range-checked at parse time.
type flagSet struct {
	*flag.FlagSet
}

// newCustomFlagSet creates a flagSet with ContinueOnError behavior.
func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}

// RateVar defines a float64 flag constrained to [0, 1]. Out-of-range
// values fail parsing instead of surfacing later as a config error.
func (fs *flagSet) RateVar(p *float64, name string, value float64, usage string) {
	fs.FlagSet.Var(&rateValue{p: p}, name, usage)
	*p = value
}

// Bool wraps flag.FlagSet.Bool.
func (fs *flagSet) Bool(name string, value bool, usage string) *bool {
	return fs.FlagSet.Bool(name, value, usage)
}

// rateValue implements flag.Value for probability flags.
type rateValue struct {
	p *float64
}

func (v *rateValue) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatFloat(*v.p, 'g', -1, 64)
}

func (v *rateValue) Set(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid rate %q", s)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("rate %v outside [0, 1]", f)
	}
	*v.p = f
	return nil
}
