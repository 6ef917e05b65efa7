package module

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_BackoffIsMonotonicAndCapped(t *testing.T) {
	cfg := DefaultConfig("prop")
	properties := gopter.NewProperties(nil)

	properties.Property("backoff never decreases as errors accumulate", prop.ForAll(
		func(n, extra uint64) bool {
			return cfg.Backoff(n+extra) >= cfg.Backoff(n)
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<20),
	))

	properties.Property("backoff never exceeds the cap", prop.ForAll(
		func(n uint64) bool {
			return cfg.Backoff(n) <= cfg.MaxBackoff
		},
		gen.UInt64(),
	))

	properties.Property("no backoff up to the threshold", prop.ForAll(
		func(n uint64) bool {
			return cfg.Backoff(n) == 0
		},
		gen.UInt64Range(0, uint64(cfg.BackoffThreshold)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
