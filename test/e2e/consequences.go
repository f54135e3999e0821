package e2e

import (
	"errors"
	"fmt"

	"github.com/downfa11-org/kvs/pkg/types"
)

// Consequences represents test assertions (Then phase)
type Consequences struct {
	ctx *TestContext
}

// Expectation is a function that validates test outcomes
type Expectation func(*TestContext) error

func (c *Consequences) Expect(expectations ...Expectation) *Consequences {
	for _, expectation := range expectations {
		if err := expectation(c.ctx); err != nil {
			c.ctx.t.Error(err)
		}
	}
	return c
}

func (c *Consequences) And(expectations ...Expectation) *Consequences {
	return c.Expect(expectations...)
}

// NoErrors verifies that every action succeeded.
func NoErrors() Expectation {
	return func(ctx *TestContext) error {
		if ctx.lastError != nil {
			return fmt.Errorf("unexpected error: %w", ctx.lastError)
		}
		return nil
	}
}

// ErrorIs verifies the last action failed with target.
func ErrorIs(target error) Expectation {
	return func(ctx *TestContext) error {
		if !errors.Is(ctx.lastError, target) {
			return fmt.Errorf("expected error %v, got %v", target, ctx.lastError)
		}
		return nil
	}
}

// ValuesMatch verifies every written key reads back its last value.
func ValuesMatch() Expectation {
	return func(ctx *TestContext) error {
		for key, want := range ctx.written {
			got, found, err := ctx.getClient().Get(key)
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			if !found {
				return fmt.Errorf("key %s missing, want %q", key, want)
			}
			if got != want {
				return fmt.Errorf("key %s = %q, want %q", key, got, want)
			}
		}
		return nil
	}
}

// RemovedKeysMissing verifies removed keys are gone and cannot be removed again.
func RemovedKeysMissing() Expectation {
	return func(ctx *TestContext) error {
		for key := range ctx.removed {
			_, found, err := ctx.getClient().Get(key)
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			if found {
				return fmt.Errorf("removed key %s is still present", key)
			}
			if err := ctx.getClient().Remove(key); !errors.Is(err, types.ErrKeyNotFound) {
				return fmt.Errorf("remove %s again: expected key not found, got %v", key, err)
			}
		}
		return nil
	}
}

// LiveKeys verifies the number of keys the store reports.
func LiveKeys(expected int) Expectation {
	return func(ctx *TestContext) error {
		if got := ctx.store.Stats().Keys; got != int64(expected) {
			return fmt.Errorf("expected %d live keys, got %d", expected, got)
		}
		return nil
	}
}

// LogShrank verifies the log is smaller than at its largest.
func LogShrank() Expectation {
	return func(ctx *TestContext) error {
		now := ctx.store.Stats().LogBytes
		if now >= ctx.logBytesPeak {
			return fmt.Errorf("log did not shrink: %d bytes now, peak %d", now, ctx.logBytesPeak)
		}
		return nil
	}
}

// CompactionsRun verifies at least n compactions completed.
func CompactionsRun(n int64) Expectation {
	return func(ctx *TestContext) error {
		if got := ctx.store.Stats().Compactions; got < n {
			return fmt.Errorf("expected at least %d compactions, got %d", n, got)
		}
		return nil
	}
}
