// Package resolve turns free-form natural language ("remind me tomorrow at
// 9am to call Bob") into a concrete instant relative to an injected reference
// time. It wraps the rule-based olebedev/when parser and layers an explicit
// past/future bias on top of it.
package resolve

import (
	"errors"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrAmbiguous is returned when no date/time signal can be extracted from the
// input. Callers must degrade to a clarification prompt instead of creating a
// reminder with a fabricated due time.
var ErrAmbiguous = errors.New("no date or time found in input")

// Bias controls how an expression that could mean a past or a future instant
// is resolved.
type Bias int

const (
	// BiasNone returns whatever the parser produced, even if it is in the
	// past relative to the reference instant.
	BiasNone Bias = iota

	// BiasFuture rolls a resolved instant that is not strictly after the
	// reference forward in whole days until it is. "9am" asked at noon means
	// tomorrow 9am, not nine hours ago.
	BiasFuture
)

// Config holds resolver options.
type Config struct {
	Bias Bias
}

// Resolver extracts due times from natural language. It holds no mutable
// state and never reads the wall clock; the reference instant is always a
// parameter, which keeps resolution deterministic and testable.
type Resolver struct {
	parser *when.Parser
	bias   Bias
}

// New creates a resolver with English and common rule sets.
func New(cfg Config) *Resolver {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	return &Resolver{
		parser: w,
		bias:   cfg.Bias,
	}
}

// Resolve extracts a due instant from text relative to ref. The expression
// may sit anywhere inside the input; surrounding words are ignored. Results
// are UTC with second granularity.
func (r *Resolver) Resolve(text string, ref time.Time) (time.Time, error) {
	result, err := r.parser.Parse(text, ref)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", text, err)
	}
	if result == nil {
		return time.Time{}, ErrAmbiguous
	}

	t := result.Time.Truncate(time.Second)

	if r.bias == BiasFuture {
		for !t.After(ref) {
			t = t.AddDate(0, 0, 1)
		}
	}

	return t.UTC(), nil
}
