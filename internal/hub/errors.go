package hub

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is, grounded on the teacher's
// b2bua/errors.go sentinel-error idiom.
var (
	// ErrSpawnFailed indicates a worker could not be started at startup —
	// spec.md §7's "fatal condition" (prevents spawning all six workers).
	ErrSpawnFailed = errors.New("hub: worker spawn failed")
)

// VoipError wraps a call-placement or hangup failure surfaced by a
// VoipIO worker. Spec.md §7: caught locally and logged, the loop
// continues — dial failures are not fatal.
type VoipError struct {
	Leg   int
	Op    string // e.g. "make_call", "hangup"
	Cause error
}

func (e *VoipError) Error() string {
	return fmt.Sprintf("hub: voip leg %d %s: %v", e.Leg, e.Op, e.Cause)
}

func (e *VoipError) Unwrap() error { return e.Cause }

// ConfigError indicates a missing required configuration section at
// startup (spec.md §7).
type ConfigError struct {
	Section string
	Cause   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hub: config section %q: %v", e.Section, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// DBLoadError is treated as "empty DB" per spec.md §7 — logged, never
// fatal; kept as a typed error so callers can tell a load failure from a
// genuinely empty store if they need to.
type DBLoadError struct {
	Path  string
	Cause error
}

func (e *DBLoadError) Error() string {
	return fmt.Sprintf("hub: db load %q: %v", e.Path, e.Cause)
}

func (e *DBLoadError) Unwrap() error { return e.Cause }

// DBSaveError is logged and the loop continues (spec.md §7) — a save
// failure never blocks call processing.
type DBSaveError struct {
	Path  string
	Cause error
}

func (e *DBSaveError) Error() string {
	return fmt.Sprintf("hub: db save %q: %v", e.Path, e.Cause)
}

func (e *DBSaveError) Unwrap() error { return e.Cause }
