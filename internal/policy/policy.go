// Package policy holds the hub's abuse-prevention configuration and the
// pure stats computation used to decide whether a caller should be
// rejected and blacklisted. It is an immutable value injected into the
// hub, per spec.md §9 ("the policy gatekeeper should not touch the same
// struct; inject it as an immutable value").
package policy

import "time"

// URISub is one (pattern, replacement) regexp substitution applied in
// order when rewriting a call-back destination (spec.md §3, §4.1).
type URISub struct {
	Pattern     string
	Replacement string
}

// Blacklist is the read-only-after-load policy configuration (spec.md §3).
type Blacklist struct {
	Last24MaxNumCalls  int
	Last24MaxTotalTime time.Duration
	BlacklistFor       time.Duration

	CallBackURI     string
	CallBackURISubs []URISub

	MaxCallLength             time.Duration
	WaitTimeBeforeCallingBack time.Duration
}

// Exceeded reports whether the given 24h call count/time totals breach this
// policy's limits (spec.md §4.1 call_confirmed / startup scan checks).
func (b Blacklist) Exceeded(last24Calls int, last24Total time.Duration) bool {
	return last24Calls > b.Last24MaxNumCalls || last24Total > b.Last24MaxTotalTime
}

// Texts are the configured spoken templates (spec.md §6 config keys).
type Texts struct {
	Introduction  []string
	Closing       string
	Rejected      string
	NoAnswer      string
	CallingPrefix string
}

// Stats is the result of evaluating a URI's call history, mirroring the
// four values returned by the original get_stats (spec.md §4.2).
type Stats struct {
	TotalCalls    int
	TotalSeconds  float64
	Last24Calls   int
	Last24Seconds float64
}
