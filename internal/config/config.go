// Package config loads the switchboard's layered JSON configuration:
// one or more files per leg (-o for leg 1, -d for leg 2), each
// overriding the previous on top of a coded default. Grounded on the
// teacher's internal/signaling/config/config.go (flag-driven Load())
// and internal/signaling/dialplan/dialplan.go's JSON-file-to-struct
// pattern; the file-layering semantics follow
// original_source/alex/applications/Switchboard/sw_hub.py's
// Config.load_configs(args.caller/args.callee).
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sebas/switchboard/internal/policy"
)

// Leg is one leg's configuration group, matching spec.md §6's
// "Switchboard" section key list.
type Leg struct {
	Introduction              []string  `json:"introduction"`
	Closing                   string    `json:"closing"`
	Rejected                  string    `json:"rejected"`
	NoAnswer                  string    `json:"noanswer"`
	Calling                   string    `json:"calling"`
	CallDB                    string    `json:"call_db"`
	Last24MaxNumCalls         int       `json:"last24_max_num_calls"`
	Last24MaxTotalTime        float64   `json:"last24_max_total_time"`
	BlacklistFor              float64   `json:"blacklist_for"`
	MaxCallLength             float64   `json:"max_call_length"`
	WaitTimeBeforeCallingBack float64      `json:"wait_time_before_calling_back"`
	CallBackURI               string       `json:"call_back_uri"`
	CallBackURISubs           []URISubJSON `json:"call_back_uri_subs"`
}

// URISubJSON is the on-disk shape of one call_back_uri_subs entry.
type URISubJSON struct {
	Pattern     string `json:"regex"`
	Replacement string `json:"replacement"`
}

// Hub is the "Hub" config group.
type Hub struct {
	MainLoopSleepTime float64 `json:"main_loop_sleep_time"`
}

// File is the top-level shape of one config file on disk.
type File struct {
	Switchboard Leg `json:"Switchboard"`
	Hub         Hub `json:"Hub"`
}

// defaultLeg matches spec.md §6's implied defaults — conservative, so an
// operator who forgets a key does not silently lose abuse protection.
func defaultLeg() Leg {
	return Leg{
		Introduction:              nil,
		Closing:                   "",
		Rejected:                  "",
		NoAnswer:                  "",
		Calling:                   "calling",
		CallDB:                    "call_db.json",
		Last24MaxNumCalls:         10,
		Last24MaxTotalTime:        3600,
		BlacklistFor:              86400,
		MaxCallLength:             600,
		WaitTimeBeforeCallingBack: 60,
	}
}

func defaultHub() Hub {
	return Hub{MainLoopSleepTime: 0.02}
}

// Config is the fully-resolved, two-leg configuration the hub package
// consumes.
type Config struct {
	CallerPaths []string // -o
	CalleePaths []string // -d

	CallDB string

	Policy1, Policy2 policy.Blacklist
	Texts1, Texts2   policy.Texts

	MainLoopSleep time.Duration
}

// Load parses the -o and -d flags and layers the named files over the
// coded default for each leg.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("switchboardhub", flag.ContinueOnError)
	var callerPaths, calleePaths multiFlag
	fs.Var(&callerPaths, "o", "configuration file for the caller leg (leg 1); may repeat")
	fs.Var(&calleePaths, "d", "configuration file for the callee leg (leg 2); may repeat")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(callerPaths) == 0 || len(calleePaths) == 0 {
		return nil, &ConfigError{Section: "cli", Cause: fmt.Errorf("both -o and -d are required")}
	}

	leg1, hub1, err := loadLayered(callerPaths)
	if err != nil {
		return nil, &ConfigError{Section: "caller (-o)", Cause: err}
	}
	leg2, _, err := loadLayered(calleePaths)
	if err != nil {
		return nil, &ConfigError{Section: "callee (-d)", Cause: err}
	}

	cfg := &Config{
		CallerPaths:   callerPaths,
		CalleePaths:   calleePaths,
		CallDB:        leg1.CallDB, // spec.md §9 Open Question: DB path comes from leg 1 only
		Policy1:       legPolicy(leg1),
		Policy2:       legPolicy(leg2),
		Texts1:        legTexts(leg1),
		Texts2:        legTexts(leg2),
		MainLoopSleep: time.Duration(hub1.MainLoopSleepTime * float64(time.Second)),
	}
	return cfg, nil
}

// loadLayered reads each path in order, JSON-decoding it on top of the
// coded default; each later file overrides earlier values field by field
// (see mergeLeg), so a key a file leaves out keeps its earlier value.
func loadLayered(paths []string) (Leg, Hub, error) {
	leg := defaultLeg()
	hub := defaultHub()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return leg, hub, fmt.Errorf("read %s: %w", p, err)
		}
		var f File
		if err := json.Unmarshal(data, &f); err != nil {
			return leg, hub, fmt.Errorf("parse %s: %w", p, err)
		}
		leg = mergeLeg(leg, f.Switchboard)
		if f.Hub.MainLoopSleepTime != 0 {
			hub.MainLoopSleepTime = f.Hub.MainLoopSleepTime
		}
	}
	return leg, hub, nil
}

// mergeLeg overlays non-zero fields from override onto base, so a later
// file need only specify the keys it wants to change.
func mergeLeg(base, override Leg) Leg {
	if override.Introduction != nil {
		base.Introduction = override.Introduction
	}
	if override.Closing != "" {
		base.Closing = override.Closing
	}
	if override.Rejected != "" {
		base.Rejected = override.Rejected
	}
	if override.NoAnswer != "" {
		base.NoAnswer = override.NoAnswer
	}
	if override.Calling != "" {
		base.Calling = override.Calling
	}
	if override.CallDB != "" {
		base.CallDB = override.CallDB
	}
	if override.Last24MaxNumCalls != 0 {
		base.Last24MaxNumCalls = override.Last24MaxNumCalls
	}
	if override.Last24MaxTotalTime != 0 {
		base.Last24MaxTotalTime = override.Last24MaxTotalTime
	}
	if override.BlacklistFor != 0 {
		base.BlacklistFor = override.BlacklistFor
	}
	if override.MaxCallLength != 0 {
		base.MaxCallLength = override.MaxCallLength
	}
	if override.WaitTimeBeforeCallingBack != 0 {
		base.WaitTimeBeforeCallingBack = override.WaitTimeBeforeCallingBack
	}
	if override.CallBackURI != "" {
		base.CallBackURI = override.CallBackURI
	}
	if override.CallBackURISubs != nil {
		base.CallBackURISubs = override.CallBackURISubs
	}
	return base
}

func legPolicy(leg Leg) policy.Blacklist {
	subs := make([]policy.URISub, 0, len(leg.CallBackURISubs))
	for _, s := range leg.CallBackURISubs {
		subs = append(subs, policy.URISub{Pattern: s.Pattern, Replacement: s.Replacement})
	}
	return policy.Blacklist{
		Last24MaxNumCalls:         leg.Last24MaxNumCalls,
		Last24MaxTotalTime:        time.Duration(leg.Last24MaxTotalTime * float64(time.Second)),
		BlacklistFor:              time.Duration(leg.BlacklistFor * float64(time.Second)),
		CallBackURI:               leg.CallBackURI,
		CallBackURISubs:           subs,
		MaxCallLength:             time.Duration(leg.MaxCallLength * float64(time.Second)),
		WaitTimeBeforeCallingBack: time.Duration(leg.WaitTimeBeforeCallingBack * float64(time.Second)),
	}
}

func legTexts(leg Leg) policy.Texts {
	return policy.Texts{
		Introduction:  leg.Introduction,
		Closing:       leg.Closing,
		Rejected:      leg.Rejected,
		NoAnswer:      leg.NoAnswer,
		CallingPrefix: leg.Calling,
	}
}

// multiFlag implements flag.Value to accept -o/-d repeated on the
// command line (spec.md §6: "one or more file paths").
type multiFlag []string

func (m *multiFlag) String() string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%v", []string(*m))
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// ConfigError mirrors hub.ConfigError's shape so config.Load can report
// a missing required section before a Hub even exists.
type ConfigError struct {
	Section string
	Cause   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: section %q: %v", e.Section, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }
