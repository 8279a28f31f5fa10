// Package sessionlog records a per-call JSON-lines transcript: every
// Command the hub processed for a leg's session, closed with a summary
// line; the call record itself is not written to the transcript. This
// supplements spec.md (see SPEC_FULL.md §6.3): the
// Python original split system-wide logging from a per-call
// session_logger, and the distilled spec.md dropped the latter.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sebas/switchboard/internal/messages"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Session is one call's transcript file.
type Session struct {
	file *os.File
	enc  *json.Encoder
}

// entry is one recorded line: a timestamped command, or the terminal
// summary written by Close.
type entry struct {
	Time    time.Time `json:"time"`
	Command string    `json:"command,omitempty"`
	Summary string    `json:"summary,omitempty"`
}

// Start opens a new session file under dir, named from the call's start
// time and remote URI, and writes a header line.
func Start(dir, remoteURI string, start time.Time) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionlog: create dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.jsonl", start.UTC().Format("20060102T150405Z"), sanitize(remoteURI))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("sessionlog: create file: %w", err)
	}
	s := &Session{file: f, enc: json.NewEncoder(f)}
	_ = s.enc.Encode(entry{Time: start, Summary: "session_start remote_uri=" + remoteURI})
	return s, nil
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// Record appends one processed command to the transcript.
func (s *Session) Record(cmd *messages.Command) {
	if s == nil {
		return
	}
	_ = s.enc.Encode(entry{Time: time.Now(), Command: cmd.String()})
}

// Close writes the terminal summary line and closes the file.
func (s *Session) Close(summary string) error {
	if s == nil {
		return nil
	}
	_ = s.enc.Encode(entry{Time: time.Now(), Summary: summary})
	return s.file.Close()
}
