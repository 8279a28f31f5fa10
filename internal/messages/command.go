// Package messages defines the control message exchanged between the hub
// and its six workers, and the opaque audio frame that travels on a
// separate set of channels.
package messages

import (
	"fmt"
	"strings"
)

// Command is a structured control message. Args preserves insertion order
// so that String() round-trips deterministically instead of reordering by
// map iteration.
type Command struct {
	Name        string
	Source      string
	Destination string

	keys []string
	vals map[string]string
}

// NewCommand builds a Command with the given name and source/destination.
// Use Set to attach ordered arguments.
func NewCommand(name, source, destination string) *Command {
	return &Command{
		Name:        name,
		Source:      source,
		Destination: destination,
		vals:        make(map[string]string),
	}
}

// Set attaches or overwrites a named argument, preserving first-seen order.
func (c *Command) Set(key, value string) *Command {
	if c.vals == nil {
		c.vals = make(map[string]string)
	}
	if _, exists := c.vals[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.vals[key] = value
	return c
}

// Arg returns the named argument and whether it was present.
func (c *Command) Arg(key string) (string, bool) {
	if c.vals == nil {
		return "", false
	}
	v, ok := c.vals[key]
	return v, ok
}

// Keys returns the argument names in insertion order.
func (c *Command) Keys() []string {
	return append([]string(nil), c.keys...)
}

// String renders the command in the textual form name(k1="v1",k2="v2").
// Quotes and backslashes inside values are escaped so the form round-trips
// through ParseCommand even for arbitrary payloads.
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('(')
	for i, k := range c.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escape(c.vals[k]))
		b.WriteByte('"')
	}
	b.WriteByte(')')
	return b.String()
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func unescape(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseCommand parses the textual form produced by Command.String.
// Source and Destination are not part of the textual form; callers that
// need them set Command.Source/Destination after parsing (they travel
// alongside the command on the channel, not inside its serialised body).
func ParseCommand(s string) (*Command, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("messages: malformed command %q", s)
	}
	name := s[:open]
	if name == "" {
		return nil, fmt.Errorf("messages: missing command name in %q", s)
	}
	body := s[open+1 : len(s)-1]

	cmd := NewCommand(name, "", "")
	if body == "" {
		return cmd, nil
	}

	for _, pair := range splitArgs(body) {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return nil, fmt.Errorf("messages: malformed argument %q in %q", pair, s)
		}
		key := strings.TrimSpace(pair[:eq])
		raw := strings.TrimSpace(pair[eq+1:])
		raw = strings.TrimPrefix(raw, `"`)
		raw = strings.TrimSuffix(raw, `"`)
		cmd.Set(key, unescape(raw))
	}
	return cmd, nil
}

// splitArgs splits a comma-separated argument list while respecting commas
// that appear inside quoted, possibly-escaped values.
func splitArgs(body string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	escaped := false
	for _, r := range body {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuotes:
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// AudioFrame is an opaque PCM/encoded payload plus optional codec metadata.
// The hub treats it as bytes; only VoipIO/VAD/TTS interpret the payload.
type AudioFrame struct {
	Payload    []byte
	Codec      string
	SampleRate uint32
	Timestamp  uint32
}
