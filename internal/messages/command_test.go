package messages

import "testing"

func TestCommandRoundTrip(t *testing.T) {
	cmd := NewCommand("synthesize", "HUB", "TTS1").
		Set("user_id", "3").
		Set("text", `say "hi" please`)

	s := cmd.String()
	const want = `synthesize(user_id="3",text="say \"hi\" please")`
	if s != want {
		t.Fatalf("String() = %q, want %q", s, want)
	}

	parsed, err := ParseCommand(s)
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if parsed.Name != "synthesize" {
		t.Fatalf("Name = %q", parsed.Name)
	}
	if v, ok := parsed.Arg("user_id"); !ok || v != "3" {
		t.Fatalf("user_id = %q, %v", v, ok)
	}
	if v, ok := parsed.Arg("text"); !ok || v != `say "hi" please` {
		t.Fatalf("text = %q, %v", v, ok)
	}
}

func TestParseCommandNoArgs(t *testing.T) {
	cmd, err := ParseCommand("hangup()")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Name != "hangup" || len(cmd.Keys()) != 0 {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandMalformed(t *testing.T) {
	if _, err := ParseCommand("nope"); err == nil {
		t.Fatal("expected error for missing parens")
	}
	if _, err := ParseCommand("f(a)"); err == nil {
		t.Fatal("expected error for argument without '='")
	}
}

func TestCommandWithCommaInValue(t *testing.T) {
	cmd := NewCommand("black_list", "HUB", "VoipIO1").
		Set("remote_uri", "sip:a@b,c").
		Set("expire", "123")
	parsed, err := ParseCommand(cmd.String())
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if v, _ := parsed.Arg("remote_uri"); v != "sip:a@b,c" {
		t.Fatalf("remote_uri = %q", v)
	}
	if v, _ := parsed.Arg("expire"); v != "123" {
		t.Fatalf("expire = %q", v)
	}
}
