package gcode

import "testing"

func TestParseBasic(t *testing.T) {
	c, err := Parse("G0 X10 Y20.5", ChannelHTTP)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if c.Command() != "G0" {
		t.Errorf("expected G0, got %s", c.Command())
	}
	if c.Channel != ChannelHTTP {
		t.Errorf("expected ChannelHTTP, got %v", c.Channel)
	}
	x, ok := c.Get("X")
	if !ok {
		t.Fatal("expected X param")
	}
	v, err := x.Float()
	if err != nil || v != 10 {
		t.Errorf("expected X=10, got %v err=%v", v, err)
	}
}

func TestParseDecimalCommand(t *testing.T) {
	c, err := Parse("G28.1", ChannelUSB)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if c.Major != 28 || c.Minor != 1 {
		t.Errorf("expected 28.1, got %d.%d", c.Major, c.Minor)
	}
	if c.Command() != "G28.1" {
		t.Errorf("expected G28.1, got %s", c.Command())
	}
}

func TestParseComments(t *testing.T) {
	c, err := Parse("G1 X5 (move to x) ; trailing comment", ChannelFile)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(c.Params) != 1 {
		t.Errorf("expected 1 param, got %d", len(c.Params))
	}
}

func TestParseDeferredExpression(t *testing.T) {
	c, err := Parse("M118 S{move.axes[0].machine_position}", ChannelDaemon)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	p, ok := c.Get("S")
	if !ok {
		t.Fatal("expected S param")
	}
	if p.Expr != ExprDeferred {
		t.Errorf("expected deferred expression flag")
	}
	if _, err := p.Float(); err == nil {
		t.Error("expected Float() to fail on a deferred expression")
	}
}

func TestParseEmptyLine(t *testing.T) {
	if _, err := Parse("   ", ChannelHTTP); err == nil {
		t.Error("expected error for empty line")
	}
	if _, err := Parse("; just a comment", ChannelHTTP); err == nil {
		t.Error("expected error for comment-only line")
	}
}

func TestParseChannelRoundTrip(t *testing.T) {
	for _, name := range []string{"http", "telnet", "file", "usb", "aux", "daemon", "trigger", "queue", "lcd", "sbc", "autopause"} {
		ch, err := ParseChannel(name)
		if err != nil {
			t.Fatalf("ParseChannel(%s) failed: %v", name, err)
		}
		if ch.String() != name {
			t.Errorf("round trip mismatch: %s -> %v -> %s", name, ch, ch.String())
		}
	}
}

func TestGetFloatFallback(t *testing.T) {
	c, err := Parse("G1 X10", ChannelHTTP)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v := c.GetFloat("Z", -1); v != -1 {
		t.Errorf("expected fallback -1, got %v", v)
	}
	if v := c.GetFloat("X", -1); v != 10 {
		t.Errorf("expected 10, got %v", v)
	}
}
