package natssub

import "testing"

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Prefix != "orientdb" {
		t.Errorf("expected default prefix \"orientdb\", got %q", cfg.Prefix)
	}
	if cfg.AckWait <= 0 {
		t.Error("expected a positive default AckWait")
	}
	if cfg.MaxAckPending <= 0 {
		t.Error("expected a positive default MaxAckPending")
	}
}

func TestConfigDefaultsPreserveExplicitValues(t *testing.T) {
	cfg := Config{Prefix: "custom", AckWait: 5, MaxAckPending: 7}.withDefaults()
	if cfg.Prefix != "custom" {
		t.Errorf("expected explicit prefix to survive, got %q", cfg.Prefix)
	}
	if cfg.AckWait != 5 {
		t.Errorf("expected explicit AckWait to survive, got %v", cfg.AckWait)
	}
	if cfg.MaxAckPending != 7 {
		t.Errorf("expected explicit MaxAckPending to survive, got %v", cfg.MaxAckPending)
	}
}

func TestSanitizeReplacesSpaces(t *testing.T) {
	if got := sanitize("orientdb.node.A db0.request"); got != "orientdb.node.A_db0.request" {
		t.Errorf("unexpected sanitized name: %q", got)
	}
}

func TestFactoryNamingIsStableAndNamespaced(t *testing.T) {
	f := &Factory{cfg: Config{Prefix: "test"}}
	name := "orientdb.node.A.db0.request"

	if got := f.subject(name); got != "test."+name {
		t.Errorf("unexpected subject: %q", got)
	}

	stream := f.streamName(name)
	if stream != f.streamName(name) {
		t.Error("expected streamName to be deterministic for the same input")
	}
	for _, r := range stream {
		if r >= 'a' && r <= 'z' {
			t.Errorf("expected an all-uppercase stream name, got %q", stream)
			break
		}
	}
}
