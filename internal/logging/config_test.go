package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		want zerolog.Level
		ok   bool
	}{
		"":        {zerolog.InfoLevel, false},
		" DEBUG ": {zerolog.DebugLevel, true},
		"warning": {zerolog.WarnLevel, true},
		"off":     {zerolog.Disabled, true},
		"verbose": {zerolog.InfoLevel, false},
		"trace":   {zerolog.TraceLevel, true},
	}
	for raw, tc := range cases {
		got, ok := parseLevel(raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v,%v want %v,%v", raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEnvOverridesProfile(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "true")
	t.Setenv(EnvLogNoColor, "maybe")

	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || !cfg.Timestamp || cfg.NoColor {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
