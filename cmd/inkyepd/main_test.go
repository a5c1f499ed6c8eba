package main

import "testing"

func TestFlagValidate(t *testing.T) {
	tests := []struct {
		name  string
		flags flagConfig
		ok    bool
	}{
		{"daemon", flagConfig{}, true},
		{"once with dump", flagConfig{once: true, dump: "/tmp/d"}, true},
		{"render-only with dump", flagConfig{renderOnly: true, dump: "/tmp/d"}, true},
		{"daemon with dump", flagConfig{dump: "/tmp/d"}, false},
		{"clear with dump", flagConfig{clear: true, dump: "/tmp/d"}, false},
		{"render-only with once", flagConfig{renderOnly: true, once: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.flags.validate(); (err == nil) != tt.ok {
				t.Errorf("validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
