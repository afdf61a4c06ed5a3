package config_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/config"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("expected defaults to validate cleanly, got %v", err)
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Queue.DropPolicy = "bogus"
	cfg.Batch.MaxBatchSize = 0
	cfg.Observability.LogLevel = "verbose"

	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"drop_policy", "max_batch_size", "log_level"} {
		if !contains(msg, want) {
			t.Fatalf("expected aggregated error to mention %q, got: %s", want, msg)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
