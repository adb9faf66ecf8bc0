package telemetry

import (
	"errors"
	"testing"

	"github.com/nexauth/nexauth-core/internal/infrastructure/config"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
)

func TestNewDisabled(t *testing.T) {
	_, err := New(config.TelemetryConfig{Enabled: false}, logging.Default())
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
}
