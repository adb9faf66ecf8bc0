// Package telemetry writes auth-event metrics to InfluxDB v2.
//
// Writes are asynchronous and batched; a broker outage never blocks or
// fails an auth flow. One point is written per event (qr_generated,
// qr_scanned, pin_verified, session_validated, rate_limited, ...)
// tagged with the relying service where known.
package telemetry

import (
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nexauth/nexauth-core/internal/infrastructure/config"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
)

// Auth event names.
const (
	EventQRGenerated      = "qr_generated"
	EventQRScanned        = "qr_scanned"
	EventPINVerified      = "pin_verified"
	EventPINRejected      = "pin_rejected"
	EventSessionValidated = "session_validated"
	EventLogout           = "logout"
	EventRateLimited      = "rate_limited"
	EventWindowClosed     = "window_closed"
)

// measurement is the single measurement all auth events share.
const measurement = "auth_events"

// ErrDisabled is returned when telemetry is not enabled in configuration.
var ErrDisabled = errors.New("telemetry is disabled")

// Writer records auth events to InfluxDB.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *logging.Logger
}

// New creates a telemetry writer. Returns ErrDisabled when the config
// has telemetry turned off.
func New(cfg config.TelemetryConfig, log *logging.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).             //nolint:gosec // Validated positive
		SetFlushInterval(uint(cfg.FlushInterval * 1000)) //nolint:gosec // Seconds to ms, validated positive

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	logger := log.With("component", "telemetry")

	// Drain async write errors so they surface in logs instead of
	// silently filling the error channel.
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("telemetry write failed", "error", err)
		}
	}()

	return &Writer{
		client:   client,
		writeAPI: writeAPI,
		log:      logger,
	}, nil
}

// RecordAuthEvent writes one auth event point. Non-blocking.
func (w *Writer) RecordAuthEvent(event, serviceID string, at time.Time) {
	point := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("event", event).
		AddField("count", 1).
		SetTime(at)
	if serviceID != "" {
		point.AddTag("service_id", serviceID)
	}
	w.writeAPI.WritePoint(point)
}

// Close flushes pending points and shuts the client down.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
	w.log.Info("telemetry closed")
}
