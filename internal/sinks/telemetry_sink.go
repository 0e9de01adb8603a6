package sinks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"tracepipe/pkg/types"
)

// TelemetryOutput is the generic HTTP sink behind the recognized
// KindTelemetry output kind. Its defining trait isn't its wire format,
// it's that a trace context created against this kind inherits its
// endpoint and API key from an existing instance already running in
// the outer engine (spec.md §4.3 step 5) instead of from whatever
// properties the caller supplied, so a caller can ask for "the same
// place the host's logs already go" without ever seeing the key.
type TelemetryOutput struct {
	propertyBag
	logger *logrus.Logger
	client *http.Client
}

// NewTelemetryOutput returns a TelemetryOutput. userData is unused
// here; outputs that need host-engine-provided construction state
// thread it through this parameter, mirroring flb_output_new's opaque
// data argument.
func NewTelemetryOutput(userData interface{}, logger *logrus.Logger) *TelemetryOutput {
	return &TelemetryOutput{
		propertyBag: newPropertyBag(),
		logger:      logger,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelemetryOutput) Start(ctx context.Context) error {
	if t.props["endpoint"] == "" {
		return fmt.Errorf("telemetry output: no endpoint configured")
	}
	t.logger.WithField("endpoint", t.props["endpoint"]).Info("telemetry output started")
	return nil
}

func (t *TelemetryOutput) Send(ctx context.Context, entries []types.LogEntry) error {
	endpoint := t.props["endpoint"]
	apiKey := t.props["api_key"]

	for _, entry := range entries {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(entry.Payload))
		if err != nil {
			return fmt.Errorf("telemetry output: building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/msgpack")
		req.Header.Set("X-Trace-Tag", entry.Tag)
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("telemetry output: posting entry: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("telemetry output: endpoint returned status %d", resp.StatusCode)
		}
	}
	return nil
}

func (t *TelemetryOutput) Stop() error { return nil }
