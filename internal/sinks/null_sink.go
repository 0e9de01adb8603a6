package sinks

import (
	"context"

	"github.com/sirupsen/logrus"

	"tracepipe/pkg/types"
)

// NullOutput discards everything it receives. It exists for the same
// reason fluent-bit ships a "null" output plugin: a harmless default
// for tests and for operators who want the trace sub-pipeline running
// (and its counters incrementing) without actually shipping envelopes
// anywhere.
type NullOutput struct {
	propertyBag
	logger *logrus.Logger
}

// NewNullOutput returns an Output that drops every entry it is sent.
func NewNullOutput(logger *logrus.Logger) *NullOutput {
	return &NullOutput{propertyBag: newPropertyBag(), logger: logger}
}

func (n *NullOutput) Start(ctx context.Context) error { return nil }
func (n *NullOutput) Stop() error                      { return nil }

func (n *NullOutput) Send(ctx context.Context, entries []types.LogEntry) error {
	n.logger.WithField("count", len(entries)).Debug("null output: discarding entries")
	return nil
}
