package sinks

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"tracepipe/pkg/compression"
	"tracepipe/pkg/types"
)

// LocalFileOutput appends every entry's payload to a single file,
// compressed with the algorithm named by the "compression" property
// (none by default), each followed by a newline. It is the simplest
// non-discarding output kind, adapted from the teacher's disk-backed
// sink but stripped of rotation/retention — this sink is a debugging
// aid for trace envelopes, not a durable store (persistence of the
// envelopes themselves is out of scope).
type LocalFileOutput struct {
	propertyBag
	logger *logrus.Logger

	mutex sync.Mutex
	file  *os.File
}

// NewLocalFileOutput returns a LocalFileOutput. The destination path
// is read from the "path" property, set via SetProperty before Start.
func NewLocalFileOutput(logger *logrus.Logger) *LocalFileOutput {
	return &LocalFileOutput{propertyBag: newPropertyBag(), logger: logger}
}

func (l *LocalFileOutput) Start(ctx context.Context) error {
	path := l.props["path"]
	if path == "" {
		path = "/tmp/tracepipe-trace.log"
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("local_file output: opening %q: %w", path, err)
	}

	l.mutex.Lock()
	l.file = f
	l.mutex.Unlock()

	l.logger.WithField("path", path).Info("local_file output started")
	return nil
}

func (l *LocalFileOutput) Send(ctx context.Context, entries []types.LogEntry) error {
	alg := compression.Algorithm(l.props["compression"])

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file == nil {
		return fmt.Errorf("local_file output: not started")
	}

	for _, entry := range entries {
		payload, err := compression.Compress(alg, entry.Payload)
		if err != nil {
			return fmt.Errorf("local_file output: compressing payload: %w", err)
		}
		if _, err := l.file.Write(payload); err != nil {
			return fmt.Errorf("local_file output: writing payload: %w", err)
		}
		if _, err := l.file.Write([]byte("\n")); err != nil {
			return fmt.Errorf("local_file output: writing separator: %w", err)
		}
	}
	return nil
}

func (l *LocalFileOutput) Stop() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
