package sinks

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"tracepipe/pkg/types"
)

// Output kind names. KindTelemetry is the one recognized by the trace
// sub-pipeline's credential-propagation special case (spec.md §4.3
// step 5, §6): when a trace context is created with this output kind,
// its properties are copied from an existing instance of the same
// kind in the outer engine rather than from caller-supplied properties.
const (
	KindNull      = "null"
	KindLocalFile = "local_file"
	KindKafka     = "kafka"
	KindTelemetry = "calyptia"
)

// New constructs an Output of the given kind. userData is passed
// through to kind-specific constructors the same way flb_output_new
// threads an opaque "data" pointer to the plugin.
func New(kind string, userData interface{}, logger *logrus.Logger) (types.Output, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch kind {
	case KindNull:
		return NewNullOutput(logger), nil
	case KindLocalFile:
		return NewLocalFileOutput(logger), nil
	case KindKafka:
		return NewKafkaOutput(logger), nil
	case KindTelemetry:
		return NewTelemetryOutput(userData, logger), nil
	default:
		return nil, fmt.Errorf("sinks: unknown output kind %q", kind)
	}
}
