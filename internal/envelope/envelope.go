// Package envelope builds and decodes the binary trace envelopes the
// sub-pipeline emits: a top-level two-element array
// [now, meta_map], where meta_map carries the stage-specific fields
// tabulated in spec.md §4.4. Encoding uses the engine's canonical
// binary object format, msgpack, via vmihailenco/msgpack/v5 — the
// same library DataDog's Go agent and tracer use to pack span/trace
// payloads onto the wire.
package envelope

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Type is the envelope's stage discriminant, a stable integer matching
// the host engine's public header ordering: INPUT, FILTER, PRE_OUTPUT.
type Type int

const (
	TypeInput Type = iota
	TypeFilter
	TypePreOutput
)

// Tag is the literal routing tag every envelope is emitted under.
const Tag = "trace"

// Record is one [timestamp, record] pair as carried in a host input's
// packed chunk buffer.
type Record struct {
	Timestamp time.Time
	Body      interface{}
}

// EncodeInput builds an INPUT envelope: start_time and end_time are
// both "now" at encoder entry (see Open Question in spec.md §9 — this
// matches the original fluent-bit implementation's behavior exactly,
// bug or not).
func EncodeInput(buf []byte, traceID, pluginInstance string, pluginAlias *string) ([]byte, error) {
	now := time.Now()
	return encode(buf, TypeInput, traceID, pluginInstance, pluginAlias, now, now)
}

// EncodePreOutput builds a PRE_OUTPUT envelope, identical in shape to
// an INPUT envelope but for the type discriminant.
func EncodePreOutput(buf []byte, traceID, pluginInstance string, pluginAlias *string) ([]byte, error) {
	now := time.Now()
	return encode(buf, TypePreOutput, traceID, pluginInstance, pluginAlias, now, now)
}

// EncodeFilter builds a FILTER envelope using buf (the filter's own
// working buffer, not the chunk's current content) and the caller's
// time window rather than "now".
func EncodeFilter(buf []byte, traceID, pluginInstance string, pluginAlias *string, start, end time.Time) ([]byte, error) {
	return encode(buf, TypeFilter, traceID, pluginInstance, pluginAlias, start, end)
}

// encode implements the shared two-pass record-expansion protocol: the
// packed buffer is decoded once to count records (so the array header
// can carry the right length up front) and once more to emit each
// pair as a {timestamp, record} map. Any unpack failure aborts the
// whole envelope — the partially built buffer is discarded and no
// emission occurs.
func encode(buf []byte, kind Type, traceID, pluginInstance string, pluginAlias *string, start, end time.Time) ([]byte, error) {
	count, err := countRecords(buf)
	if err != nil {
		return nil, fmt.Errorf("envelope: unable to unpack record: %w", err)
	}

	var out bytes.Buffer
	enc := msgpack.NewEncoder(&out)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt64(time.Now().UnixNano()); err != nil {
		return nil, err
	}

	fieldCount := 6
	if pluginAlias != nil && *pluginAlias != "" {
		fieldCount = 7
	}
	if err := enc.EncodeMapLen(fieldCount); err != nil {
		return nil, err
	}

	if err := encodeKV(enc, "type", int(kind)); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "trace_id", traceID); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "plugin_instance", pluginInstance); err != nil {
		return nil, err
	}
	if fieldCount == 7 {
		if err := encodeKV(enc, "plugin_alias", *pluginAlias); err != nil {
			return nil, err
		}
	}

	if err := enc.EncodeString("records"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(count); err != nil {
		return nil, err
	}
	if err := encodeRecords(enc, buf); err != nil {
		return nil, fmt.Errorf("envelope: unable to unpack record: %w", err)
	}

	if err := encodeKV(enc, "start_time", start.UnixNano()); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "end_time", end.UnixNano()); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

func encodeKV(enc *msgpack.Encoder, key string, value interface{}) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.Encode(value)
}

// countRecords performs the first pass: decode every [timestamp,
// record] pair in buf purely to count them, without materializing the
// record bodies.
func countRecords(buf []byte) (int, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	count := 0
	for {
		n, err := dec.DecodeArrayLen()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if n != 2 {
			return 0, fmt.Errorf("malformed record pair: expected 2 elements, got %d", n)
		}
		if err := dec.Skip(); err != nil {
			return 0, err
		}
		if err := dec.Skip(); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// encodeRecords performs the second pass: decode every pair again and
// re-encode it as a {timestamp, record} map into enc.
func encodeRecords(enc *msgpack.Encoder, buf []byte) error {
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	for {
		n, err := dec.DecodeArrayLen()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n != 2 {
			return fmt.Errorf("malformed record pair: expected 2 elements, got %d", n)
		}

		tsNanos, err := dec.DecodeInt64()
		if err != nil {
			return err
		}
		record, err := dec.DecodeInterface()
		if err != nil {
			return err
		}

		if err := enc.EncodeMapLen(2); err != nil {
			return err
		}
		if err := encodeKV(enc, "timestamp", tsNanos); err != nil {
			return err
		}
		if err := encodeKV(enc, "record", record); err != nil {
			return err
		}
	}
}

// PackRecords encodes a slice of Records into the packed buffer format
// this package's encoder expects: a back-to-back sequence of
// [timestamp_unix_nanos, record] pairs, mirroring a host input chunk's
// raw content. Used by callers assembling a chunk and by tests.
func PackRecords(records []Record) ([]byte, error) {
	var out bytes.Buffer
	enc := msgpack.NewEncoder(&out)
	for _, r := range records {
		if err := enc.EncodeArrayLen(2); err != nil {
			return nil, err
		}
		if err := enc.EncodeInt64(r.Timestamp.UnixNano()); err != nil {
			return nil, err
		}
		if err := enc.Encode(r.Body); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}
