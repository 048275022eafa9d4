// Package telemetry defines the canonical frame model for inbound vehicle
// telemetry and the normalizer that builds frames from raw stream payloads.
package telemetry

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ChannelKey identifies a telemetry channel (an OBD-II PID name). Keys are
// case-insensitive; the canonical form is upper case.
type ChannelKey string

// NewChannelKey canonicalizes a raw channel name.
func NewChannelKey(name string) ChannelKey {
	return ChannelKey(strings.ToUpper(name))
}

// String returns the canonical key.
func (k ChannelKey) String() string {
	return string(k)
}

// Kind discriminates the two shapes a channel value can take after
// normalization.
type Kind int

const (
	// KindString is a value that is not numeric, including the empty string.
	KindString Kind = iota
	// KindNumber is a finite float64.
	KindNumber
)

// Value is a normalized channel value.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Number builds a numeric Value. Non-finite inputs become strings so they never
// reach numeric consumers.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{kind: KindString, str: strconv.FormatFloat(f, 'g', -1, 64)}
	}
	return Value{kind: KindNumber, num: f}
}

// String builds a Value from text, converting decimal numeric strings to
// numbers.
func String(s string) Value {
	if f, ok := parseDecimal(s); ok {
		return Value{kind: KindNumber, num: f}
	}
	return Value{kind: KindString, str: s}
}

// Text builds a Value that is never numeric.
func Text(s string) Value {
	return Value{kind: KindString, str: s}
}

// Kind returns the value kind.
func (v Value) Kind() Kind {
	return v.kind
}

// Float returns the numeric projection of the value.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String renders the value as text.
func (v Value) String() string {
	if v.kind == KindNumber {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// MarshalJSON writes numbers as JSON numbers and everything else as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber {
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	}
	return json.Marshal(v.str)
}

// parseDecimal accepts plain decimal notation (with optional exponent) and
// rejects hex, underscores and non-finite spellings that strconv would allow.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "xX_pP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Frame is one timestamped batch of channel values from a single inbound
// message. Frames are immutable once built.
type Frame struct {
	timestamp int64
	channels  map[ChannelKey]Value
}

// NewFrame builds a Frame from a copy of channels.
func NewFrame(ts int64, channels map[ChannelKey]Value) Frame {
	cp := make(map[ChannelKey]Value, len(channels))
	for k, v := range channels {
		cp[k] = v
	}
	return Frame{timestamp: ts, channels: cp}
}

// Timestamp returns the frame time in Unix milliseconds.
func (f Frame) Timestamp() int64 {
	return f.timestamp
}

// Len returns the number of channels in the frame.
func (f Frame) Len() int {
	return len(f.channels)
}

// Value returns the value of a channel.
func (f Frame) Value(key ChannelKey) (Value, bool) {
	v, ok := f.channels[key]
	return v, ok
}

// Keys returns the channel keys in sorted order.
func (f Frame) Keys() []ChannelKey {
	keys := make([]ChannelKey, 0, len(f.channels))
	for k := range f.channels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Range calls fn for every channel in key order until fn returns false.
func (f Frame) Range(fn func(key ChannelKey, v Value) bool) {
	for _, k := range f.Keys() {
		if !fn(k, f.channels[k]) {
			return
		}
	}
}

type frameJSON struct {
	Timestamp int64                `json:"timestamp"`
	PIDs      map[ChannelKey]Value `json:"pids"`
}

// MarshalJSON renders the frame in the same shape producers send.
func (f Frame) MarshalJSON() ([]byte, error) {
	pids := f.channels
	if pids == nil {
		pids = map[ChannelKey]Value{}
	}
	return json.Marshal(frameJSON{Timestamp: f.timestamp, PIDs: pids})
}
