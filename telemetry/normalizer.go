package telemetry

import (
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/pkg/clock"
	"github.com/c360/obdstream/pkg/timestamp"
)

const snippetLimit = 96

// ParseError describes a payload that could not be turned into a Frame.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("telemetry: %s: %q", e.Reason, e.Snippet)
}

// Unwrap lets callers match parse failures with errors.Is(err, errors.ErrParsingFailed).
func (e *ParseError) Unwrap() error {
	return errors.ErrParsingFailed
}

// Normalizer converts raw stream payloads into Frames.
//
// Accepted shape: a JSON object with an optional "timestamp" (milliseconds, as
// a number or numeric string) and an object of channel values under "pids"
// ("channels" is accepted as an alias). Anything missing is defaulted; only
// text that is not a JSON object is rejected.
type Normalizer struct {
	clock clock.Clock
}

// NewNormalizer creates a normalizer. A nil clock uses wall time for frames
// that carry no usable timestamp.
func NewNormalizer(c clock.Clock) *Normalizer {
	return &Normalizer{clock: clock.OrReal(c)}
}

// Normalize parses raw into a Frame. It never panics; malformed input yields
// an invalid-class error wrapping *ParseError.
func (n *Normalizer) Normalize(raw string) (Frame, error) {
	if !gjson.Valid(raw) {
		return Frame{}, n.fail("invalid json", raw)
	}

	root := gjson.Parse(raw)
	if !root.IsObject() {
		return Frame{}, n.fail("payload is not an object", raw)
	}

	ts, ok := frameTimestamp(root.Get("timestamp"))
	if !ok {
		ts = timestamp.ToUnixMs(n.clock.Now())
	}

	channels := make(map[ChannelKey]Value)
	source := root.Get("pids")
	if !source.IsObject() {
		source = root.Get("channels")
	}
	if source.IsObject() {
		source.ForEach(func(k, v gjson.Result) bool {
			channels[NewChannelKey(k.String())] = coerce(v)
			return true
		})
	}

	return Frame{timestamp: ts, channels: channels}, nil
}

func (n *Normalizer) fail(reason, raw string) error {
	return errors.WrapInvalid(&ParseError{Reason: reason, Snippet: snippet(raw)},
		"Normalizer", "Normalize", "parse payload")
}

func frameTimestamp(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		return timestamp.FromFloat(v.Float())
	case gjson.String:
		return timestamp.ParseMs(v.Str)
	default:
		return 0, false
	}
}

func coerce(v gjson.Result) Value {
	switch v.Type {
	case gjson.Number:
		if f, ok := parseDecimal(v.Raw); ok {
			return Number(f)
		}
		return Text(v.Raw)
	case gjson.String:
		return String(v.Str)
	case gjson.True:
		return Number(1)
	case gjson.False:
		return Number(0)
	case gjson.Null:
		return Text("")
	default:
		// nested objects and arrays are kept verbatim and never numeric
		return Text(v.Raw)
	}
}

func snippet(raw string) string {
	if len(raw) <= snippetLimit {
		return raw
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut] + "..."
}
