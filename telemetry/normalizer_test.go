package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/pkg/clock"
)

var receiptTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(clock.NewFake(receiptTime))
}

func TestNormalize_WireFormat(t *testing.T) {
	n := newTestNormalizer()

	f, err := n.Normalize(`{"timestamp": 1000000, "pids": {"RPM": "812.5", "speed": 42, "STATUS": "OK"}}`)
	require.NoError(t, err)

	assert.Equal(t, int64(1000000), f.Timestamp())
	assert.Equal(t, []ChannelKey{"RPM", "SPEED", "STATUS"}, f.Keys())

	rpm, _ := f.Value("RPM")
	v, ok := rpm.Float()
	require.True(t, ok)
	assert.Equal(t, 812.5, v)

	speed, _ := f.Value("SPEED")
	v, ok = speed.Float()
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	status, _ := f.Value("STATUS")
	_, ok = status.Float()
	assert.False(t, ok)
	assert.Equal(t, "OK", status.String())
}

func TestNormalize_RejectsMalformedInput(t *testing.T) {
	n := newTestNormalizer()

	inputs := []string{
		"",
		"not json",
		`{"timestamp": 1`,
		`[1, 2, 3]`,
		`"just a string"`,
		`42`,
		`null`,
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			_, err := n.Normalize(raw)
			require.Error(t, err)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
			assert.True(t, errors.Is(err, errors.ErrParsingFailed))
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNormalize_TimestampFallback(t *testing.T) {
	n := newTestNormalizer()
	receipt := receiptTime.UnixMilli()

	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"missing", `{"pids": {}}`, receipt},
		{"null", `{"timestamp": null}`, receipt},
		{"non numeric string", `{"timestamp": "soon"}`, receipt},
		{"boolean", `{"timestamp": true}`, receipt},
		{"numeric string", `{"timestamp": "1700000000000"}`, 1700000000000},
		{"fractional", `{"timestamp": 1500.6}`, 1501},
		{"out of range", `{"timestamp": 1e300}`, receipt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := n.Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Timestamp())
		})
	}
}

func TestNormalize_ChannelsDefaultToEmpty(t *testing.T) {
	n := newTestNormalizer()

	for _, raw := range []string{`{}`, `{"pids": null}`, `{"pids": [1,2]}`, `{"pids": "RPM"}`} {
		f, err := n.Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, 0, f.Len(), raw)
	}
}

func TestNormalize_ChannelsAlias(t *testing.T) {
	f, err := newTestNormalizer().Normalize(`{"timestamp": 5, "channels": {"maf": 3.2}}`)
	require.NoError(t, err)

	maf, ok := f.Value("MAF")
	require.True(t, ok)
	v, _ := maf.Float()
	assert.Equal(t, 3.2, v)
}

func TestNormalize_ValueCoercion(t *testing.T) {
	f, err := newTestNormalizer().Normalize(`{"timestamp": 1, "pids": {
		"A": " 12 ",
		"B": true,
		"C": false,
		"D": null,
		"E": "",
		"F": "NaN",
		"G": "0x10",
		"H": {"nested": 1},
		"I": "1e3",
		"J": "Infinity"
	}}`)
	require.NoError(t, err)

	numeric := map[ChannelKey]float64{"A": 12, "B": 1, "C": 0, "I": 1000}
	for key, want := range numeric {
		v, ok := f.Value(key)
		require.True(t, ok, key)
		got, isNum := v.Float()
		assert.True(t, isNum, key)
		assert.Equal(t, want, got, key)
	}

	for _, key := range []ChannelKey{"D", "E", "F", "G", "H", "J"} {
		v, ok := f.Value(key)
		require.True(t, ok, key)
		_, isNum := v.Float()
		assert.False(t, isNum, key)
	}

	d, _ := f.Value("D")
	assert.Equal(t, "", d.String())
	h, _ := f.Value("H")
	assert.Equal(t, `{"nested": 1}`, h.String())
}

func TestNormalize_KeyCollisionLastWins(t *testing.T) {
	f, err := newTestNormalizer().Normalize(`{"timestamp": 1, "pids": {"rpm": 1, "RPM": 2}}`)
	require.NoError(t, err)

	assert.Equal(t, 1, f.Len())
	v, _ := f.Value("RPM")
	got, _ := v.Float()
	assert.Equal(t, 2.0, got)
}

func TestNormalize_NeverPanics(t *testing.T) {
	n := newTestNormalizer()
	inputs := []string{
		"{",
		"}",
		`{"pids": {"A": [}}`,
		strings.Repeat("[", 10000),
		"\x00\xff\xfe",
		`{"timestamp": -1e309}`,
	}
	for _, raw := range inputs {
		assert.NotPanics(t, func() { _, _ = n.Normalize(raw) })
	}
}

func TestParseError_SnippetIsTruncated(t *testing.T) {
	_, err := newTestNormalizer().Normalize(strings.Repeat("x", 500))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.LessOrEqual(t, len(pe.Snippet), snippetLimit+3)
	assert.True(t, strings.HasSuffix(pe.Snippet, "..."))
}

func TestFrame_MarshalJSON(t *testing.T) {
	f := NewFrame(1000, map[ChannelKey]Value{
		"RPM":    Number(800),
		"STATUS": Text("OK"),
	})

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":1000,"pids":{"RPM":800,"STATUS":"OK"}}`, string(data))
}

func TestFrame_IsImmutable(t *testing.T) {
	src := map[ChannelKey]Value{"RPM": Number(800)}
	f := NewFrame(1, src)
	src["RPM"] = Number(0)
	src["SPEED"] = Number(1)

	v, _ := f.Value("RPM")
	got, _ := v.Float()
	assert.Equal(t, 800.0, got)
	assert.Equal(t, 1, f.Len())
}
