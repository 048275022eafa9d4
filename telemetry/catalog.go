package telemetry

import (
	"sort"
	"strconv"
)

// Unit selects how a channel value is rendered for display.
type Unit string

// Display units for known channels.
const (
	UnitPercent     Unit = "pct"
	UnitRPM         Unit = "rpm"
	UnitKmh         Unit = "kmh"
	UnitCelsius     Unit = "tempC"
	UnitGramsPerSec Unit = "g_s"
	UnitVolt        Unit = "volt"
	UnitSeconds     Unit = "sec"
	UnitKilometres  Unit = "dist"
	UnitKPa         Unit = "kPa"
	UnitBTDC        Unit = "BTDC"
	UnitMilliamp    Unit = "mA"
	UnitRaw         Unit = "raw"
)

var unitFormats = map[Unit]struct {
	decimals int
	suffix   string
}{
	UnitPercent:     {1, " %"},
	UnitRPM:         {0, " rpm"},
	UnitKmh:         {0, " km/h"},
	UnitCelsius:     {0, " °C"},
	UnitGramsPerSec: {2, " g/s"},
	UnitVolt:        {2, " V"},
	UnitSeconds:     {0, " s"},
	UnitKilometres:  {0, " km"},
	UnitKPa:         {2, " kPa"},
	UnitBTDC:        {1, " ° BTDC"},
	UnitMilliamp:    {2, " mA"},
}

// Format renders v in this unit. Non-numeric values and UnitRaw render the
// raw text unchanged.
func (u Unit) Format(v Value) string {
	f, ok := v.Float()
	spec, known := unitFormats[u]
	if !ok || !known {
		return v.String()
	}
	return strconv.FormatFloat(f, 'f', spec.decimals, 64) + spec.suffix
}

// PID describes a known channel.
type PID struct {
	Key  ChannelKey `json:"pid"`
	Name string     `json:"name"`
	Unit Unit       `json:"unit"`
}

// Catalog is the set of channels presented as current readings.
type Catalog struct {
	pids map[ChannelKey]PID
}

// NewCatalog builds a catalog from pids. Later entries replace earlier ones
// with the same key.
func NewCatalog(pids ...PID) *Catalog {
	c := &Catalog{pids: make(map[ChannelKey]PID, len(pids))}
	for _, p := range pids {
		p.Key = NewChannelKey(string(p.Key))
		c.pids[p.Key] = p
	}
	return c
}

// DefaultCatalog returns the standard OBD-II channel set.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		PID{"RPM", "Engine speed", UnitRPM},
		PID{"SPEED", "Vehicle speed", UnitKmh},
		PID{"COOLANT_TEMP", "Coolant temperature", UnitCelsius},
		PID{"INTAKE_TEMP", "Intake air temperature", UnitCelsius},
		PID{"INTAKE_PRESSURE", "Intake manifold pressure", UnitKPa},
		PID{"BAROMETRIC_PRESSURE", "Barometric pressure", UnitKPa},
		PID{"TIMING_ADVANCE", "Timing advance", UnitBTDC},
		PID{"THROTTLE_POS", "Throttle position", UnitPercent},
		PID{"THROTTLE_ACTUATOR", "Commanded throttle actuator", UnitPercent},
		PID{"THROTTLE_POS_B", "Absolute throttle position B", UnitPercent},
		PID{"RELATIVE_THROTTLE_POS", "Relative throttle position", UnitPercent},
		PID{"ENGINE_LOAD", "Calculated engine load", UnitPercent},
		PID{"ABSOLUTE_LOAD", "Absolute load value", UnitPercent},
		PID{"LONG_FUEL_TRIM_1", "Long term fuel trim bank 1", UnitPercent},
		PID{"SHORT_FUEL_TRIM_1", "Short term fuel trim bank 1", UnitPercent},
		PID{"MAF", "Mass air flow", UnitGramsPerSec},
		PID{"EVAPORATIVE_PURGE", "Commanded evaporative purge", UnitPercent},
		PID{"COMMANDED_EGR", "Commanded EGR", UnitPercent},
		PID{"CATALYST_TEMP_B1S1", "Catalyst temperature B1S1", UnitCelsius},
		PID{"CATALYST_TEMP_B1S2", "Catalyst temperature B1S2", UnitCelsius},
		PID{"O2_S1_WR_VOLTAGE", "O2 sensor 1 wide range voltage", UnitVolt},
		PID{"O2_S1_WR_CURRENT", "O2 sensor 1 wide range current", UnitMilliamp},
		PID{"O2_B1S2", "O2 sensor B1S2 voltage", UnitVolt},
		PID{"ELM_VOLTAGE", "Adapter voltage", UnitVolt},
		PID{"CONTROL_MODULE_VOLTAGE", "Control module voltage", UnitVolt},
		PID{"RUN_TIME", "Engine run time", UnitSeconds},
		PID{"RUN_TIME_MIL", "Run time with MIL on", UnitSeconds},
		PID{"DISTANCE_W_MIL", "Distance with MIL on", UnitKilometres},
		PID{"TIME_SINCE_DTC_CLEARED", "Time since codes cleared", UnitSeconds},
		PID{"DISTANCE_SINCE_DTC_CLEAR", "Distance since codes cleared", UnitKilometres},
	)
}

// Lookup returns the catalog entry for key.
func (c *Catalog) Lookup(key ChannelKey) (PID, bool) {
	p, ok := c.pids[key]
	return p, ok
}

// Len returns the number of known channels.
func (c *Catalog) Len() int {
	return len(c.pids)
}

// Reading is one current channel value prepared for display.
type Reading struct {
	Key     ChannelKey `json:"pid"`
	Name    string     `json:"name"`
	Unit    Unit       `json:"unit"`
	Raw     string     `json:"raw"`
	Display string     `json:"value"`
	Numeric *float64   `json:"numeric,omitempty"`
}

// Readings returns the frame's known channels sorted by display name. Unknown
// channels are skipped.
func (c *Catalog) Readings(f Frame) []Reading {
	out := make([]Reading, 0, f.Len())
	f.Range(func(key ChannelKey, v Value) bool {
		p, ok := c.pids[key]
		if !ok {
			return true
		}
		r := Reading{
			Key:     key,
			Name:    p.Name,
			Unit:    p.Unit,
			Raw:     v.String(),
			Display: p.Unit.Format(v),
		}
		if n, ok := v.Float(); ok {
			r.Numeric = &n
		}
		out = append(out, r)
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
