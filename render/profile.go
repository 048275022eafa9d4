package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/obdstream/errors"
)

// Profile is a named render cadence.
type Profile string

// Known profiles.
const (
	ProfilePerformance Profile = "performance"
	ProfilePowerSave   Profile = "powersave"
)

var profileIntervals = map[Profile]time.Duration{
	ProfilePerformance: 120 * time.Millisecond,
	ProfilePowerSave:   600 * time.Millisecond,
}

// ParseProfile resolves a profile name, ignoring case and surrounding space.
func ParseProfile(name string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := profileIntervals[p]; !ok {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unknown render profile %q", errors.ErrInvalidConfig, name),
			"render", "ParseProfile", "resolve profile")
	}
	return p, nil
}

// Interval returns the decoupling interval for the profile. Unknown profiles
// fall back to the performance interval.
func (p Profile) Interval() time.Duration {
	if d, ok := profileIntervals[p]; ok {
		return d
	}
	return profileIntervals[ProfilePerformance]
}
