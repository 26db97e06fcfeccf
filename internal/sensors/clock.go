package sensors

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
)

// TimeLayout is the only timestamp format accessors accept and return.
const TimeLayout = "2006-01-02 15:04:05"

// Clock converts between stored unix timestamps and user-local wall time.
type Clock struct {
	def   *time.Location
	users map[string]*time.Location
}

// NewClock loads the default and per-user time zones. Unknown zone names fail.
func NewClock(cfg model.DataConfig) (*Clock, error) {
	name := cfg.DefaultTimezone
	if name == "" {
		name = "America/New_York"
	}
	def, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load default timezone %q: %w", name, err)
	}

	c := &Clock{def: def, users: make(map[string]*time.Location, len(cfg.UserTimezones))}
	for uid, zone := range cfg.UserTimezones {
		zone = strings.TrimSpace(zone)
		// "est" is the legacy spelling of the default zone
		if zone == "" || strings.EqualFold(zone, "est") {
			c.users[uid] = def
			continue
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q for %s: %w", zone, uid, err)
		}
		c.users[uid] = loc
	}
	return c, nil
}

// Location returns the user's zone, or the default zone.
func (c *Clock) Location(uid string) *time.Location {
	if loc, ok := c.users[uid]; ok {
		return loc
	}
	return c.def
}

// Parse reads a wall-clock timestamp in the user's zone.
func (c *Clock) Parse(uid, s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), c.Location(uid))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q must use format %s", errx.ErrInvalidArgument, s, TimeLayout)
	}
	return t, nil
}

// Format renders t as wall-clock time in the user's zone.
func (c *Clock) Format(uid string, t time.Time) string {
	return t.In(c.Location(uid)).Format(TimeLayout)
}

// FromUnix converts a stored epoch-seconds value.
func FromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
