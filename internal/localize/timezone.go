// Package localize converts instants into a recipient's local time.
package localize

import (
	"sync"
	"time"
)

// fixedZones covers the zones clients report most often. Entries are fixed offsets
// and ignore daylight saving; zones missing here go through the tz database.
var fixedZones = map[string]int{
	"UTC":                 0,
	"GMT":                 0,
	"Etc/UTC":             0,
	"Africa/Lagos":        1 * 3600,
	"Africa/Accra":        0,
	"Africa/Nairobi":      3 * 3600,
	"Africa/Johannesburg": 2 * 3600,
	"Africa/Cairo":        2 * 3600,
	"Asia/Dubai":          4 * 3600,
	"Asia/Kolkata":        5*3600 + 1800,
	"Asia/Singapore":      8 * 3600,
	"Asia/Shanghai":       8 * 3600,
	"Asia/Tokyo":          9 * 3600,
}

var (
	zoneMu    sync.RWMutex
	zoneCache = map[string]*time.Location{}
)

// Location resolves a timezone identifier. Unknown or empty identifiers resolve to UTC
// and report false.
func Location(tz string) (*time.Location, bool) {
	if tz == "" {
		return time.UTC, false
	}

	zoneMu.RLock()
	loc, cached := zoneCache[tz]
	zoneMu.RUnlock()
	if cached {
		return loc, true
	}

	if offset, fixed := fixedZones[tz]; fixed {
		loc = time.FixedZone(tz, offset)
	} else if l, err := time.LoadLocation(tz); err == nil {
		loc = l
	} else {
		return time.UTC, false
	}

	zoneMu.Lock()
	zoneCache[tz] = loc
	zoneMu.Unlock()
	return loc, true
}

// Convert returns t expressed in the timezone tz.
func Convert(tz string, t time.Time) time.Time {
	loc, _ := Location(tz)
	return t.In(loc)
}

// Valid reports whether tz names a timezone this package can convert to.
func Valid(tz string) bool {
	_, ok := Location(tz)
	return ok
}
