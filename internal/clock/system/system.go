// Package system provides the wall clock used for leases, rate limits and
// retry schedules.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC so persisted deadlines compare
// consistently across hosts.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
