// Package nettime
// Author: momentics <momentics@gmail.com>
//
// Monotonic protocol clock. All resend, heartbeat, timeout and merge flush
// decisions compare NetTime values; wall-clock adjustments never move it.

package nettime

import "time"

// epoch carries the monotonic reading every NetTime is measured from.
var epoch = time.Now()

// NetTime is a monotonic timestamp in nanoseconds since process start.
// The zero value means "never".
type NetTime int64

// Now returns the current monotonic time. It is never zero.
func Now() NetTime {
	return NetTime(time.Since(epoch)) + 1
}

// Since returns the time elapsed since t.
func Since(t NetTime) time.Duration {
	return Now().Sub(t)
}

// Sub returns t-u.
func (t NetTime) Sub(u NetTime) time.Duration {
	return time.Duration(t - u)
}

// Add returns t+d.
func (t NetTime) Add(d time.Duration) NetTime {
	return t + NetTime(d)
}

// Before reports whether t is earlier than u.
func (t NetTime) Before(u NetTime) bool { return t < u }

// After reports whether t is later than u.
func (t NetTime) After(u NetTime) bool { return t > u }

// IsZero reports whether t is unset.
func (t NetTime) IsZero() bool { return t == 0 }

// Milliseconds returns t as whole milliseconds since the epoch.
func (t NetTime) Milliseconds() int64 {
	return int64(t) / int64(time.Millisecond)
}

// Time converts t into a wall-clock time for display only.
func (t NetTime) Time() time.Time {
	return epoch.Add(time.Duration(t))
}
