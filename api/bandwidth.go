// File: api/bandwidth.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// BandwidthTracker budgets outgoing bytes of a single connection.
type BandwidthTracker interface {
	// TrySend reports whether n bytes may be sent now and, if so, consumes them.
	TrySend(n int) bool
	// Update refills the budget; elapsed is the time since the last Update.
	Update(elapsed time.Duration)
}
