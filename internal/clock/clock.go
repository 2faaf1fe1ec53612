// Package clock centralises time reads so lifecycle stamps (task start and
// completion, payment creation) stay deterministic under test.
package clock

import "time"

// NowFunc is the time source; tests swap it to pin lifecycle stamps.
var NowFunc = time.Now

// Now reads the current time through NowFunc.
func Now() time.Time { return NowFunc() }
