package providers

import "time"

const (
	// sweepTimeout bounds the orphan blob sweep run at startup.
	sweepTimeout = 5 * time.Minute

	// unlockInterval and unlockBurst throttle passcode attempts.
	unlockInterval = time.Second
	unlockBurst    = 5
)
