// Package retry drives repeated invocations of the build/run delegate
// until success or the retry budget is exhausted.
package retry

import "go.uber.org/zap"

// Attempt carries the escalation flags for one delegate invocation.
// From the second attempt onward UseExisting and AllowBaselineOverwrite are
// forced true so a retry picks up partially completed case state instead of
// recreating it, and injected test faults are suppressed.
type Attempt struct {
	Index                  int
	UseExisting            bool
	AllowBaselineOverwrite bool
	SuppressInjectedFaults bool
}

// Delegate is the external build/run engine as seen by the driver: it
// reports only an overall boolean outcome per attempt.
type Delegate func(Attempt) bool

type Driver struct {
	MaxRetries             int
	UseExisting            bool // user's flag, honored on attempt 0 only
	AllowBaselineOverwrite bool // user's flag, honored on attempt 0 only
	Log                    *zap.Logger
}

// Run executes up to MaxRetries+1 attempts. Exhaustion is an ordinary
// false result, not an error.
func (d *Driver) Run(delegate Delegate) bool {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	for n := 0; n <= d.MaxRetries; n++ {
		attempt := Attempt{
			Index:                  n,
			UseExisting:            d.UseExisting,
			AllowBaselineOverwrite: d.AllowBaselineOverwrite,
		}
		if n > 0 {
			attempt.UseExisting = true
			attempt.AllowBaselineOverwrite = true
			attempt.SuppressInjectedFaults = true
			log.Info("retrying failed tests", zap.Int("attempt", n), zap.Int("max_retries", d.MaxRetries))
		}

		if delegate(attempt) {
			return true
		}
	}

	log.Warn("retry budget exhausted", zap.Int("attempts", d.MaxRetries+1))
	return false
}
