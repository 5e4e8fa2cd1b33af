package metrics

import "expvar"

var (
	TradesSubmitted   = expvar.NewInt("trades_submitted")
	TradesLocked      = expvar.NewInt("trades_denied_locked")
	TradesFailed      = expvar.NewInt("trades_failed")
	SubmissionRetries = expvar.NewInt("submission_retries")
	StaleLocksHealed  = expvar.NewInt("stale_locks_healed")
	StatusChecks      = expvar.NewInt("status_checks")
	PollerExhausted   = expvar.NewInt("poller_exhausted")
	PollersInFlight   = expvar.NewInt("pollers_in_flight")
)
