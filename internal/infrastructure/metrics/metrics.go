package metrics

import "expvar"

var (
	OrdersPlaced      = expvar.NewInt("orders_placed")
	OrdersRejected    = expvar.NewInt("orders_rejected")
	OrdersCancelled   = expvar.NewInt("orders_cancelled")
	FillsApplied      = expvar.NewInt("fills_applied")
	TrackingStarted   = expvar.NewInt("tracking_started")
	TrackingExhausted = expvar.NewInt("tracking_exhausted")
	ReconcileRuns     = expvar.NewInt("reconcile_runs")
	ReconcileErrors   = expvar.NewInt("reconcile_errors")
)
