package app

// StopReason says why the app is stopping. It is logged, and the console
// transport ending cleanly maps to StopInputEnded.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopInputEnded StopReason = "input_ended"
)
