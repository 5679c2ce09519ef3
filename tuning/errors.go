package tuning

import "errors"

var (
	// ErrUnknownGeneration is returned for a generation outside Gen1..Gen5Smart.
	ErrUnknownGeneration = errors.New("unknown bosch generation")

	// ErrTuningActive guards calibration and self-test entry points: they
	// are only reachable while the operating mode is disabled.
	ErrTuningActive = errors.New("calibration unavailable while tuning is active")

	// ErrSelfTestFailed is returned when the loopback self-test result is
	// outside tolerance.
	ErrSelfTestFailed = errors.New("sensor self-test failed")

	// ErrNoSignal is returned by calibration when no reference signal is
	// present.
	ErrNoSignal = errors.New("no sensor signal")
)
