package optimize

import (
	"errors"
	"fmt"
)

// SentinelFitness is assigned to an individual whose fitness evaluation
// failed. It ranks the individual at the bottom without aborting the run.
const SentinelFitness = -999.0

// ConfigurationError reports a malformed grid, distribution, range, or
// optimizer setting. It is always raised before any evaluation starts.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration for parameter %q: %s", e.Param, e.Reason)
}

// ErrNoWindows is returned when the overall date range is too short to
// produce even one walk-forward window.
var ErrNoWindows = errors.New("date range too short to produce any walk-forward window")
