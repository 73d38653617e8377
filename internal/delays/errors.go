package delays

import "errors"

// Anomalies the core recovers from locally. They are recorded on results and
// logged; none of them fails a view.
var (
	ErrIncompleteSelection = errors.New("trip selection is incomplete")
	ErrNoMatchingTrip      = errors.New("no trip matches the selection")
	ErrAmbiguousTrip       = errors.New("more than one trip matches the selection")
	ErrDataIntegrity       = errors.New("stop sequence differs between observations of one stop")
	ErrMissingDelayValue   = errors.New("observation has neither arrival nor departure delay")
	ErrEmptySeries         = errors.New("no stop series for trip")
)

// ErrStopNotInSeries is a usage error: a range bound names a stop that is not
// part of the series it is applied to.
var ErrStopNotInSeries = errors.New("stop not in series")
