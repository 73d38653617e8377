package delays

import (
	"fmt"

	"delayboard/internal/domain"
)

// SelectRange returns the stops of series whose sequence lies between the
// sequences of start and end, inclusive. The bounds may be given in either
// order. Both names must be part of series.
func SelectRange(series []domain.StopSeries, start, end string) ([]domain.StopSeries, error) {
	startSeq, ok := sequenceOf(series, start)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStopNotInSeries, start)
	}
	endSeq, ok := sequenceOf(series, end)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStopNotInSeries, end)
	}

	lo, hi := min(startSeq, endSeq), max(startSeq, endSeq)

	result := make([]domain.StopSeries, 0, len(series))
	for _, s := range series {
		if s.StopSequence >= lo && s.StopSequence <= hi {
			result = append(result, s)
		}
	}
	return result, nil
}

func sequenceOf(series []domain.StopSeries, name string) (int, bool) {
	for _, s := range series {
		if s.StopName == name {
			return s.StopSequence, true
		}
	}
	return 0, false
}

// applyRange fills in a missing bound and narrows series. A missing start
// is departure when that stop is part of series, else the first stop; a
// missing end is the last stop. A zero range returns series unchanged.
func applyRange(series []domain.StopSeries, rng domain.StopRange, departure string) (domain.StopRange, []domain.StopSeries, error) {
	if rng.IsZero() || len(series) == 0 {
		return rng, series, nil
	}
	if rng.From == "" {
		rng.From = series[0].StopName
		if _, ok := sequenceOf(series, departure); ok && departure != "" {
			rng.From = departure
		}
	}
	if rng.To == "" {
		rng.To = series[len(series)-1].StopName
	}

	narrowed, err := SelectRange(series, rng.From, rng.To)
	if err != nil {
		return rng, nil, err
	}
	return rng, narrowed, nil
}
