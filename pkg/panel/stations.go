package panel

import (
	"errors"
	"fmt"
)

// ErrInvalidStationTable is returned for thresholds that are empty,
// unsorted or do not match the station codes.
var ErrInvalidStationTable = errors.New("invalid station table")

// Station is a charge time upper bound and the code reported up to it.
type Station struct {
	Threshold int64
	Code      int
}

// StationTable maps charge times to station codes.
type StationTable struct {
	stations []Station
	fallback int
}

// NewStationTable builds a table from strictly ascending thresholds.
func NewStationTable(thresholds []int64, codes []int, fallback int) (*StationTable, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("%w: no thresholds", ErrInvalidStationTable)
	}
	if len(thresholds) != len(codes) {
		return nil, fmt.Errorf("%w: %d thresholds for %d codes", ErrInvalidStationTable, len(thresholds), len(codes))
	}

	stations := make([]Station, len(thresholds))
	for i, th := range thresholds {
		if i > 0 && th <= thresholds[i-1] {
			return nil, fmt.Errorf("%w: threshold %d at index %d not above %d", ErrInvalidStationTable, th, i, thresholds[i-1])
		}
		stations[i] = Station{Threshold: th, Code: codes[i]}
	}

	return &StationTable{stations: stations, fallback: fallback}, nil
}

// DefaultStationTable returns the table of the reference tuning capacitor:
// 105 down to 88, with 87 past the last threshold.
func DefaultStationTable() *StationTable {
	table, _ := NewStationTable(
		[]int64{32, 43, 60, 78, 95, 120, 155, 190, 230, 270, 315, 360, 400, 450, 500, 560, 610, 690},
		[]int{105, 104, 103, 102, 101, 100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89, 88},
		87,
	)
	return table
}

// Map returns the code of the first station whose threshold is at least
// duration, or the fallback. Every input has an answer.
func (t *StationTable) Map(duration int64) int {
	for _, s := range t.stations {
		if duration <= s.Threshold {
			return s.Code
		}
	}
	return t.fallback
}

// Stations returns a copy of the table rows.
func (t *StationTable) Stations() []Station {
	out := make([]Station, len(t.stations))
	copy(out, t.stations)
	return out
}

// Fallback returns the code used past the last threshold.
func (t *StationTable) Fallback() int {
	return t.fallback
}
