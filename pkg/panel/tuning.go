package panel

// FrequencyUnset is the station code before the first good measurement.
const FrequencyUnset = -1

// TuningState follows the station selected by the tuning capacitor.
type TuningState struct {
	meter Measurer
	table *StationTable

	frequency  int
	lastSample CapacitanceSample
	failures   uint64
}

// NewTuningState takes the initial measurement.
func NewTuningState(meter Measurer, table *StationTable) *TuningState {
	t := &TuningState{
		meter:      meter,
		table:      table,
		frequency:  FrequencyUnset,
		lastSample: CapacitanceSample{ChargeTimeMicros: FailedSample},
	}
	t.UpdateState()
	return t
}

// UpdateState measures and reports whether the station changed. Failed
// samples never reach the table and never count as a change.
func (t *TuningState) UpdateState() bool {
	sample := t.meter.Measure()
	t.lastSample = sample
	if sample.Failed() {
		t.failures++
		return false
	}

	frequency := t.table.Map(sample.ChargeTimeMicros)
	if frequency == t.frequency {
		return false
	}
	t.frequency = frequency
	return true
}

// CurrentFrequency returns the current station code, or FrequencyUnset.
func (t *TuningState) CurrentFrequency() int {
	return t.frequency
}

// LastSample returns the most recent measurement, failed or not.
func (t *TuningState) LastSample() CapacitanceSample {
	return t.lastSample
}

// Failures counts failed measurements since construction.
func (t *TuningState) Failures() uint64 {
	return t.failures
}
