package merger

import (
	"iter"
	"maps"
	"math"
	"slices"

	"github.com/attpc/merger/hardware"
	"github.com/attpc/merger/lookup"
	"gonum.org/v1/gonum/stat"
)

// PedestalCalibrator estimates the pedestal of every channel from a run
// without beam. Each event contributes the mean of every trace; the pedestal
// is the mean of those over all events. It is an EventSink, so a calibration
// is a merge written into a PedestalCalibrator, usually with only the FPN
// correction enabled.
type PedestalCalibrator struct {
	means  map[hardware.Address][]float64
	events int
}

// PedestalEstimate is the calibration result for one channel.
type PedestalEstimate struct {
	Address hardware.Address
	Mean    float64
	StdDev  float64 // spread of the per-event means
	Events  int     // events in which the channel had data
}

// NewPedestalCalibrator returns an empty calibrator.
func NewPedestalCalibrator() *PedestalCalibrator {
	return &PedestalCalibrator{means: make(map[hardware.Address][]float64)}
}

// WriteEvent adds the traces of e to the calibration.
func (p *PedestalCalibrator) WriteEvent(e *Event) error {
	p.events++
	for tr := range e.Traces() {
		sum, n := 0.0, 0
		for _, v := range tr.Samples() {
			sum += float64(v)
			n++
		}
		if n == 0 {
			continue
		}
		a := tr.Address()
		p.means[a] = append(p.means[a], sum/float64(n))
	}
	return nil
}

// Events returns the number of events seen.
func (p *PedestalCalibrator) Events() int {
	return p.events
}

// Estimates iterates over the channel estimates in address order.
func (p *PedestalCalibrator) Estimates() iter.Seq[PedestalEstimate] {
	return func(yield func(PedestalEstimate) bool) {
		for _, a := range slices.SortedFunc(maps.Keys(p.means), hardware.Address.Compare) {
			x := p.means[a]
			mean, std := stat.MeanStdDev(x, nil)
			if len(x) < 2 {
				std = 0
			}
			if !yield(PedestalEstimate{Address: a, Mean: mean, StdDev: std, Events: len(x)}) {
				return
			}
		}
	}
}

// Table returns the pedestals rounded to whole ADC counts, in the form
// accepted by Event.SubtractPedestals.
func (p *PedestalCalibrator) Table() *lookup.Table[int16] {
	t := lookup.New(int16(0))
	for est := range p.Estimates() {
		t.Set(est.Address, int16(math.Round(est.Mean)))
	}
	return t
}
