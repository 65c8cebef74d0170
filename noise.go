package merger

import (
	"fmt"

	"github.com/attpc/merger/hardware"
)

// PedestalLookup gives the pedestal of each channel. *lookup.Table[int16] is one.
type PedestalLookup interface {
	Find(hardware.Address) int16
	Len() int
}

// CleanOptions selects the corrections applied by Event.Clean.
type CleanOptions struct {
	Pedestals    PedestalLookup // nil or empty to skip
	UseThreshold bool
	Threshold    int16
	ZeroSuppress bool
}

// Clean applies the corrections in their fixed order: fixed-pattern noise,
// then the optional pedestals, threshold and zero suppression.
func (e *Event) Clean(opt CleanOptions) error {
	if err := e.SubtractFPN(); err != nil {
		return err
	}
	if opt.Pedestals != nil {
		e.SubtractPedestals(opt.Pedestals)
	}
	if opt.UseThreshold {
		e.ApplyThreshold(opt.Threshold)
	}
	if opt.ZeroSuppress {
		e.DropZeros()
	}
	return nil
}

// SubtractFPN removes the fixed-pattern noise of every AGET. The four FPN
// channels of a chip are averaged bucket by bucket (each bucket divided by the
// number of FPN channels that have it), the average is shifted to zero mean,
// and the result is subtracted from every trace of that chip. The FPN traces
// are then removed. A chip whose FPN channels hold no samples is left alone.
func (e *Event) SubtractFPN() error {
	chips := make(map[hardware.Address][]*Trace)
	for a, tr := range e.traces {
		chips[a.Chip()] = append(chips[a.Chip()], tr)
	}

	for chip, traces := range chips {
		var sums [hardware.NumTimeBuckets]int32
		var counts [hardware.NumTimeBuckets]int32
		var fpn []hardware.Address
		nsamples := 0
		for _, tr := range traces {
			if !hardware.IsFPNChannel(tr.Channel) {
				continue
			}
			fpn = append(fpn, tr.Address())
			for tb, v := range tr.Samples() {
				sums[tb] += int32(v)
				counts[tb]++
				nsamples++
			}
		}
		if nsamples == 0 {
			continue
		}

		mean := NewTrace(chip, hardware.MissingPad)
		for tb, n := range counts {
			if n > 0 {
				mean.AppendSample(uint16(tb), int16(sums[tb]/n))
			}
		}
		if err := mean.RenormalizeToZero(); err != nil {
			return fmt.Errorf("fixed-pattern noise of %v: %w", chip, err)
		}
		for _, tr := range traces {
			tr.Subtract(mean)
		}
		for _, a := range fpn {
			e.RemoveTrace(a)
		}
	}
	return nil
}

// SubtractPedestals subtracts each channel's pedestal from all of its samples.
// An empty table changes nothing.
func (e *Event) SubtractPedestals(peds PedestalLookup) {
	if peds == nil || peds.Len() == 0 {
		return
	}
	for a, tr := range e.traces {
		if p := peds.Find(a); p != 0 {
			tr.SubtractScalar(p)
		}
	}
}

// ApplyThreshold zeroes every sample below threshold in every trace.
func (e *Event) ApplyThreshold(threshold int16) {
	for _, tr := range e.traces {
		tr.ApplyThreshold(threshold)
	}
}

// DropZeros removes all zero samples, then every trace left empty.
func (e *Event) DropZeros() {
	for a, tr := range e.traces {
		tr.DropZeros()
		if tr.Empty() {
			delete(e.traces, a)
		}
	}
}
