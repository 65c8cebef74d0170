package merger

import (
	"fmt"
	"iter"
	"math/bits"

	"github.com/attpc/merger/hardware"
)

// Trace is the time series of one channel within one event. Samples are kept
// in a dense array indexed by time bucket, plus a bitmap of which buckets
// actually hold data, so iteration is always in time-bucket order.
//
// A Trace carries its own address and pad so it can be identified without
// reference to the Event holding it.
type Trace struct {
	Cobo    uint8
	Asad    uint8
	Aget    uint8
	Channel uint8
	Pad     uint16

	samples [hardware.NumTimeBuckets]int16
	present [hardware.NumTimeBuckets / 64]uint64
}

// NewTrace returns an empty trace for the channel at a.
func NewTrace(a hardware.Address, pad uint16) *Trace {
	return &Trace{Cobo: a.Cobo, Asad: a.Asad, Aget: a.Aget, Channel: a.Channel, Pad: pad}
}

// Address returns the hardware address of the trace.
func (t *Trace) Address() hardware.Address {
	return hardware.Address{Cobo: t.Cobo, Asad: t.Asad, Aget: t.Aget, Channel: t.Channel}
}

// AppendSample stores v at time bucket tb, replacing any earlier value.
func (t *Trace) AppendSample(tb uint16, v int16) error {
	if tb >= hardware.NumTimeBuckets {
		return fmt.Errorf("time bucket %d out of range on %v", tb, t.Address())
	}
	t.samples[tb] = v
	t.present[tb/64] |= 1 << (tb % 64)
	return nil
}

// GetSample returns the sample at tb and whether there is one.
func (t *Trace) GetSample(tb uint16) (int16, bool) {
	if !t.has(tb) {
		return 0, false
	}
	return t.samples[tb], true
}

// Delete removes the sample at tb, if any.
func (t *Trace) Delete(tb uint16) {
	if tb < hardware.NumTimeBuckets {
		t.present[tb/64] &^= 1 << (tb % 64)
		t.samples[tb] = 0
	}
}

func (t *Trace) has(tb uint16) bool {
	return tb < hardware.NumTimeBuckets && t.present[tb/64]&(1<<(tb%64)) != 0
}

// Len returns the number of populated time buckets.
func (t *Trace) Len() int {
	n := 0
	for _, w := range t.present {
		n += bits.OnesCount64(w)
	}
	return n
}

// Empty reports whether the trace has no samples.
func (t *Trace) Empty() bool {
	for _, w := range t.present {
		if w != 0 {
			return false
		}
	}
	return true
}

// Samples iterates over the populated buckets in increasing time order.
func (t *Trace) Samples() iter.Seq2[uint16, int16] {
	return func(yield func(uint16, int16) bool) {
		for i, w := range t.present {
			for w != 0 {
				tb := uint16(64*i + bits.TrailingZeros64(w))
				if !yield(tb, t.samples[tb]) {
					return
				}
				w &= w - 1
			}
		}
	}
}

// Add adds o bucket by bucket. Buckets present only in o are created.
func (t *Trace) Add(o *Trace) {
	for tb, v := range o.Samples() {
		s, _ := t.GetSample(tb)
		t.AppendSample(tb, s+v)
	}
}

// Subtract subtracts o bucket by bucket, only where t already has a sample.
func (t *Trace) Subtract(o *Trace) {
	for tb, v := range o.Samples() {
		if t.has(tb) {
			t.samples[tb] -= v
		}
	}
}

// SubtractScalar subtracts v from every sample.
func (t *Trace) SubtractScalar(v int16) {
	for tb := range t.Samples() {
		t.samples[tb] -= v
	}
}

// Divide divides every sample by d, truncating toward zero.
func (t *Trace) Divide(d int16) {
	if d == 0 {
		return
	}
	for tb, v := range t.Samples() {
		t.samples[tb] = v / d
	}
}

// Mean returns the integer-truncated mean of the samples.
func (t *Trace) Mean() (int16, error) {
	sum, n := 0, 0
	for _, v := range t.Samples() {
		sum += int(v)
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("mean of %v: %w", t.Address(), ErrNoData)
	}
	return int16(sum / n), nil
}

// RenormalizeToZero subtracts the trace's own mean from every sample.
func (t *Trace) RenormalizeToZero() error {
	m, err := t.Mean()
	if err != nil {
		return err
	}
	t.SubtractScalar(m)
	return nil
}

// ApplyThreshold zeroes every sample strictly below threshold.
func (t *Trace) ApplyThreshold(threshold int16) {
	for tb, v := range t.Samples() {
		if v < threshold {
			t.samples[tb] = 0
		}
	}
}

// DropZeros removes every sample equal to zero.
func (t *Trace) DropZeros() {
	for tb, v := range t.Samples() {
		if v == 0 {
			t.Delete(tb)
		}
	}
}
