// grawgen writes synthetic GRAW files, one per CoBo/AsAd pair, together with
// a matching pad table. The data carry a pedestal, common fixed-pattern noise
// on every AGET and a pulse on a few channels per event, which is enough to
// exercise every stage of grawmerge.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/hardware"
)

type generator struct {
	cobos, asads int
	events       int
	buckets      int     // time buckets per channel
	pedestal     float64 // mean baseline
	noise        float64 // rms of the per-sample noise
	pulses       int     // channels per AGET carrying a pulse
	full         bool    // write full-readout frames
	shuffle      int     // frames may be displaced by up to this many places
	rng          *rand.Rand
}

// pulse is the signal shape of a hit channel at time bucket tb.
func pulse(tb, peak int, height float64) float64 {
	x := float64(tb-peak) / 8
	if x < 0 {
		return height * math.Exp(-x*x*4)
	}
	return height * math.Exp(-x*x)
}

// frame builds the frame of one AsAd for one event.
func (g *generator) frame(cobo, asad uint8, id uint32) []byte {
	t := graw.PartialReadout
	if g.full {
		t = graw.FullReadout
	}
	b := graw.NewFrameBuilder(t, cobo, asad, id, uint64(id)*1000+uint64(g.rng.IntN(3)))
	for aget := range uint8(hardware.NumAgets) {
		fpn := make([]float64, g.buckets)
		for tb := range fpn {
			fpn[tb] = 20 * math.Sin(float64(tb)/10+float64(aget))
		}
		hit := make(map[uint8]float64)
		for range g.pulses {
			ch := uint8(g.rng.IntN(hardware.NumChannels))
			if !hardware.IsFPNChannel(ch) {
				hit[ch] = 500 + 1000*g.rng.Float64()
			}
		}
		peak := 100 + g.rng.IntN(max(g.buckets-150, 1))
		for ch := range uint8(hardware.NumChannels) {
			height, isHit := hit[ch]
			if !isHit && !g.full && !hardware.IsFPNChannel(ch) {
				continue
			}
			for tb := range g.buckets {
				v := g.pedestal + fpn[tb] + g.noise*g.rng.NormFloat64()
				if isHit {
					v += pulse(tb, peak, height)
				}
				b.AddSample(aget, ch, uint16(tb), uint16(min(max(v, 0), 4095)))
			}
		}
	}
	return b.Bytes()
}

// writeFile writes every event of one AsAd to w and returns the bytes written.
func (g *generator) writeFile(w io.Writer, cobo, asad uint8) (int64, error) {
	order := make([]uint32, g.events)
	for i := range order {
		order[i] = uint32(i)
	}
	// Swap frames within a short window, as a CoBo with several readout
	// threads sometimes does.
	if g.shuffle > 0 {
		for i := range order {
			j := min(i+g.rng.IntN(g.shuffle+1), len(order)-1)
			order[i], order[j] = order[j], order[i]
		}
	}
	var n int64
	for _, id := range order {
		m, err := w.Write(g.frame(cobo, asad, id))
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// writePads writes a pad table numbering the connected channels in order.
func (g *generator) writePads(w io.Writer) error {
	pad := 0
	for cobo := range g.cobos {
		for asad := range g.asads {
			for aget := range hardware.NumAgets {
				for ch := range uint8(hardware.NumChannels) {
					if hardware.IsFPNChannel(ch) {
						continue
					}
					if _, err := fmt.Fprintf(w, "%d,%d,%d,%d,%d\n", cobo, asad, aget, ch, pad); err != nil {
						return err
					}
					pad++
				}
			}
		}
	}
	return nil
}

func (g *generator) generate(dir string) error {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return err
	}
	for cobo := range uint8(g.cobos) {
		for asad := range uint8(g.asads) {
			name := filepath.Join(dir, fmt.Sprintf("CoBo%d_AsAd%d.graw", cobo, asad))
			if err := writeTo(name, func(w io.Writer) error {
				n, err := g.writeFile(w, cobo, asad)
				if err == nil {
					fmt.Printf("Wrote %d events (%.1f MB) to %s\n", g.events, float64(n)/1e6, name)
				}
				return err
			}); err != nil {
				return err
			}
		}
	}
	return writeTo(filepath.Join(dir, "pads.csv"), g.writePads)
}

func writeTo(name string, write func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func main() {
	g := &generator{}
	dir := flag.String("dir", "graw", "directory to write into")
	flag.IntVar(&g.cobos, "cobos", 2, "number of CoBo boards")
	flag.IntVar(&g.asads, "asads", 2, "AsAd boards per CoBo")
	flag.IntVar(&g.events, "events", 100, "events per file")
	flag.IntVar(&g.buckets, "buckets", 512, "time buckets per channel")
	flag.Float64Var(&g.pedestal, "pedestal", 300, "mean baseline")
	flag.Float64Var(&g.noise, "noise", 5, "rms noise per sample")
	flag.IntVar(&g.pulses, "pulses", 3, "channels per AGET carrying a pulse")
	flag.BoolVar(&g.full, "full", false, "write full-readout frames")
	flag.IntVar(&g.shuffle, "shuffle", 0, "displace frames by up to this many places")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Usage = func() {
		fmt.Println("grawgen, a program to write synthetic GRAW files")
		fmt.Println("Usage:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if g.cobos < 1 || g.cobos > hardware.NumCobos || g.asads < 1 || g.asads > hardware.NumAsads {
		fmt.Fprintf(os.Stderr, "need 1-%d cobos and 1-%d asads\n", hardware.NumCobos, hardware.NumAsads)
		os.Exit(2)
	}
	g.buckets = min(max(g.buckets, 1), hardware.NumTimeBuckets)
	if g.full {
		g.buckets = hardware.NumTimeBuckets
	}
	g.rng = rand.New(rand.NewPCG(*seed, 0))
	if err := g.generate(*dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
