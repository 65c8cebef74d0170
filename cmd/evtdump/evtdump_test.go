package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/attpc/merger"
	"github.com/attpc/merger/eventfile"
	"github.com/attpc/merger/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventFile(t *testing.T, n int) []byte {
	t.Helper()
	var data []byte
	for id := range n {
		e := merger.NewEvent(nil)
		e.ID, e.Time = uint32(id), uint64(id)*100
		tr := merger.NewTrace(hardware.Address{Cobo: 1, Channel: 7}, 40)
		require.NoError(t, tr.AppendSample(3, 10))
		require.NoError(t, tr.AppendSample(4, 20))
		e.AddTrace(tr)
		b, err := e.MarshalBinary()
		require.NoError(t, err)
		data = append(data, b...)
	}
	return data
}

func TestDump(t *testing.T) {
	r := eventfile.NewReader(bytes.NewReader(eventFile(t, 5)))
	var out bytes.Buffer
	n, err := dump(&out, r, dumpOptions{skip: 1, max: 2, traces: true, samples: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "event        1"))
	assert.Contains(t, lines[1], "pad    40")
	assert.Contains(t, lines[1], "mean    15")
	assert.True(t, strings.HasSuffix(lines[1], " 3:10"))
	assert.Equal(t, "2 events, 2 traces", lines[4])
}

func TestDumpDamaged(t *testing.T) {
	data := eventFile(t, 2)
	r := eventfile.NewReader(bytes.NewReader(data[:len(data)-2]))
	var out bytes.Buffer
	n, err := dump(&out, r, dumpOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}
