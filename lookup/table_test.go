package lookup

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/attpc/merger/hardware"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const padCSV = `0,0,0,0,100
0,0,0,1,101
# comment line
0, 0, 0, 11, -1
,1,2,3,555
9,3,3,67,10239
`

func TestReadCSV(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader(padCSV), hardware.MissingPad, ParsePad)
	require.NoError(t, err)
	assert.Equal(t, 3, tab.Len())
	assert.Equal(t, uint16(100), tab.Find(hardware.Address{Cobo: 0, Asad: 0, Aget: 0, Channel: 0}))
	assert.Equal(t, uint16(10239), tab.Find(hardware.Address{Cobo: 9, Asad: 3, Aget: 3, Channel: 67}))
	assert.Equal(t, hardware.MissingPad, tab.Find(hardware.Address{Cobo: 0, Asad: 0, Aget: 0, Channel: 11}), "-1 rows are skipped")
	assert.Equal(t, hardware.MissingPad, tab.Find(hardware.Address{Cobo: 0, Asad: 1, Aget: 2, Channel: 3}), "rows without cobo are skipped")
	_, ok := tab.Lookup(hardware.Address{Cobo: 0, Asad: 0, Aget: 0, Channel: 1})
	assert.True(t, ok)
	assert.Equal(t, hardware.MissingPad, tab.Missing())

	var addrs []hardware.Address
	for a := range tab.All() {
		addrs = append(addrs, a)
	}
	assert.Equal(t, []hardware.Address{{Cobo: 0, Asad: 0, Aget: 0, Channel: 0}, {Cobo: 0, Asad: 0, Aget: 0, Channel: 1}, {Cobo: 9, Asad: 3, Aget: 3, Channel: 67}}, addrs)
}

func TestReadCSVErrors(t *testing.T) {
	var tests = []string{
		"0,0,0,0\n",
		"0,0,0,68,1\n",
		"x,0,0,0,1\n",
		"0,0,0,0,pad\n",
		"0,0,0,0,20000\n",
	}
	for _, text := range tests {
		if _, err := ReadCSV(strings.NewReader(text), hardware.MissingPad, ParsePad); err == nil {
			t.Errorf("ReadCSV(%q) should fail", text)
		}
	}
}

func TestPedestals(t *testing.T) {
	text := "1,2,3,4,12.6\n1,2,3,5,-3.2\n1,2,3,6,-1\n"
	tab, err := ReadCSV(strings.NewReader(text), int16(0), ParsePedestal)
	require.NoError(t, err)
	assert.Equal(t, int16(13), tab.Find(hardware.Address{Cobo: 1, Asad: 2, Aget: 3, Channel: 4}))
	assert.Equal(t, int16(-3), tab.Find(hardware.Address{Cobo: 1, Asad: 2, Aget: 3, Channel: 5}))
	assert.Equal(t, int16(0), tab.Find(hardware.Address{Cobo: 1, Asad: 2, Aget: 3, Channel: 6}))

	_, err = ParsePedestal("40000")
	assert.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	tab, err := ReadCSV(strings.NewReader(padCSV), hardware.MissingPad, ParsePad)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tab, func(v uint16) string { return strconv.Itoa(int(v)) }))
	assert.Equal(t, "0,0,0,0,100\n0,0,0,1,101\n9,3,3,67,10239\n", buf.String())
}

func TestNpyRoundTrip(t *testing.T) {
	tab := New(int16(0))
	tab.Set(hardware.Address{Cobo: 1, Asad: 0, Aget: 2, Channel: 3}, -40)
	tab.Set(hardware.Address{Cobo: 0, Asad: 3, Aget: 0, Channel: 67}, 250)
	var buf bytes.Buffer
	require.NoError(t, WriteNpy(&buf, tab))

	back, err := ReadNpy(&buf, int16(0), ParsePedestal)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, int16(-40), back.Find(hardware.Address{Cobo: 1, Asad: 0, Aget: 2, Channel: 3}))
	assert.Equal(t, int16(250), back.Find(hardware.Address{Cobo: 0, Asad: 3, Aget: 0, Channel: 67}))

	assert.True(t, errors.Is(WriteNpy(&buf, New(int16(0))), ErrEmptyTable))
}

func npyRows(t *testing.T, rows ...[]float64) *bytes.Buffer {
	t.Helper()
	m := mat.NewDense(len(rows), npyColumns, nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	var buf bytes.Buffer
	require.NoError(t, npyio.Write(&buf, m))
	return &buf
}

func TestNilTable(t *testing.T) {
	var tab *Table[int16]
	assert.Equal(t, 0, tab.Len())
	assert.Equal(t, int16(0), tab.Find(hardware.Address{Channel: 1}))
	_, ok := tab.Lookup(hardware.Address{Channel: 1})
	assert.False(t, ok)
}

func TestReadNpyRejectsBadRows(t *testing.T) {
	for name, row := range map[string][]float64{
		"cobo above 255":  {260, 0, 0, 1, 77},
		"cobo above 9":    {12, 0, 0, 1, 77},
		"negative asad":   {0, -1, 0, 1, 77},
		"fractional aget": {0, 0, 1.5, 1, 77},
		"pad above 65535": {0, 0, 0, 2, 70000},
		"pad above max":   {0, 0, 0, 2, hardware.MaxPad + 1},
		"fractional pad":  {0, 0, 0, 2, 7.5},
	} {
		_, err := ReadNpy(npyRows(t, []float64{0, 0, 0, 0, 5}, row), hardware.MissingPad, ParsePad)
		assert.Error(t, err, name)
	}

	pads, err := ReadNpy(npyRows(t, []float64{0, 0, 0, 1, 77}, []float64{0, 0, 0, 2, -1}), hardware.MissingPad, ParsePad)
	require.NoError(t, err)
	assert.Equal(t, 1, pads.Len())
	assert.Equal(t, uint16(77), pads.Find(hardware.Address{Channel: 1}))

	peds, err := ReadNpy(npyRows(t, []float64{1, 2, 3, 4, 12.6}), int16(0), ParsePedestal)
	require.NoError(t, err)
	assert.Equal(t, int16(13), peds.Find(hardware.Address{Cobo: 1, Asad: 2, Aget: 3, Channel: 4}))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	csvName := filepath.Join(dir, "pads.csv")
	require.NoError(t, os.WriteFile(csvName, []byte(padCSV), 0644))
	pads, err := LoadPads(csvName)
	require.NoError(t, err)
	assert.Equal(t, 3, pads.Len())

	tab := New(int16(0))
	tab.Set(hardware.Address{Cobo: 2, Asad: 2, Aget: 2, Channel: 2}, 7)
	npyName := filepath.Join(dir, "peds.npy")
	f, err := os.Create(npyName)
	require.NoError(t, err)
	require.NoError(t, WriteNpy(f, tab))
	require.NoError(t, f.Close())
	peds, err := LoadPedestals(npyName)
	require.NoError(t, err)
	assert.Equal(t, int16(7), peds.Find(hardware.Address{Cobo: 2, Asad: 2, Aget: 2, Channel: 2}))

	emptyName := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(emptyName, []byte("0,0,0,0,-1\n"), 0644))
	_, err = LoadPads(emptyName)
	assert.True(t, errors.Is(err, ErrEmptyTable))

	_, err = LoadPads(filepath.Join(dir, "nothere.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
