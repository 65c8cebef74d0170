package lookup

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/attpc/merger/hardware"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Number is the set of value types that can be stored in a .npy table.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// npyColumns is the width of a table stored as a numpy array: cobo, asad,
// aget, channel, value.
const npyColumns = 5

// WriteNpy stores the table as an N×5 float64 numpy array, one row per entry
// in address order.
func WriteNpy[V Number](w io.Writer, t *Table[V]) error {
	if t.Len() == 0 {
		return ErrEmptyTable
	}
	m := mat.NewDense(t.Len(), npyColumns, nil)
	row := 0
	for a, v := range t.All() {
		m.SetRow(row, []float64{float64(a.Cobo), float64(a.Asad), float64(a.Aget), float64(a.Channel), float64(v)})
		row++
	}
	return npyio.Write(w, m)
}

// ReadNpy reads a table written by WriteNpy. Rows with a value of -1 are
// skipped, as in the CSV form. Address cells must be whole numbers in 0..255
// naming a valid channel, and values go through parse just as CSV values do.
func ReadNpy[V Number](r io.Reader, missing V, parse ParseFunc[V]) (*Table[V], error) {
	var m mat.Dense
	if err := npyio.Read(r, &m); err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if cols != npyColumns {
		return nil, fmt.Errorf("numpy table has %d columns, want %d", cols, npyColumns)
	}
	t := New(missing)
	var field [npyColumns - 1]uint8
	for i := range rows {
		v := m.At(i, npyColumns-1)
		if v == -1 {
			continue
		}
		for k := range field {
			x := m.At(i, k)
			if x != math.Trunc(x) || x < 0 || x > math.MaxUint8 {
				return nil, fmt.Errorf("row %d column %d: %v is not an address field", i, k, x)
			}
			field[k] = uint8(x)
		}
		a, err := hardware.NewAddress(field[0], field[1], field[2], field[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		value, err := parse(strconv.FormatFloat(v, 'f', -1, 64))
		if err != nil {
			return nil, fmt.Errorf("row %d value: %w", i, err)
		}
		t.Set(a, value)
	}
	return t, nil
}
