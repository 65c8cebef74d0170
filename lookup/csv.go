package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/attpc/merger/hardware"
)

// ParseFunc converts the value column of a table row.
type ParseFunc[V any] func(string) (V, error)

// skipValue in the value column marks a row written for a channel with no
// entry. The table-generation tools also leave the cobo column empty for such rows.
const skipValue = "-1"

// ReadCSV reads rows of "cobo,asad,aget,channel,value" with no header line.
// Rows whose cobo is empty or whose value is -1 are skipped.
func ReadCSV[V any](r io.Reader, missing V, parse ParseFunc[V]) (*Table[V], error) {
	t := New(missing)
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: have %d columns, want 5", line, len(rec))
		}
		value := strings.TrimSpace(rec[4])
		if value == skipValue {
			continue
		}
		var fields [4]uint8
		for i := range fields {
			n, err := strconv.ParseUint(strings.TrimSpace(rec[i]), 10, 8)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			fields[i] = uint8(n)
		}
		a, err := hardware.NewAddress(fields[0], fields[1], fields[2], fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := parse(value)
		if err != nil {
			return nil, fmt.Errorf("line %d value %q: %w", line, value, err)
		}
		t.Set(a, v)
	}
	return t, nil
}

// WriteCSV writes the table in the format ReadCSV reads, in address order.
func WriteCSV[V any](w io.Writer, t *Table[V], format func(V) string) error {
	cw := csv.NewWriter(w)
	for a, v := range t.All() {
		rec := []string{
			strconv.Itoa(int(a.Cobo)), strconv.Itoa(int(a.Asad)),
			strconv.Itoa(int(a.Aget)), strconv.Itoa(int(a.Channel)), format(v),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParsePad parses a pad number.
func ParsePad(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if !hardware.ValidPad(uint16(n)) {
		return 0, fmt.Errorf("pad %d is above %d", n, hardware.MaxPad)
	}
	return uint16(n), nil
}

// ParsePedestal parses a pedestal, which may be written with a fraction,
// rounded to the nearest integer sample value.
func ParsePedestal(s string) (int16, error) {
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	x = math.Round(x)
	if x < math.MinInt16 || x > math.MaxInt16 {
		return 0, fmt.Errorf("pedestal %v out of range", x)
	}
	return int16(x), nil
}

// ErrEmptyTable is returned when a table file holds no usable rows.
var ErrEmptyTable = errors.New("lookup table is empty")

// LoadPads reads the channel-to-pad map from a .csv or .npy file.
func LoadPads(fileName string) (*Table[uint16], error) {
	return load(fileName, hardware.MissingPad, ParsePad)
}

// LoadPedestals reads per-channel pedestals from a .csv or .npy file.
func LoadPedestals(fileName string) (*Table[int16], error) {
	return load(fileName, int16(0), ParsePedestal)
}

func load[V Number](fileName string, missing V, parse ParseFunc[V]) (*Table[V], error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var t *Table[V]
	if strings.EqualFold(filepath.Ext(fileName), ".npy") {
		t, err = ReadNpy(f, missing, parse)
	} else {
		t, err = ReadCSV(f, missing, parse)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup table %q: %w", fileName, err)
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("lookup table %q: %w", fileName, ErrEmptyTable)
	}
	return t, nil
}
