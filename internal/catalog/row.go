package catalog

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/coredb/coredb/internal/dberr"
)

// Row is an ordered list of (column_name, value_as_text) pairs. Values
// are always carried as text; numeric columns are parsed/formatted at
// the encode/decode boundary.
type Row struct {
	Columns []string
	Values  []string
}

// Get returns the text value for a column, or ok=false.
func (r Row) Get(col string) (string, bool) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], true
		}
	}
	return "", false
}

// Encode serializes a full row (one value per schema column, in schema
// order) into the canonical column-major fixed-width layout.
func Encode(schema TableSchema, values []string) ([]byte, error) {
	if len(values) != len(schema.Columns) {
		return nil, dberr.New(dberr.InvalidParam, "encode row: expected %d values, got %d", len(schema.Columns), len(values))
	}
	buf := make([]byte, schema.RowWidth())
	off := 0
	for i, col := range schema.Columns {
		w := col.Type.FixedWidth(col.Length)
		if err := encodeField(buf[off:off+w], col, values[i]); err != nil {
			return nil, err
		}
		off += w
	}
	return buf, nil
}

func encodeField(dst []byte, col Column, value string) error {
	switch col.Type {
	case TypeInt:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return dberr.Wrap(dberr.InvalidParam, err, "column %s: not an INT: %q", col.Name, value)
		}
		binary.LittleEndian.PutUint32(dst, uint32(int32(n)))
	case TypeBigInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return dberr.Wrap(dberr.InvalidParam, err, "column %s: not a BIGINT: %q", col.Name, value)
		}
		binary.LittleEndian.PutUint64(dst, uint64(n))
	case TypeDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return dberr.Wrap(dberr.InvalidParam, err, "column %s: not a DOUBLE: %q", col.Name, value)
		}
		binary.LittleEndian.PutUint64(dst, math.Float64bits(f))
	case TypeVarchar, TypeChar:
		if len(value) > len(dst) {
			return dberr.New(dberr.InvalidParam, "column %s: value %q exceeds declared length %d", col.Name, value, len(dst))
		}
		for i := range dst {
			dst[i] = 0
		}
		copy(dst, value)
	default:
		return dberr.New(dberr.InvalidParam, "column %s: unknown type", col.Name)
	}
	return nil
}

// Decode deserializes buf back into a text-valued Row under schema.
func Decode(schema TableSchema, buf []byte) (Row, error) {
	row := Row{Columns: make([]string, len(schema.Columns)), Values: make([]string, len(schema.Columns))}
	off := 0
	for i, col := range schema.Columns {
		w := col.Type.FixedWidth(col.Length)
		if off+w > len(buf) {
			return Row{}, dberr.New(dberr.InvalidParam, "decode row: buffer too short at column %s", col.Name)
		}
		v, err := decodeField(buf[off:off+w], col)
		if err != nil {
			return Row{}, err
		}
		row.Columns[i] = col.Name
		row.Values[i] = v
		off += w
	}
	return row, nil
}

func decodeField(src []byte, col Column) (string, error) {
	switch col.Type {
	case TypeInt:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(src))), 10), nil
	case TypeBigInt:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(src)), 10), nil
	case TypeDouble:
		f := math.Float64frombits(binary.LittleEndian.Uint64(src))
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case TypeVarchar, TypeChar:
		return strings.TrimRight(string(src), "\x00"), nil
	default:
		return "", dberr.New(dberr.InvalidParam, "column %s: unknown type", col.Name)
	}
}
