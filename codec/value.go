package codec

import (
	"errors"
	"fmt"

	"net-bridge/protocol"
)

// ErrLabelMismatch is returned when a vector or matrix carries a label
// sequence whose length differs from the extent it labels.
var ErrLabelMismatch = errors.New("codec: label count does not match extent")

// Value is the closed set of values that can cross the wire.
// The unexported method keeps the set closed to this package.
type Value interface {
	protocol.Frame
	value()
}

type (
	Null    struct{}
	Bool    bool
	Byte    uint8
	Int32   int32
	Int64   int64
	Float64 float64
	String  string

	BoolArray    []bool
	ByteArray    []byte
	Int32Array   []int32
	Int64Array   []int64
	Float64Array []float64
	StringArray  []string
	ObjectArray  []Value
)

// ObjectRef names a remote object by handle. ClassName is informational.
type ObjectRef struct {
	Handle    int32
	ClassName string
}

// Exception carries the message of an error raised on the far side.
// Stack and cause are not transmitted.
type Exception struct {
	Message string
}

// Err converts the exception into the error raised to local callers.
func (e Exception) Err() error {
	return &RemoteError{Message: e.Message}
}

// Vector is an ordered float64 sequence with optional per-element names.
type Vector struct {
	Values []float64
	Names  []string
}

// Matrix is a Rows x Cols float64 grid stored column-major:
// cell (r, c) lives at Data[c*Rows+r].
type Matrix struct {
	Rows, Cols int
	Data       []float64
	RowNames   []string
	ColNames   []string
}

// NewMatrix allocates a zero matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m Matrix) At(r, c int) float64 {
	return m.Data[c*m.Rows+r]
}

func (m Matrix) Set(r, c int, v float64) {
	m.Data[c*m.Rows+r] = v
}

func (Null) Tag() protocol.Tag         { return protocol.TagNull }
func (Bool) Tag() protocol.Tag         { return protocol.TagBool }
func (Byte) Tag() protocol.Tag         { return protocol.TagByte }
func (Int32) Tag() protocol.Tag        { return protocol.TagInt32 }
func (Int64) Tag() protocol.Tag        { return protocol.TagInt64 }
func (Float64) Tag() protocol.Tag      { return protocol.TagFloat64 }
func (String) Tag() protocol.Tag       { return protocol.TagString }
func (BoolArray) Tag() protocol.Tag    { return protocol.TagBoolArray }
func (ByteArray) Tag() protocol.Tag    { return protocol.TagByteArray }
func (Int32Array) Tag() protocol.Tag   { return protocol.TagInt32Array }
func (Int64Array) Tag() protocol.Tag   { return protocol.TagInt64Array }
func (Float64Array) Tag() protocol.Tag { return protocol.TagFloat64Array }
func (StringArray) Tag() protocol.Tag  { return protocol.TagStringArray }
func (ObjectArray) Tag() protocol.Tag  { return protocol.TagObjectArray }
func (Vector) Tag() protocol.Tag       { return protocol.TagVector }
func (Matrix) Tag() protocol.Tag       { return protocol.TagMatrix }
func (ObjectRef) Tag() protocol.Tag    { return protocol.TagObjectRef }
func (Exception) Tag() protocol.Tag    { return protocol.TagException }

func (Null) value()         {}
func (Bool) value()         {}
func (Byte) value()         {}
func (Int32) value()        {}
func (Int64) value()        {}
func (Float64) value()      {}
func (String) value()       {}
func (BoolArray) value()    {}
func (ByteArray) value()    {}
func (Int32Array) value()   {}
func (Int64Array) value()   {}
func (Float64Array) value() {}
func (StringArray) value()  {}
func (ObjectArray) value()  {}
func (Vector) value()       {}
func (Matrix) value()       {}
func (ObjectRef) value()    {}
func (Exception) value()    {}

func (Null) EncodeBody(*protocol.Writer) {}

func (v Bool) EncodeBody(w *protocol.Writer)    { w.Bool(bool(v)) }
func (v Byte) EncodeBody(w *protocol.Writer)    { w.Uint8(uint8(v)) }
func (v Int32) EncodeBody(w *protocol.Writer)   { w.Int32(int32(v)) }
func (v Int64) EncodeBody(w *protocol.Writer)   { w.Int64(int64(v)) }
func (v Float64) EncodeBody(w *protocol.Writer) { w.Float64(float64(v)) }
func (v String) EncodeBody(w *protocol.Writer)  { w.Text(string(v)) }

func (v BoolArray) EncodeBody(w *protocol.Writer) {
	w.Count(len(v))
	for _, b := range v {
		w.Bool(b)
	}
}

func (v ByteArray) EncodeBody(w *protocol.Writer) {
	w.Bytes(v)
}

func (v Int32Array) EncodeBody(w *protocol.Writer) {
	w.Count(len(v))
	for _, n := range v {
		w.Int32(n)
	}
}

func (v Int64Array) EncodeBody(w *protocol.Writer) {
	w.Count(len(v))
	for _, n := range v {
		w.Int64(n)
	}
}

func (v Float64Array) EncodeBody(w *protocol.Writer) {
	w.Count(len(v))
	for _, f := range v {
		w.Float64(f)
	}
}

func (v StringArray) EncodeBody(w *protocol.Writer) {
	w.Count(len(v))
	for _, s := range v {
		w.Text(s)
	}
}

// Elements are written as complete frames, each with its own magic and tag.
func (v ObjectArray) EncodeBody(w *protocol.Writer) {
	w.Count(len(v))
	for _, e := range v {
		if e == nil {
			e = Null{}
		}
		_ = protocol.WriteFrame(w, e)
	}
}

func (v ObjectRef) EncodeBody(w *protocol.Writer) {
	w.Int32(v.Handle)
	w.Text(v.ClassName)
}

func (v Exception) EncodeBody(w *protocol.Writer) {
	w.Text(v.Message)
}

// Vector body: names (count, 0 when absent), length, cells.
func (v Vector) EncodeBody(w *protocol.Writer) {
	if len(v.Names) != 0 && len(v.Names) != len(v.Values) {
		w.Fail(fmt.Errorf("%w: %d names for %d values", ErrLabelMismatch, len(v.Names), len(v.Values)))
		return
	}
	writeLabels(w, v.Names)
	w.Count(len(v.Values))
	for _, f := range v.Values {
		w.Float64(f)
	}
}

// Matrix body: row names, column names, rows, cols, then cells with the
// outer loop over columns and the inner loop over rows.
func (v Matrix) EncodeBody(w *protocol.Writer) {
	if len(v.RowNames) != 0 && len(v.RowNames) != v.Rows {
		w.Fail(fmt.Errorf("%w: %d row names for %d rows", ErrLabelMismatch, len(v.RowNames), v.Rows))
		return
	}
	if len(v.ColNames) != 0 && len(v.ColNames) != v.Cols {
		w.Fail(fmt.Errorf("%w: %d column names for %d columns", ErrLabelMismatch, len(v.ColNames), v.Cols))
		return
	}
	if v.Rows < 0 || v.Cols < 0 || len(v.Data) != v.Rows*v.Cols {
		w.Fail(fmt.Errorf("codec: matrix %dx%d has %d cells", v.Rows, v.Cols, len(v.Data)))
		return
	}
	writeLabels(w, v.RowNames)
	writeLabels(w, v.ColNames)
	w.Count(v.Rows)
	w.Count(v.Cols)
	for c := 0; c < v.Cols; c++ {
		for r := 0; r < v.Rows; r++ {
			w.Float64(v.Data[c*v.Rows+r])
		}
	}
}

func writeLabels(w *protocol.Writer, labels []string) {
	w.Count(len(labels))
	for _, s := range labels {
		w.Text(s)
	}
}

func readLabels(r *protocol.Reader) []string {
	n := r.Count()
	if n == 0 || r.Err() != nil {
		return nil
	}
	labels := make([]string, 0, min(n, 1024))
	for i := 0; i < n && r.Err() == nil; i++ {
		labels = append(labels, r.Text())
	}
	return labels
}

// decodeBody builds the empty variant for tag and fills it from r.
func decodeBody(tag protocol.Tag, r *protocol.Reader) (Value, error) {
	var v Value
	switch tag {
	case protocol.TagNull:
		v = Null{}
	case protocol.TagBool:
		v = Bool(r.Bool())
	case protocol.TagByte:
		v = Byte(r.Uint8())
	case protocol.TagInt32:
		v = Int32(r.Int32())
	case protocol.TagInt64:
		v = Int64(r.Int64())
	case protocol.TagFloat64:
		v = Float64(r.Float64())
	case protocol.TagString:
		v = String(r.Text())
	case protocol.TagObjectRef:
		h := r.Int32()
		v = ObjectRef{Handle: h, ClassName: r.Text()}
	case protocol.TagException:
		v = Exception{Message: r.Text()}
	case protocol.TagBoolArray:
		n := r.Count()
		a := make(BoolArray, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			a = append(a, r.Bool())
		}
		v = a
	case protocol.TagByteArray:
		b := r.Bytes()
		if b == nil {
			b = []byte{}
		}
		v = ByteArray(b)
	case protocol.TagInt32Array:
		n := r.Count()
		a := make(Int32Array, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			a = append(a, r.Int32())
		}
		v = a
	case protocol.TagInt64Array:
		n := r.Count()
		a := make(Int64Array, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			a = append(a, r.Int64())
		}
		v = a
	case protocol.TagFloat64Array:
		n := r.Count()
		a := make(Float64Array, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			a = append(a, r.Float64())
		}
		v = a
	case protocol.TagStringArray:
		n := r.Count()
		a := make(StringArray, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			a = append(a, r.Text())
		}
		v = a
	case protocol.TagObjectArray:
		n := r.Count()
		a := make(ObjectArray, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			e, err := Decode(r)
			if err != nil {
				return nil, err
			}
			a = append(a, e)
		}
		v = a
	case protocol.TagVector:
		names := readLabels(r)
		n := r.Count()
		values := make([]float64, 0, min(n, 4096))
		for i := 0; i < n && r.Err() == nil; i++ {
			values = append(values, r.Float64())
		}
		if r.Err() == nil && names != nil && len(names) != n {
			return nil, fmt.Errorf("%w: %d names for %d values", ErrLabelMismatch, len(names), n)
		}
		v = Vector{Values: values, Names: names}
	case protocol.TagMatrix:
		m, err := decodeMatrix(r)
		if err != nil {
			return nil, err
		}
		v = m
	default:
		return nil, fmt.Errorf("%w: %v is not a value", protocol.ErrUnknownTag, tag)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeMatrix(r *protocol.Reader) (Matrix, error) {
	rowNames := readLabels(r)
	colNames := readLabels(r)
	rows := r.Count()
	cols := r.Count()
	if err := r.Err(); err != nil {
		return Matrix{}, err
	}
	if rows != 0 && cols > protocol.MaxElements/rows {
		return Matrix{}, fmt.Errorf("%w: matrix %dx%d", protocol.ErrTooLarge, rows, cols)
	}
	if rowNames != nil && len(rowNames) != rows {
		return Matrix{}, fmt.Errorf("%w: %d row names for %d rows", ErrLabelMismatch, len(rowNames), rows)
	}
	if colNames != nil && len(colNames) != cols {
		return Matrix{}, fmt.Errorf("%w: %d column names for %d columns", ErrLabelMismatch, len(colNames), cols)
	}
	m := Matrix{Rows: rows, Cols: cols, RowNames: rowNames, ColNames: colNames}
	m.Data = make([]float64, 0, min(rows*cols, 4096))
	for i := 0; i < rows*cols && r.Err() == nil; i++ {
		m.Data = append(m.Data, r.Float64())
	}
	return m, r.Err()
}
