// Package demo registers the "demo" library: a Widget class with instance
// state and a MathUtil class made of static members.
//
// Import it for its side effect:
//
//	import _ "net-bridge/library/demo"
package demo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"net-bridge/capability"
)

// Name is the library name to pass to capability.NewRuntime.
const Name = "demo"

var ErrDivideByZero = errors.New("division by zero")

// Widget is a right isosceles triangle tile. Size is the leg length of the
// face; the bevel runs around it on both legs.
type Widget struct {
	Size  int
	Color string
	Bevel float64
	Tags  []string

	label string
}

// NewWidget rejects a negative size.
func NewWidget(size int, color string) (*Widget, error) {
	if size < 0 {
		return nil, fmt.Errorf("widget size %d is negative", size)
	}
	return &Widget{Size: size, Color: color, Bevel: 1, Tags: []string{}}, nil
}

// NewDefaultWidget is the zero-argument constructor overload.
func NewDefaultWidget() *Widget {
	w, _ := NewWidget(1, "white")
	return w
}

func (w *Widget) ClassName() string { return "Widget" }

func (w *Widget) Area() float64 {
	leg := float64(w.Size) + 2*w.Bevel
	return leg * leg / 2
}

func (w *Widget) Grow(by int) error {
	if w.Size+by < 0 {
		return fmt.Errorf("cannot shrink widget of size %d by %d", w.Size, -by)
	}
	w.Size += by
	return nil
}

func (w *Widget) Tag(tags ...string) int {
	w.Tags = append(w.Tags, tags...)
	return len(w.Tags)
}

// Label is a read/write property backed by an unexported field.
func (w *Widget) Label() string { return w.label }

func (w *Widget) SetLabel(s string) { w.label = strings.TrimSpace(s) }

// Twin returns a new widget of the same shape.
func (w *Widget) Twin() *Widget {
	return &Widget{Size: w.Size, Color: w.Color, Bevel: w.Bevel, Tags: []string{}}
}

// Same reports whether other is this very widget.
func (w *Widget) Same(other *Widget) bool { return w == other }

// Corners returns the triangle's vertices as x,y pairs.
func (w *Widget) Corners() [][]float64 {
	leg := float64(w.Size) + 2*w.Bevel
	return [][]float64{{0, 0}, {leg, 0}, {0, leg}}
}

// Shatter always fails by panicking.
func (w *Widget) Shatter() {
	panic("widget shattered")
}

// Series is a read-only sequence indexed through At.
type Series struct {
	values []float64
}

func NewSeries(values ...float64) *Series {
	return &Series{values: append([]float64(nil), values...)}
}

func (s *Series) ClassName() string { return "Series" }

func (s *Series) Len() int { return len(s.values) }

// At makes Series indexable.
func (s *Series) At(i int) (float64, error) {
	if i < 0 || i >= len(s.values) {
		return 0, fmt.Errorf("series index %d out of range [0,%d)", i, len(s.values))
	}
	return s.values[i], nil
}

func (s *Series) Sum() float64 {
	var total float64
	for _, v := range s.values {
		total += v
	}
	return total
}

// MathUtil static properties.
var (
	Precision = 2
	Greeting  = "hello"
)

func maxOf2(a, b float64) float64 { return math.Max(a, b) }

func maxOfN(first float64, rest ...float64) float64 {
	m := first
	for _, v := range rest {
		m = math.Max(m, v)
	}
	return m
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}

func round(x float64) float64 {
	p := math.Pow(10, float64(Precision))
	return math.Round(x*p) / p
}

func greet(name string) string { return Greeting + ", " + name }

func widgets(n int) []*Widget {
	out := make([]*Widget, n)
	for i := range out {
		out[i], _ = NewWidget(i+1, "red")
	}
	return out
}

// Library returns the definition of the demo library.
func Library() *capability.Library {
	return &capability.Library{
		Name: Name,
		Classes: []*capability.Class{
			{
				Name:         "Widget",
				Constructors: []any{NewWidget, NewDefaultWidget},
			},
			{
				Name:         "Series",
				Constructors: []any{NewSeries},
			},
			{
				Name: "MathUtil",
				StaticMethods: map[string][]any{
					"Max":     {maxOf2, maxOfN},
					"Sum":     {sum},
					"Divide":  {divide},
					"Round":   {round},
					"Greet":   {greet},
					"Widgets": {widgets},
				},
				StaticProperties: map[string]any{
					"Precision": &Precision,
					"Greeting":  &Greeting,
				},
			},
		},
	}
}

func init() {
	capability.Register(Library())
}
