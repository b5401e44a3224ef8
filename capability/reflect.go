package capability

import (
	"fmt"
	"math"
	"reflect"

	"net-bridge/proxy"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	refType   = reflect.TypeOf(proxy.Ref{})
)

// invoke calls the first overload in fns that accepts args.
func invoke(member string, fns []reflect.Value, args []any) (any, error) {
	for _, fn := range fns {
		in, ok := convertArgs(fn.Type(), args)
		if !ok {
			continue
		}
		return call(member, fn, in)
	}
	return nil, fmt.Errorf("%w: %s with %d argument(s)", ErrNoOverload, member, len(args))
}

// call runs fn and maps its results. Errors and panics raised by fn come back
// as *InvocationError.
func call(member string, fn reflect.Value, in []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			result, err = nil, &InvocationError{Member: member, Err: cause}
		}
	}()

	return results(member, fn.Call(in))
}

func results(member string, out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			return nil, asInvocationError(member, out[0])
		}
		return out[0].Interface(), nil
	default:
		if err := asInvocationError(member, out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
}

func asInvocationError(member string, v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return &InvocationError{Member: member, Err: v.Interface().(error)}
}

// convertArgs matches args against the parameters of fnType.
func convertArgs(fnType reflect.Type, args []any) ([]reflect.Value, bool) {
	n := fnType.NumIn()
	if fnType.IsVariadic() {
		if len(args) < n-1 {
			return nil, false
		}
	} else if len(args) != n {
		return nil, false
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if fnType.IsVariadic() && i >= n-1 {
			pt = fnType.In(n - 1).Elem()
		} else {
			pt = fnType.In(i)
		}
		v, ok := convert(a, pt)
		if !ok {
			return nil, false
		}
		in[i] = v
	}
	return in, true
}

// convert returns arg as a value of type t.
func convert(arg any, t reflect.Type) (reflect.Value, bool) {
	if arg == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, true
	}
	// A placeholder for a foreign object is only meaningful to code that
	// stores or forwards it untyped.
	if v.Type() == refType {
		return reflect.Value{}, false
	}

	switch {
	case isInt(v.Kind()) || isUint(v.Kind()) || isFloat(v.Kind()):
		return convertNumber(v, t)
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		return convertSequence(v, t)
	}
	return reflect.Value{}, false
}

func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	out := reflect.New(t).Elem()
	switch {
	case isFloat(t.Kind()):
		out.SetFloat(toFloat(v))
		return out, true
	case isInt(t.Kind()):
		i, ok := toInt(v)
		if !ok || out.OverflowInt(i) {
			return reflect.Value{}, false
		}
		out.SetInt(i)
		return out, true
	case isUint(t.Kind()):
		i, ok := toInt(v)
		if !ok || i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, false
		}
		out.SetUint(uint64(i))
		return out, true
	}
	return reflect.Value{}, false
}

func convertSequence(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	var out reflect.Value
	switch t.Kind() {
	case reflect.Slice:
		out = reflect.MakeSlice(t, v.Len(), v.Len())
	case reflect.Array:
		if t.Len() != v.Len() {
			return reflect.Value{}, false
		}
		out = reflect.New(t).Elem()
	default:
		return reflect.Value{}, false
	}
	for i := 0; i < v.Len(); i++ {
		e, ok := convert(v.Index(i).Interface(), t.Elem())
		if !ok {
			return reflect.Value{}, false
		}
		out.Index(i).Set(e)
	}
	return out, true
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v.Kind()):
		return float64(v.Int())
	case isUint(v.Kind()):
		return float64(v.Uint())
	}
	return v.Float()
}

// toInt reports false for fractional or out-of-range values.
func toInt(v reflect.Value) (int64, bool) {
	switch {
	case isInt(v.Kind()):
		return v.Int(), true
	case isUint(v.Kind()):
		u := v.Uint()
		return int64(u), u <= math.MaxInt64
	}
	f := v.Float()
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// indirect follows pointers down to the value they point at.
func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// field returns the exported struct field name of v, if any.
func field(v reflect.Value, name string) (reflect.Value, bool) {
	v = indirect(v)
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	sf, ok := v.Type().FieldByName(name)
	if !ok || !sf.IsExported() {
		return reflect.Value{}, false
	}
	f, err := v.FieldByIndexErr(sf.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return f, true
}
