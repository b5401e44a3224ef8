package codec

import (
	"math"
	"reflect"

	"net-bridge/proxy"
)

// Proxies is the handle table consulted for values that travel by reference.
// *proxy.Registry implements it.
type Proxies interface {
	HandleFor(obj any) int32
	Resolve(h int32) any
}

// ClassNamer lets an object report the class name sent alongside its handle.
type ClassNamer interface {
	ClassName() string
}

// Marshal converts a Go value to a Value. The order of checks is fixed:
// nil, error, the scalar/array table, other slices and arrays as ObjectArray,
// and finally a reference through p, registering obj if it has no handle yet.
func Marshal(p Proxies, obj any) Value {
	if isNil(obj) {
		return Null{}
	}
	if err, ok := obj.(error); ok {
		if re, ok := err.(*RemoteError); ok {
			return Exception{Message: re.Message}
		}
		return Exception{Message: err.Error()}
	}

	switch v := obj.(type) {
	case Value:
		return v
	case proxy.Ref:
		return ObjectRef{Handle: v.Handle, ClassName: v.ClassName}
	case *proxy.Ref:
		return ObjectRef{Handle: v.Handle, ClassName: v.ClassName}
	case bool:
		return Bool(v)
	case uint8:
		return Byte(v)
	case int8:
		return Int32(v)
	case int16:
		return Int32(v)
	case uint16:
		return Int32(v)
	case int32:
		return Int32(v)
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return Int32(v)
		}
		return Int64(v)
	case int64:
		return Int64(v)
	case uint32:
		return Int64(v)
	case uint:
		return Int64(v)
	case uint64:
		return Int64(v)
	case float32:
		return Float64(v)
	case float64:
		return Float64(v)
	case string:
		return String(v)
	case []bool:
		return BoolArray(v)
	case []byte:
		return ByteArray(v)
	case []int32:
		return Int32Array(v)
	case []int64:
		return Int64Array(v)
	case []float64:
		return Float64Array(v)
	case []string:
		return StringArray(v)
	case []any:
		return marshalElems(p, reflect.ValueOf(v))
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return marshalElems(p, rv)
	}

	return ObjectRef{Handle: p.HandleFor(obj), ClassName: classNameOf(obj)}
}

// MarshalAll converts an argument list.
func MarshalAll(p Proxies, objs []any) []Value {
	out := make([]Value, len(objs))
	for i, o := range objs {
		out[i] = Marshal(p, o)
	}
	return out
}

func marshalElems(p Proxies, rv reflect.Value) ObjectArray {
	out := make(ObjectArray, rv.Len())
	for i := range out {
		out[i] = Marshal(p, rv.Index(i).Interface())
	}
	return out
}

// Unmarshal converts a Value to its Go form. Object references resolve
// through p; a handle p does not own comes back as a proxy.Ref carrying the
// class name from the wire. An Exception becomes a *RemoteError value.
func Unmarshal(p Proxies, v Value) any {
	switch v := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(v)
	case Byte:
		return uint8(v)
	case Int32:
		return int32(v)
	case Int64:
		return int64(v)
	case Float64:
		return float64(v)
	case String:
		return string(v)
	case BoolArray:
		return []bool(v)
	case ByteArray:
		return []byte(v)
	case Int32Array:
		return []int32(v)
	case Int64Array:
		return []int64(v)
	case Float64Array:
		return []float64(v)
	case StringArray:
		return []string(v)
	case ObjectArray:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Unmarshal(p, e)
		}
		return out
	case Vector:
		return v
	case Matrix:
		return v
	case ObjectRef:
		obj := p.Resolve(v.Handle)
		if ref, ok := obj.(proxy.Ref); ok {
			ref.ClassName = v.ClassName
			return ref
		}
		return obj
	case Exception:
		return v.Err()
	}
	return nil
}

// UnmarshalAll converts an argument list.
func UnmarshalAll(p Proxies, vs []Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = Unmarshal(p, v)
	}
	return out
}

func isNil(obj any) bool {
	if obj == nil {
		return true
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func classNameOf(obj any) string {
	if n, ok := obj.(ClassNamer); ok {
		return n.ClassName()
	}
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
