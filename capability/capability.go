// Package capability defines what a bridge server can do with the objects it
// exposes, and ships a reflection-based implementation over registered Go
// libraries.
package capability

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownLibrary = errors.New("capability: unknown library")
	ErrUnknownClass   = errors.New("capability: unknown class")
	ErrUnknownMember  = errors.New("capability: unknown member")
	ErrNoOverload     = errors.New("capability: no overload accepts the arguments")
	ErrNotIndexable   = errors.New("capability: value is not indexable")
	ErrOutOfRange     = errors.New("capability: index out of range")
	ErrReadOnly       = errors.New("capability: property is read-only")

	errNilTarget = errors.New("capability: target object is nil")
)

// Capability constructs objects and invokes members on behalf of remote
// callers. Arguments and results are plain Go values as produced by
// codec.Unmarshal and consumed by codec.Marshal.
type Capability interface {
	Create(className string, args []any) (any, error)
	CallStaticMethodByName(className, method string, args []any) (any, error)
	CallMethod(obj any, method string, args []any) (any, error)
	GetProperty(obj any, name string) (any, error)
	SetProperty(obj any, name string, value any) error
	GetStaticProperty(className, name string) (any, error)
	SetStaticProperty(className, name string, value any) error
	GetIndexedProperty(obj any, name string, index int) (any, error)
	GetIndexed(obj any, index int) (any, error)
}

// Template lists the member names of a class.
type Template struct {
	Properties    []string
	Methods       []string
	StaticMethods []string
}

// Introspector is implemented by capabilities that can describe classes.
type Introspector interface {
	Template(className string) (Template, error)
}

// InvocationError wraps a failure raised by an invoked member.
type InvocationError struct {
	Member string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.Member, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Innermost strips every InvocationError layer from err and returns the
// cause that the invoked code raised.
func Innermost(err error) error {
	for {
		var ie *InvocationError
		if !errors.As(err, &ie) || ie.Err == nil {
			return err
		}
		err = ie.Err
	}
}
