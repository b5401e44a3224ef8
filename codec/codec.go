// Package codec implements the typed value codec of the bridge protocol.
//
// A Value is written as a complete frame: magic, tag, then a body whose
// layout depends on the tag. Values nested inside other frames (message
// arguments, object array elements) are written the same way.
//
//	Value            Body
//	Null             (empty)
//	Bool, Byte       1 byte
//	Int32            int32
//	Int64, Float64   8 bytes
//	String           int32 length + UTF-8
//	XxxArray         int32 count + elements
//	ObjectArray      int32 count + framed Values
//	Vector           names, int32 length, float64 cells
//	Matrix           row names, col names, int32 rows, int32 cols, cells (column-major)
//	ObjectRef        int32 handle + class name
//	Exception        message
//
// Go values are converted to and from Values with Marshal and Unmarshal,
// which consult a proxy table for anything that travels by reference.
package codec

import (
	"fmt"

	"net-bridge/protocol"
)

// RemoteError is raised locally when the peer replies with an Exception.
// Error returns the remote message text unchanged.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Result is the outcome of one request: a Value or an error, never both.
type Result struct {
	Value Value
	Err   error
}

// WriteValue writes v as a complete frame. A nil Value is written as Null.
func WriteValue(w *protocol.Writer, v Value) error {
	if v == nil {
		v = Null{}
	}
	return protocol.WriteFrame(w, v)
}

// WriteResult writes the Exception for res.Err if set, otherwise res.Value.
func WriteResult(w *protocol.Writer, res Result) error {
	if res.Err != nil {
		return WriteValue(w, Exception{Message: res.Err.Error()})
	}
	return WriteValue(w, res.Value)
}

// Decode reads one framed Value. An Exception is returned as a value; use
// ReadValue to have it raised.
func Decode(r *protocol.Reader) (Value, error) {
	tag, err := protocol.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return DecodeBody(tag, r)
}

// DecodeBody decodes the body of a value whose header has already been
// consumed. Message tags are rejected.
func DecodeBody(tag protocol.Tag, r *protocol.Reader) (Value, error) {
	if tag.IsMessage() {
		return nil, fmt.Errorf("%w: %v where a value was expected", protocol.ErrUnknownTag, tag)
	}
	return decodeBody(tag, r)
}

// ReadValue reads one framed Value and raises an Exception as *RemoteError.
// It is the entry point for every RPC reply.
func ReadValue(r *protocol.Reader) (Value, error) {
	tag, err := protocol.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return ReadValueBody(tag, r)
}

// ReadValueBody is ReadValue for a reply whose header was already consumed,
// as when the caller peeks the tag to route non-value replies elsewhere.
func ReadValueBody(tag protocol.Tag, r *protocol.Reader) (Value, error) {
	v, err := DecodeBody(tag, r)
	if err != nil {
		return nil, err
	}
	if e, ok := v.(Exception); ok {
		return nil, e.Err()
	}
	return v, nil
}
