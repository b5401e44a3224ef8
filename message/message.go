// Package message defines the request and reply messages exchanged between
// bridge client and server.
//
// Every message is a frame (see package protocol) whose body is a fixed
// sequence of fields, some of which are nested codec Values. Requests other
// than Protect and Release are answered by exactly one reply frame: a Value,
// a TemplateReply, or an Exception.
package message

import (
	"fmt"

	"net-bridge/codec"
	"net-bridge/protocol"
)

// Request is one inbound message of the closed request catalog.
type Request interface {
	protocol.Frame

	// DecodeBody reads the fields that follow magic and tag.
	DecodeBody(r *protocol.Reader)

	// OneWay reports whether the request is fire-and-forget (no reply frame).
	OneWay() bool

	// Apply calls the Handler method for this request kind and returns the
	// reply frame. For one-way requests the frame is nil.
	Apply(h Handler) (protocol.Frame, error)
}

// Handler has one method per request kind. Adding a request kind to the
// catalog requires adding its method here, so every Handler implementation
// fails to compile until it handles the new kind.
type Handler interface {
	Create(m *Create) (codec.Value, error)
	CallStaticMethod(m *CallStaticMethod) (codec.Value, error)
	CallMethod(m *CallMethod) (codec.Value, error)
	GetProperty(m *GetProperty) (codec.Value, error)
	SetProperty(m *SetProperty) error
	GetStaticProperty(m *GetStaticProperty) (codec.Value, error)
	SetStaticProperty(m *SetStaticProperty) error
	GetIndexedProperty(m *GetIndexedProperty) (codec.Value, error)
	GetIndexed(m *GetIndexed) (codec.Value, error)
	Protect(m *Protect)
	Release(m *Release)
	Template(m *TemplateRequest) (*TemplateReply, error)
}

// newRequest returns the empty request for tag, ready for DecodeBody.
func newRequest(tag protocol.Tag) (Request, bool) {
	switch tag {
	case protocol.TagCreate:
		return &Create{}, true
	case protocol.TagCallStaticMethod:
		return &CallStaticMethod{}, true
	case protocol.TagCallMethod:
		return &CallMethod{}, true
	case protocol.TagGetProperty:
		return &GetProperty{}, true
	case protocol.TagSetProperty:
		return &SetProperty{}, true
	case protocol.TagGetStaticProperty:
		return &GetStaticProperty{}, true
	case protocol.TagSetStaticProperty:
		return &SetStaticProperty{}, true
	case protocol.TagGetIndexedProperty:
		return &GetIndexedProperty{}, true
	case protocol.TagGetIndexed:
		return &GetIndexed{}, true
	case protocol.TagProtect:
		return &Protect{}, true
	case protocol.TagRelease:
		return &Release{}, true
	case protocol.TagTemplateRequest:
		return &TemplateRequest{}, true
	}
	return nil, false
}

// Read reads one request frame. Any error is a protocol or I/O error and
// leaves the stream in an unknown state.
func Read(r *protocol.Reader) (Request, error) {
	tag, err := protocol.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	req, ok := newRequest(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a request", protocol.ErrUnknownTag, tag)
	}
	req.DecodeBody(r)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %v: %w", tag, err)
	}
	return req, nil
}

// ReadReply reads one reply frame: a codec.Value or a *TemplateReply.
// An Exception reply is returned as a *codec.RemoteError.
func ReadReply(r *protocol.Reader) (protocol.Frame, error) {
	tag, err := protocol.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if tag == protocol.TagTemplateReply {
		reply := &TemplateReply{}
		reply.DecodeBody(r)
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("decode %v: %w", tag, err)
		}
		return reply, nil
	}
	v, err := codec.ReadValueBody(tag, r)
	if err != nil {
		return nil, err
	}
	return v, nil
}
