// Package protocol implements the frame layer of the bridge wire protocol.
//
// Every frame, request or reply, starts with a 3-byte header followed by a
// body whose layout is fixed by the tag. There is no length prefix: the
// receiver learns where a frame ends by decoding its fields in order.
//
// Frame format:
//
//	0       2    3
//	┌───────┬────┬──────────────────────────┐
//	│ magic │tag │ body (per-tag layout) ... │
//	│ D00D  │ u8 │                          │
//	└───────┴────┴──────────────────────────┘
//
// All multi-byte integers are little-endian.
package protocol

import (
	"errors"
	"fmt"
)

// Magic identifies a bridge frame. It is written little-endian (0x0D, 0xD0).
const Magic uint16 = 0xD00D

// HeaderSize is magic (2) + tag (1).
const HeaderSize = 3

// Decode limits. A count or length above these is treated as a malformed
// frame rather than an allocation request.
const (
	MaxElements  = 1 << 26
	MaxStringLen = 1 << 26
)

var (
	ErrBadMagic   = errors.New("protocol: invalid magic number")
	ErrUnknownTag = errors.New("protocol: unknown type tag")
	ErrTooLarge   = errors.New("protocol: length exceeds limit")
	ErrNegative   = errors.New("protocol: negative length")
)

// Tag is the 8-bit type discriminator that follows the magic number.
type Tag uint8

// Value tags.
const (
	TagNull      Tag = 0
	TagBool      Tag = 1
	TagByte      Tag = 2
	TagInt32     Tag = 5
	TagInt64     Tag = 6
	TagFloat64   Tag = 7
	TagString    Tag = 8
	TagObjectRef Tag = 9
	TagVector    Tag = 21
	TagMatrix    Tag = 22
	TagException Tag = 23

	TagBoolArray    Tag = 101
	TagByteArray    Tag = 102
	TagInt32Array   Tag = 105
	TagInt64Array   Tag = 106
	TagFloat64Array Tag = 107
	TagStringArray  Tag = 108
	TagObjectArray  Tag = 109
)

// Message tags.
const (
	TagCreate             Tag = 201
	TagCallStaticMethod   Tag = 202
	TagCallMethod         Tag = 203
	TagGetProperty        Tag = 204
	TagGetIndexedProperty Tag = 205
	TagGetIndexed         Tag = 206
	TagSetProperty        Tag = 207
	TagGetStaticProperty  Tag = 208
	TagSetStaticProperty  Tag = 209
	TagProtect            Tag = 210
	TagRelease            Tag = 211
	TagTemplateRequest    Tag = 212
	TagTemplateReply      Tag = 213
)

var tagNames = map[Tag]string{
	TagNull:               "Null",
	TagBool:               "Bool",
	TagByte:               "Byte",
	TagInt32:              "Int32",
	TagInt64:              "Int64",
	TagFloat64:            "Float64",
	TagString:             "String",
	TagObjectRef:          "ObjectRef",
	TagVector:             "Vector",
	TagMatrix:             "Matrix",
	TagException:          "Exception",
	TagBoolArray:          "BoolArray",
	TagByteArray:          "ByteArray",
	TagInt32Array:         "Int32Array",
	TagInt64Array:         "Int64Array",
	TagFloat64Array:       "Float64Array",
	TagStringArray:        "StringArray",
	TagObjectArray:        "ObjectArray",
	TagCreate:             "Create",
	TagCallStaticMethod:   "CallStaticMethod",
	TagCallMethod:         "CallMethod",
	TagGetProperty:        "GetProperty",
	TagGetIndexedProperty: "GetIndexedProperty",
	TagGetIndexed:         "GetIndexed",
	TagSetProperty:        "SetProperty",
	TagGetStaticProperty:  "GetStaticProperty",
	TagSetStaticProperty:  "SetStaticProperty",
	TagProtect:            "Protect",
	TagRelease:            "Release",
	TagTemplateRequest:    "TemplateRequest",
	TagTemplateReply:      "TemplateReply",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Known reports whether t is part of the fixed tag table.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

// IsMessage reports whether t names a request or reply message rather than a value.
func (t Tag) IsMessage() bool {
	return t >= TagCreate && t <= TagTemplateReply
}

// Frame is anything that can be written as magic + tag + body.
// Values and messages both implement it.
type Frame interface {
	Tag() Tag
	EncodeBody(w *Writer)
}

// WriteFrame writes the header of f followed by its body.
// The caller is responsible for flushing buffered writers.
func WriteFrame(w *Writer, f Frame) error {
	w.Uint16(Magic)
	w.Uint8(uint8(f.Tag()))
	f.EncodeBody(w)
	return w.Err()
}

// ReadHeader consumes magic + tag and validates both.
// An unknown tag is reported as ErrUnknownTag; callers treat it as fatal
// to the stream because the body length cannot be known.
func ReadHeader(r *Reader) (Tag, error) {
	magic := r.Uint16()
	tag := Tag(r.Uint8())
	if err := r.Err(); err != nil {
		return 0, err
	}
	if magic != Magic {
		return 0, fmt.Errorf("%w: %#04x", ErrBadMagic, magic)
	}
	if !tag.Known() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(tag))
	}
	return tag, nil
}
