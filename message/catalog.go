package message

import (
	"net-bridge/codec"
	"net-bridge/protocol"
)

// Create asks the server to construct an instance of Class.
type Create struct {
	Class string
	Args  []codec.Value
}

// CallStaticMethod invokes a static member of Class.
type CallStaticMethod struct {
	Class  string
	Method string
	Args   []codec.Value
}

// CallMethod invokes Method on the object named by Handle.
type CallMethod struct {
	Handle int32
	Method string
	Args   []codec.Value
}

type GetProperty struct {
	Handle int32
	Name   string
}

type SetProperty struct {
	Handle int32
	Name   string
	Value  codec.Value
}

type GetStaticProperty struct {
	Class string
	Name  string
}

type SetStaticProperty struct {
	Class string
	Name  string
	Value codec.Value
}

// GetIndexedProperty reads element Index of property Name.
type GetIndexedProperty struct {
	Handle int32
	Name   string
	Index  int32
}

// GetIndexed reads element Index of the object itself.
type GetIndexed struct {
	Handle int32
	Index  int32
}

// Protect is accepted for compatibility and has no effect on the server.
type Protect struct {
	Handle int32
}

// Release drops the server's mapping for Handle.
type Release struct {
	Handle int32
}

// TemplateRequest asks for the member names of Class.
type TemplateRequest struct {
	Class string
}

// TemplateReply lists the members of a class.
type TemplateReply struct {
	Properties    []string
	Methods       []string
	StaticMethods []string
}

func NewCreate(class string, args ...codec.Value) *Create {
	return &Create{Class: class, Args: args}
}

func NewCallStaticMethod(class, method string, args ...codec.Value) *CallStaticMethod {
	return &CallStaticMethod{Class: class, Method: method, Args: args}
}

func NewCallMethod(handle int32, method string, args ...codec.Value) *CallMethod {
	return &CallMethod{Handle: handle, Method: method, Args: args}
}

func NewGetProperty(handle int32, name string) *GetProperty {
	return &GetProperty{Handle: handle, Name: name}
}

func NewSetProperty(handle int32, name string, v codec.Value) *SetProperty {
	return &SetProperty{Handle: handle, Name: name, Value: v}
}

func NewGetStaticProperty(class, name string) *GetStaticProperty {
	return &GetStaticProperty{Class: class, Name: name}
}

func NewSetStaticProperty(class, name string, v codec.Value) *SetStaticProperty {
	return &SetStaticProperty{Class: class, Name: name, Value: v}
}

func NewGetIndexedProperty(handle int32, name string, index int32) *GetIndexedProperty {
	return &GetIndexedProperty{Handle: handle, Name: name, Index: index}
}

func NewGetIndexed(handle int32, index int32) *GetIndexed {
	return &GetIndexed{Handle: handle, Index: index}
}

func NewProtect(handle int32) *Protect { return &Protect{Handle: handle} }

func NewRelease(handle int32) *Release { return &Release{Handle: handle} }

func NewTemplateRequest(class string) *TemplateRequest {
	return &TemplateRequest{Class: class}
}

func (*Create) Tag() protocol.Tag             { return protocol.TagCreate }
func (*CallStaticMethod) Tag() protocol.Tag   { return protocol.TagCallStaticMethod }
func (*CallMethod) Tag() protocol.Tag         { return protocol.TagCallMethod }
func (*GetProperty) Tag() protocol.Tag        { return protocol.TagGetProperty }
func (*SetProperty) Tag() protocol.Tag        { return protocol.TagSetProperty }
func (*GetStaticProperty) Tag() protocol.Tag  { return protocol.TagGetStaticProperty }
func (*SetStaticProperty) Tag() protocol.Tag  { return protocol.TagSetStaticProperty }
func (*GetIndexedProperty) Tag() protocol.Tag { return protocol.TagGetIndexedProperty }
func (*GetIndexed) Tag() protocol.Tag         { return protocol.TagGetIndexed }
func (*Protect) Tag() protocol.Tag            { return protocol.TagProtect }
func (*Release) Tag() protocol.Tag            { return protocol.TagRelease }
func (*TemplateRequest) Tag() protocol.Tag    { return protocol.TagTemplateRequest }
func (*TemplateReply) Tag() protocol.Tag      { return protocol.TagTemplateReply }

func (*Create) OneWay() bool             { return false }
func (*CallStaticMethod) OneWay() bool   { return false }
func (*CallMethod) OneWay() bool         { return false }
func (*GetProperty) OneWay() bool        { return false }
func (*SetProperty) OneWay() bool        { return false }
func (*GetStaticProperty) OneWay() bool  { return false }
func (*SetStaticProperty) OneWay() bool  { return false }
func (*GetIndexedProperty) OneWay() bool { return false }
func (*GetIndexed) OneWay() bool         { return false }
func (*Protect) OneWay() bool            { return true }
func (*Release) OneWay() bool            { return true }
func (*TemplateRequest) OneWay() bool    { return false }

func (m *Create) EncodeBody(w *protocol.Writer) {
	w.Ident(m.Class)
	writeArgs(w, m.Args)
}

func (m *Create) DecodeBody(r *protocol.Reader) {
	m.Class = r.Ident()
	m.Args = readArgs(r)
}

func (m *CallStaticMethod) EncodeBody(w *protocol.Writer) {
	w.Ident(m.Class)
	w.Ident(m.Method)
	writeArgs(w, m.Args)
}

func (m *CallStaticMethod) DecodeBody(r *protocol.Reader) {
	m.Class = r.Ident()
	m.Method = r.Ident()
	m.Args = readArgs(r)
}

func (m *CallMethod) EncodeBody(w *protocol.Writer) {
	w.Int32(m.Handle)
	w.Ident(m.Method)
	writeArgs(w, m.Args)
}

func (m *CallMethod) DecodeBody(r *protocol.Reader) {
	m.Handle = r.Int32()
	m.Method = r.Ident()
	m.Args = readArgs(r)
}

func (m *GetProperty) EncodeBody(w *protocol.Writer) {
	w.Int32(m.Handle)
	w.Ident(m.Name)
}

func (m *GetProperty) DecodeBody(r *protocol.Reader) {
	m.Handle = r.Int32()
	m.Name = r.Ident()
}

func (m *SetProperty) EncodeBody(w *protocol.Writer) {
	w.Int32(m.Handle)
	w.Ident(m.Name)
	writeValue(w, m.Value)
}

func (m *SetProperty) DecodeBody(r *protocol.Reader) {
	m.Handle = r.Int32()
	m.Name = r.Ident()
	m.Value = readValue(r)
}

func (m *GetStaticProperty) EncodeBody(w *protocol.Writer) {
	w.Ident(m.Class)
	w.Ident(m.Name)
}

func (m *GetStaticProperty) DecodeBody(r *protocol.Reader) {
	m.Class = r.Ident()
	m.Name = r.Ident()
}

func (m *SetStaticProperty) EncodeBody(w *protocol.Writer) {
	w.Ident(m.Class)
	w.Ident(m.Name)
	writeValue(w, m.Value)
}

func (m *SetStaticProperty) DecodeBody(r *protocol.Reader) {
	m.Class = r.Ident()
	m.Name = r.Ident()
	m.Value = readValue(r)
}

func (m *GetIndexedProperty) EncodeBody(w *protocol.Writer) {
	w.Int32(m.Handle)
	w.Ident(m.Name)
	w.Int32(m.Index)
}

func (m *GetIndexedProperty) DecodeBody(r *protocol.Reader) {
	m.Handle = r.Int32()
	m.Name = r.Ident()
	m.Index = r.Int32()
}

func (m *GetIndexed) EncodeBody(w *protocol.Writer) {
	w.Int32(m.Handle)
	w.Int32(m.Index)
}

func (m *GetIndexed) DecodeBody(r *protocol.Reader) {
	m.Handle = r.Int32()
	m.Index = r.Int32()
}

func (m *Protect) EncodeBody(w *protocol.Writer)         { w.Int32(m.Handle) }
func (m *Protect) DecodeBody(r *protocol.Reader)         { m.Handle = r.Int32() }
func (m *Release) EncodeBody(w *protocol.Writer)         { w.Int32(m.Handle) }
func (m *Release) DecodeBody(r *protocol.Reader)         { m.Handle = r.Int32() }
func (m *TemplateRequest) EncodeBody(w *protocol.Writer) { w.Ident(m.Class) }
func (m *TemplateRequest) DecodeBody(r *protocol.Reader) { m.Class = r.Ident() }

func (m *TemplateReply) EncodeBody(w *protocol.Writer) {
	writeIdents(w, m.Properties)
	writeIdents(w, m.Methods)
	writeIdents(w, m.StaticMethods)
}

func (m *TemplateReply) DecodeBody(r *protocol.Reader) {
	m.Properties = readIdents(r)
	m.Methods = readIdents(r)
	m.StaticMethods = readIdents(r)
}

func (m *Create) Apply(h Handler) (protocol.Frame, error) {
	return h.Create(m)
}

func (m *CallStaticMethod) Apply(h Handler) (protocol.Frame, error) {
	return h.CallStaticMethod(m)
}

func (m *CallMethod) Apply(h Handler) (protocol.Frame, error) {
	return h.CallMethod(m)
}

func (m *GetProperty) Apply(h Handler) (protocol.Frame, error) {
	return h.GetProperty(m)
}

func (m *SetProperty) Apply(h Handler) (protocol.Frame, error) {
	if err := h.SetProperty(m); err != nil {
		return nil, err
	}
	return codec.Null{}, nil
}

func (m *GetStaticProperty) Apply(h Handler) (protocol.Frame, error) {
	return h.GetStaticProperty(m)
}

func (m *SetStaticProperty) Apply(h Handler) (protocol.Frame, error) {
	if err := h.SetStaticProperty(m); err != nil {
		return nil, err
	}
	return codec.Null{}, nil
}

func (m *GetIndexedProperty) Apply(h Handler) (protocol.Frame, error) {
	return h.GetIndexedProperty(m)
}

func (m *GetIndexed) Apply(h Handler) (protocol.Frame, error) {
	return h.GetIndexed(m)
}

func (m *Protect) Apply(h Handler) (protocol.Frame, error) {
	h.Protect(m)
	return nil, nil
}

func (m *Release) Apply(h Handler) (protocol.Frame, error) {
	h.Release(m)
	return nil, nil
}

func (m *TemplateRequest) Apply(h Handler) (protocol.Frame, error) {
	return h.Template(m)
}

func writeValue(w *protocol.Writer, v codec.Value) {
	if v == nil {
		v = codec.Null{}
	}
	_ = protocol.WriteFrame(w, v)
}

func readValue(r *protocol.Reader) codec.Value {
	if r.Err() != nil {
		return nil
	}
	v, err := codec.Decode(r)
	if err != nil {
		r.Fail(err)
		return nil
	}
	return v
}

func writeArgs(w *protocol.Writer, args []codec.Value) {
	w.Count(len(args))
	for _, a := range args {
		writeValue(w, a)
	}
}

func readArgs(r *protocol.Reader) []codec.Value {
	n := r.Count()
	args := make([]codec.Value, 0, min(n, 256))
	for i := 0; i < n && r.Err() == nil; i++ {
		args = append(args, readValue(r))
	}
	return args
}

func writeIdents(w *protocol.Writer, names []string) {
	w.Count(len(names))
	for _, n := range names {
		w.Ident(n)
	}
}

func readIdents(r *protocol.Reader) []string {
	n := r.Count()
	names := make([]string, 0, min(n, 256))
	for i := 0; i < n && r.Err() == nil; i++ {
		names = append(names, r.Ident())
	}
	return names
}
