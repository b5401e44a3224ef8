package server

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"net-bridge/capability"
	"net-bridge/codec"
	"net-bridge/message"
	"net-bridge/proxy"
)

// ErrObjectNotFound is returned when a request targets a handle this
// server did not issue, or one that was released.
var ErrObjectNotFound = errors.New("object not found for proxy")

var errNoTemplates = errors.New("server: capability does not describe classes")

// session applies requests against the capability, translating handles and
// Values to Go objects on the way in and back on the way out.
type session struct {
	capability capability.Capability
	proxies    *proxy.Registry
	logger     *zap.Logger
}

var _ message.Handler = (*session)(nil)

func (s *session) target(h int32) (any, error) {
	obj, ok := s.proxies.Lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrObjectNotFound, h)
	}
	return obj, nil
}

func (s *session) in(v codec.Value) any { return codec.Unmarshal(s.proxies, v) }

func (s *session) args(vs []codec.Value) []any { return codec.UnmarshalAll(s.proxies, vs) }

func (s *session) out(obj any, err error) (codec.Value, error) {
	if err != nil {
		return nil, err
	}
	return codec.Marshal(s.proxies, obj), nil
}

func (s *session) Create(m *message.Create) (codec.Value, error) {
	return s.out(s.capability.Create(m.Class, s.args(m.Args)))
}

func (s *session) CallStaticMethod(m *message.CallStaticMethod) (codec.Value, error) {
	return s.out(s.capability.CallStaticMethodByName(m.Class, m.Method, s.args(m.Args)))
}

func (s *session) CallMethod(m *message.CallMethod) (codec.Value, error) {
	obj, err := s.target(m.Handle)
	if err != nil {
		return nil, err
	}
	return s.out(s.capability.CallMethod(obj, m.Method, s.args(m.Args)))
}

func (s *session) GetProperty(m *message.GetProperty) (codec.Value, error) {
	obj, err := s.target(m.Handle)
	if err != nil {
		return nil, err
	}
	return s.out(s.capability.GetProperty(obj, m.Name))
}

func (s *session) SetProperty(m *message.SetProperty) error {
	obj, err := s.target(m.Handle)
	if err != nil {
		return err
	}
	return s.capability.SetProperty(obj, m.Name, s.in(m.Value))
}

func (s *session) GetStaticProperty(m *message.GetStaticProperty) (codec.Value, error) {
	return s.out(s.capability.GetStaticProperty(m.Class, m.Name))
}

func (s *session) SetStaticProperty(m *message.SetStaticProperty) error {
	return s.capability.SetStaticProperty(m.Class, m.Name, s.in(m.Value))
}

func (s *session) GetIndexedProperty(m *message.GetIndexedProperty) (codec.Value, error) {
	obj, err := s.target(m.Handle)
	if err != nil {
		return nil, err
	}
	return s.out(s.capability.GetIndexedProperty(obj, m.Name, int(m.Index)))
}

func (s *session) GetIndexed(m *message.GetIndexed) (codec.Value, error) {
	obj, err := s.target(m.Handle)
	if err != nil {
		return nil, err
	}
	return s.out(s.capability.GetIndexed(obj, int(m.Index)))
}

// Protect is accepted for compatibility with clients that pin handles; the
// registry never drops a handle on its own.
func (s *session) Protect(m *message.Protect) {
	s.logger.Debug("protect", zap.Int32("handle", m.Handle))
}

func (s *session) Release(m *message.Release) {
	s.proxies.Release(m.Handle)
}

func (s *session) Template(m *message.TemplateRequest) (*message.TemplateReply, error) {
	in, ok := s.capability.(capability.Introspector)
	if !ok {
		return nil, errNoTemplates
	}
	t, err := in.Template(m.Class)
	if err != nil {
		return nil, err
	}
	return &message.TemplateReply{
		Properties:    t.Properties,
		Methods:       t.Methods,
		StaticMethods: t.StaticMethods,
	}, nil
}
