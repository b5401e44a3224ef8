package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"net-bridge/capability"
	"net-bridge/codec"
	"net-bridge/library/demo"
	"net-bridge/message"
	"net-bridge/metrics"
	"net-bridge/middleware"
	"net-bridge/protocol"
	"net-bridge/registry"
	"net-bridge/transport"
)

func startServer(t *testing.T, c capability.Capability, opts ...Option) *Server {
	t.Helper()
	if c == nil {
		rt, err := capability.NewRuntime(demo.Name)
		if err != nil {
			t.Fatal(err)
		}
		c = rt
	}
	svr := New(c, opts...)
	if err := svr.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- svr.Serve() }()
	t.Cleanup(func() {
		if err := svr.Shutdown(time.Second); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return svr
}

// dial opens a bare framed connection, speaking the protocol directly.
func dial(t *testing.T, svr *Server) *transport.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn := transport.NewConn(nc)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *transport.Conn, req message.Request) (protocol.Frame, error) {
	t.Helper()
	if err := conn.Send(req); err != nil {
		t.Fatalf("send %v: %v", req.Tag(), err)
	}
	return message.ReadReply(conn.Reader())
}

func mustValue(t *testing.T, conn *transport.Conn, req message.Request) codec.Value {
	t.Helper()
	reply, err := roundTrip(t, conn, req)
	if err != nil {
		t.Fatalf("%v failed: %v", req.Tag(), err)
	}
	v, ok := reply.(codec.Value)
	if !ok {
		t.Fatalf("%v: expect a Value reply, got %T", req.Tag(), reply)
	}
	return v
}

func remoteMessage(t *testing.T, err error) string {
	t.Helper()
	var remote *codec.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect *codec.RemoteError, got %T (%v)", err, err)
	}
	return remote.Message
}

func TestCreateAndCallMethod(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)

	v := mustValue(t, conn, message.NewCreate("Widget", codec.Int32(3), codec.String("red")))
	ref, ok := v.(codec.ObjectRef)
	if !ok {
		t.Fatalf("expect ObjectRef, got %#v", v)
	}
	if ref.Handle < 1 || ref.ClassName != "Widget" {
		t.Fatalf("unexpected reference %#v", ref)
	}
	if svr.Proxies().Len() != 1 {
		t.Fatalf("expect one live handle, got %d", svr.Proxies().Len())
	}

	area := mustValue(t, conn, message.NewCallMethod(ref.Handle, "Area"))
	if area != codec.Float64(12.5) {
		t.Fatalf("expect Float64(12.5), got %#v", area)
	}
}

func TestProperties(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)

	ref := mustValue(t, conn, message.NewCreate("Widget", codec.Int32(3), codec.String("red"))).(codec.ObjectRef)

	if v := mustValue(t, conn, message.NewSetProperty(ref.Handle, "Color", codec.String("blue"))); v != (codec.Null{}) {
		t.Fatalf("SetProperty should reply Null, got %#v", v)
	}
	if v := mustValue(t, conn, message.NewGetProperty(ref.Handle, "Color")); v != codec.String("blue") {
		t.Fatalf("Color = %#v", v)
	}

	mustValue(t, conn, message.NewCallMethod(ref.Handle, "Tag", codec.String("a"), codec.String("b")))
	if v := mustValue(t, conn, message.NewGetIndexedProperty(ref.Handle, "Tags", 1)); v != codec.String("b") {
		t.Fatalf("Tags[1] = %#v", v)
	}

	series := mustValue(t, conn, message.NewCreate("Series", codec.Float64(1), codec.Float64(2.5))).(codec.ObjectRef)
	if v := mustValue(t, conn, message.NewGetIndexed(series.Handle, 1)); v != codec.Float64(2.5) {
		t.Fatalf("series[1] = %#v", v)
	}
}

func TestStaticMembers(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)
	defer func(g string) { demo.Greeting = g }(demo.Greeting)

	if v := mustValue(t, conn, message.NewCallStaticMethod("MathUtil", "Max", codec.Int32(2), codec.Float64(7))); v != codec.Float64(7) {
		t.Fatalf("Max = %#v", v)
	}
	mustValue(t, conn, message.NewSetStaticProperty("MathUtil", "Greeting", codec.String("hi")))
	if v := mustValue(t, conn, message.NewGetStaticProperty("MathUtil", "Greeting")); v != codec.String("hi") {
		t.Fatalf("Greeting = %#v", v)
	}

	v := mustValue(t, conn, message.NewCallStaticMethod("MathUtil", "Widgets", codec.Int32(2)))
	arr, ok := v.(codec.ObjectArray)
	if !ok || len(arr) != 2 {
		t.Fatalf("expect two references, got %#v", v)
	}
	second := arr[1].(codec.ObjectRef)
	if size := mustValue(t, conn, message.NewGetProperty(second.Handle, "Size")); size != codec.Int32(2) {
		t.Fatalf("second widget size = %#v", size)
	}
}

func TestObjectArgumentsResolve(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)

	a := mustValue(t, conn, message.NewCreate("Widget", codec.Int32(1), codec.String("red"))).(codec.ObjectRef)
	b := mustValue(t, conn, message.NewCreate("Widget", codec.Int32(1), codec.String("red"))).(codec.ObjectRef)

	if v := mustValue(t, conn, message.NewCallMethod(a.Handle, "Same", a)); v != codec.Bool(true) {
		t.Fatalf("Same(a) = %#v", v)
	}
	if v := mustValue(t, conn, message.NewCallMethod(a.Handle, "Same", b)); v != codec.Bool(false) {
		t.Fatalf("Same(b) = %#v", v)
	}

	twin := mustValue(t, conn, message.NewCallMethod(a.Handle, "Twin")).(codec.ObjectRef)
	if twin.Handle == a.Handle || twin.Handle == b.Handle {
		t.Fatalf("a new object must get a new handle, got %d", twin.Handle)
	}
	again := mustValue(t, conn, message.NewCallMethod(a.Handle, "Same", a))
	if again != codec.Bool(true) {
		t.Fatal("handle identity lost")
	}
}

func TestExceptions(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)

	ref := mustValue(t, conn, message.NewCreate("Widget", codec.Int32(3), codec.String("red"))).(codec.ObjectRef)

	cases := []struct {
		req  message.Request
		want string
	}{
		{message.NewCallStaticMethod("MathUtil", "Divide", codec.Float64(1), codec.Float64(0)), "division by zero"},
		{message.NewCallMethod(ref.Handle, "Shatter"), "widget shattered"},
		{message.NewCallMethod(ref.Handle, "Grow", codec.Int32(-5)), "cannot shrink widget of size 3 by 5"},
		{message.NewCallMethod(999, "Area"), "object not found for proxy 999"},
		{message.NewGetIndexed(ref.Handle, 0), "capability: value is not indexable: *demo.Widget"},
	}
	for _, tc := range cases {
		_, err := roundTrip(t, conn, tc.req)
		if got := remoteMessage(t, err); got != tc.want {
			t.Errorf("%v: exception %q, want %q", tc.req.Tag(), got, tc.want)
		}
	}

	// The connection survives application errors
	if v := mustValue(t, conn, message.NewCallMethod(ref.Handle, "Area")); v != codec.Float64(12.5) {
		t.Fatalf("expect the connection to keep working, got %#v", v)
	}
}

func TestReleaseAndProtect(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)

	ref := mustValue(t, conn, message.NewCreate("Widget", codec.Int32(3), codec.String("red"))).(codec.ObjectRef)

	// Protect is one-way and changes nothing
	if err := conn.Send(message.NewProtect(ref.Handle)); err != nil {
		t.Fatal(err)
	}
	if v := mustValue(t, conn, message.NewCallMethod(ref.Handle, "Area")); v != codec.Float64(12.5) {
		t.Fatalf("object lost after Protect: %#v", v)
	}

	if err := conn.Send(message.NewRelease(ref.Handle)); err != nil {
		t.Fatal(err)
	}
	if err := conn.Send(message.NewRelease(ref.Handle)); err != nil {
		t.Fatal(err)
	}
	// Requests are handled in order, so the releases are done by now
	_, err := roundTrip(t, conn, message.NewCallMethod(ref.Handle, "Area"))
	if got := remoteMessage(t, err); got != "object not found for proxy "+strconv.Itoa(int(ref.Handle)) {
		t.Fatalf("unexpected exception %q", got)
	}
	if svr.Proxies().Len() != 0 {
		t.Fatalf("expect an empty registry, got %d", svr.Proxies().Len())
	}
}

func TestTemplate(t *testing.T) {
	svr := startServer(t, nil)
	conn := dial(t, svr)

	reply, err := roundTrip(t, conn, message.NewTemplateRequest("MathUtil"))
	if err != nil {
		t.Fatal(err)
	}
	tmpl, ok := reply.(*message.TemplateReply)
	if !ok {
		t.Fatalf("expect *TemplateReply, got %T", reply)
	}
	want := []string{"Divide", "Greet", "Max", "Round", "Sum", "Widgets"}
	if !reflect.DeepEqual(tmpl.StaticMethods, want) {
		t.Fatalf("static methods = %v, want %v", tmpl.StaticMethods, want)
	}

	_, err = roundTrip(t, conn, message.NewTemplateRequest("Gizmo"))
	if got := remoteMessage(t, err); got != "capability: unknown class: Gizmo" {
		t.Fatalf("unexpected exception %q", got)
	}
}

func TestProtocolErrorClosesOnlyThatConnection(t *testing.T) {
	svr := startServer(t, nil)
	good := dial(t, svr)
	bad, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Close()

	ref := mustValue(t, good, message.NewCreate("Widget", codec.Int32(3), codec.String("red"))).(codec.ObjectRef)

	if _, err := bad.Write([]byte{0xEF, 0xBE, byte(protocol.TagCreate)}); err != nil {
		t.Fatal(err)
	}
	_ = bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bad.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expect the server to close the bad connection, got %v", err)
	}

	if v := mustValue(t, good, message.NewCallMethod(ref.Handle, "Area")); v != codec.Float64(12.5) {
		t.Fatalf("other connection disturbed: %#v", v)
	}
}

func TestUnknownTagClosesConnection(t *testing.T) {
	svr := startServer(t, nil)
	nc, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	if _, err := nc.Write([]byte{0x0D, 0xD0, 3}); err != nil {
		t.Fatal(err)
	}
	_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := nc.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expect close on an unknown tag, got %v", err)
	}
}

func TestAlreadyServing(t *testing.T) {
	first := startServer(t, nil)
	conn := dial(t, first)

	second := New(nil)
	err := second.Listen(first.Addr().String())
	if !errors.Is(err, ErrAlreadyServing) {
		t.Fatalf("expect ErrAlreadyServing, got %v", err)
	}

	if v := mustValue(t, conn, message.NewCallStaticMethod("MathUtil", "Greet", codec.String("x"))); v == nil {
		t.Fatal("first server stopped serving")
	}
}

func TestServeBeforeListen(t *testing.T) {
	if err := New(nil).Serve(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("expect ErrNotListening, got %v", err)
	}
}

// stub answers Create with values that exercise the reply path.
type stub struct {
	capability.Capability
}

func (stub) Create(className string, args []any) (any, error) {
	switch className {
	case "BadVector":
		return codec.Vector{Values: []float64{1}, Names: []string{"a", "b"}}, nil
	case "Panic":
		panic("stub exploded")
	}
	return nil, nil
}

func TestUnencodableResultAndPanic(t *testing.T) {
	svr := startServer(t, stub{})
	conn := dial(t, svr)

	_, err := roundTrip(t, conn, message.NewCreate("BadVector"))
	if got := remoteMessage(t, err); got != "codec: label count does not match extent: 2 names for 1 values" {
		t.Fatalf("unexpected exception %q", got)
	}

	_, err = roundTrip(t, conn, message.NewCreate("Panic"))
	if got := remoteMessage(t, err); got != "internal error: stub exploded" {
		t.Fatalf("unexpected exception %q", got)
	}

	if v := mustValue(t, conn, message.NewCreate("Nothing")); v != (codec.Null{}) {
		t.Fatalf("expect Null for a nil result, got %#v", v)
	}

	// stub is not an Introspector
	_, err = roundTrip(t, conn, message.NewTemplateRequest("X"))
	if got := remoteMessage(t, err); got != errNoTemplates.Error() {
		t.Fatalf("unexpected exception %q", got)
	}
}

func TestMetricsAndDiscovery(t *testing.T) {
	m := metrics.New()
	reg := registry.NewStaticRegistry(nil)
	rt, err := capability.NewRuntime(demo.Name)
	if err != nil {
		t.Fatal(err)
	}

	svr := New(rt, WithMetrics(m), WithDiscovery(Discovery{
		Registry: reg,
		Service:  "bridge",
		Instance: registry.Instance{Addr: "127.0.0.1:2050", Weight: 1},
		TTL:      10,
	}))
	if err := svr.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- svr.Serve() }()

	conn := dial(t, svr)
	mustValue(t, conn, message.NewCreate("Widget", codec.Int32(3), codec.String("red")))

	list, _ := reg.Discover(context.Background(), "bridge")
	if len(list) != 1 {
		t.Fatalf("expect the server announced, got %+v", list)
	}

	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]float64{}
	for _, f := range families {
		if len(f.GetMetric()) > 0 && f.GetMetric()[0].GetGauge() != nil {
			found[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if found["netbridge_server_handles"] != 1 || found["netbridge_server_connections"] != 1 {
		t.Fatalf("unexpected gauges: %v", found)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if list, _ := reg.Discover(context.Background(), "bridge"); len(list) != 0 {
		t.Fatalf("expect deregistration on shutdown, got %+v", list)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	rt, _ := capability.NewRuntime(demo.Name)
	svr := New(rt)
	if err := svr.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- svr.Serve() }()

	conn := dial(t, svr)
	mustValue(t, conn, message.NewCreate("Widget"))

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if _, err := message.ReadReply(conn.Reader()); err == nil {
		t.Fatal("expect the connection closed by shutdown")
	}
}

func TestResult(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", &capability.InvocationError{Member: "Area", Err: errors.New("widget shattered")})
	if res := result(nil, wrapped); res.Value != nil || res.Err == nil || res.Err.Error() != "widget shattered" {
		t.Fatalf("expect the innermost cause, got %+v", res)
	}
	if res := result(nil, nil); res.Value != nil || res.Err != nil {
		t.Fatalf("expect an empty result for no reply, got %+v", res)
	}
	if res := result(codec.Int32(7), nil); res.Value != codec.Int32(7) {
		t.Fatalf("expect the value passed through, got %+v", res)
	}
	if res := result(message.NewRelease(1), nil); !errors.Is(res.Err, protocol.ErrUnknownTag) {
		t.Fatalf("expect a request frame rejected as a reply, got %+v", res)
	}
}

func TestMiddlewareOption(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []protocol.Tag
	)
	record := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req message.Request) (protocol.Frame, error) {
			mu.Lock()
			seen = append(seen, req.Tag())
			mu.Unlock()
			return next(ctx, req)
		}
	}
	svr := startServer(t, nil, WithMiddleware(record))
	conn := dial(t, svr)
	mustValue(t, conn, message.NewCreate("Widget"))
	mustValue(t, conn, message.NewGetStaticProperty("MathUtil", "Precision"))

	mu.Lock()
	defer mu.Unlock()
	want := []protocol.Tag{protocol.TagCreate, protocol.TagGetStaticProperty}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("middleware saw %v, want %v", seen, want)
	}
}

func TestShutdownWhileDialing(t *testing.T) {
	for i := 0; i < 20; i++ {
		rt, _ := capability.NewRuntime(demo.Name)
		svr := New(rt)
		if err := svr.Listen("127.0.0.1:0"); err != nil {
			t.Fatal(err)
		}
		addr := svr.Addr().String()
		done := make(chan error, 1)
		go func() { done <- svr.Serve() }()

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if nc, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
					nc.Close()
				}
			}()
		}
		if err := svr.Shutdown(time.Second); err != nil {
			t.Fatal(err)
		}
		wg.Wait()
		if err := <-done; err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	}
}
