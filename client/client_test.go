package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"net-bridge/capability"
	"net-bridge/codec"
	"net-bridge/library/demo"
	"net-bridge/loadbalance"
	"net-bridge/proxy"
	"net-bridge/registry"
	"net-bridge/server"
	"net-bridge/transport"
)

func startServer(tb testing.TB, opts ...server.Option) *server.Server {
	tb.Helper()
	rt, err := capability.NewRuntime(demo.Name)
	if err != nil {
		tb.Fatal(err)
	}
	svr := server.New(rt, opts...)
	if err := svr.Listen("127.0.0.1:0"); err != nil {
		tb.Fatal(err)
	}
	go svr.Serve()
	tb.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr
}

func dial(tb testing.TB, svr *server.Server) *Client {
	tb.Helper()
	c, err := Dial(context.Background(), svr.Addr().String())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { c.Close() })
	return c
}

func newWidget(t *testing.T, c *Client, size int, color string) proxy.Ref {
	t.Helper()
	obj, err := c.Create("Widget", []any{size, color})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ref, ok := obj.(proxy.Ref)
	if !ok {
		t.Fatalf("expect proxy.Ref, got %T", obj)
	}
	return ref
}

func TestCreateAndCallMethod(t *testing.T) {
	c := dial(t, startServer(t))

	ref := newWidget(t, c, 3, "red")
	if ref.Handle < 1 || ref.ClassName != "Widget" {
		t.Fatalf("unexpected reference %v", ref)
	}

	area, err := c.CallMethod(ref, "Area", nil)
	if err != nil {
		t.Fatal(err)
	}
	if area != 12.5 {
		t.Fatalf("expect 12.5, got %v", area)
	}
}

func TestRemoteException(t *testing.T) {
	c := dial(t, startServer(t))

	_, err := c.CallStaticMethodByName("MathUtil", "Divide", []any{1.0, 0.0})
	var remote *codec.RemoteError
	if !errors.As(err, &remote) || remote.Message != demo.ErrDivideByZero.Error() {
		t.Fatalf("expect the remote division error, got %v", err)
	}
	if c.Broken() {
		t.Fatal("a remote exception must not break the connection")
	}

	got, err := c.CallStaticMethodByName("MathUtil", "Divide", []any{9.0, 3.0})
	if err != nil || got != 3.0 {
		t.Fatalf("expect 3, got %v, %v", got, err)
	}
}

func TestProperties(t *testing.T) {
	c := dial(t, startServer(t))
	ref := newWidget(t, c, 3, "red")

	if err := c.SetProperty(ref, "Color", "green"); err != nil {
		t.Fatal(err)
	}
	if v, err := c.GetProperty(ref, "Color"); err != nil || v != "green" {
		t.Fatalf("Color = %v, %v", v, err)
	}
	if v, err := c.GetProperty(ref, "Size"); err != nil || v != int32(3) {
		t.Fatalf("Size = %#v, %v", v, err)
	}

	if err := c.SetProperty(ref, "Label", "  front  "); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.GetProperty(ref, "Label"); v != "front" {
		t.Fatalf("Label = %q", v)
	}

	if _, err := c.CallMethod(ref, "Tag", []any{"x", "y", "z"}); err != nil {
		t.Fatal(err)
	}
	if v, err := c.GetIndexedProperty(ref, "Tags", 2); err != nil || v != "z" {
		t.Fatalf("Tags[2] = %v, %v", v, err)
	}
	_, err := c.GetIndexedProperty(ref, "Tags", 3)
	if err == nil || !strings.Contains(err.Error(), "index out of range") {
		t.Fatalf("expect out of range, got %v", err)
	}
}

func TestStaticProperties(t *testing.T) {
	c := dial(t, startServer(t))
	defer func(p int) { demo.Precision = p }(demo.Precision)

	if v, err := c.GetStaticProperty("MathUtil", "Precision"); err != nil || v != int32(2) {
		t.Fatalf("Precision = %#v, %v", v, err)
	}
	if err := c.SetStaticProperty("MathUtil", "Precision", 1); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.CallStaticMethodByName("MathUtil", "Round", []any{3.14159}); v != 3.1 {
		t.Fatalf("Round with precision 1 = %v", v)
	}
}

func TestIndexedAndArrays(t *testing.T) {
	c := dial(t, startServer(t))

	series, err := c.Create("Series", []any{1.0, 2.0, 4.0})
	if err != nil {
		t.Fatal(err)
	}
	if v, err := c.GetIndexed(series, 2); err != nil || v != 4.0 {
		t.Fatalf("series[2] = %v, %v", v, err)
	}

	v, err := c.CallStaticMethodByName("MathUtil", "Widgets", []any{3})
	if err != nil {
		t.Fatal(err)
	}
	widgets, ok := v.([]any)
	if !ok || len(widgets) != 3 {
		t.Fatalf("expect three widgets, got %#v", v)
	}
	for i, w := range widgets {
		size, err := c.GetProperty(w, "Size")
		if err != nil || size != int32(i+1) {
			t.Fatalf("widget %d size = %v, %v", i, size, err)
		}
	}

	sum, err := c.CallStaticMethodByName("MathUtil", "Sum", []any{[]float64{1, 2, 3.5}})
	if err != nil || sum != 6.5 {
		t.Fatalf("Sum = %v, %v", sum, err)
	}
}

func TestReferencesAsArguments(t *testing.T) {
	c := dial(t, startServer(t))
	a := newWidget(t, c, 1, "red")
	b := newWidget(t, c, 1, "red")

	if v, _ := c.CallMethod(a, "Same", []any{a}); v != true {
		t.Fatalf("Same(a) = %v", v)
	}
	if v, _ := c.CallMethod(a, "Same", []any{b}); v != false {
		t.Fatalf("Same(b) = %v", v)
	}
}

type localThing struct{ n int }

func TestLocalObjectsAreNotSent(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)
	a := newWidget(t, c, 1, "red")

	for name, send := range map[string]func() error{
		"argument": func() error {
			_, err := c.CallMethod(a, "Same", []any{&localThing{}})
			return err
		},
		"nested argument": func() error {
			_, err := c.CallStaticMethodByName("MathUtil", "Max", []any{[]any{1.0, localThing{}}})
			return err
		},
		"constructor argument": func() error {
			_, err := c.Create("Widget", []any{&localThing{}})
			return err
		},
		"property": func() error {
			return c.SetProperty(a, "Label", &localThing{})
		},
		"static property": func() error {
			return c.SetStaticProperty("MathUtil", "Greeting", &localThing{})
		},
	} {
		if err := send(); !errors.Is(err, ErrNotRemote) {
			t.Errorf("%s: expect ErrNotRemote, got %v", name, err)
		}
	}

	if c.Broken() {
		t.Fatal("a rejected argument must not break the client")
	}
	if n := svr.Proxies().Len(); n != 1 {
		t.Fatalf("expect only the widget registered on the server, got %d handles", n)
	}
}

func TestReferencesDecodeAsRemote(t *testing.T) {
	c := dial(t, startServer(t))

	// A rejected local argument leaves no client-side handle behind that a
	// later reply could collide with
	if _, err := c.Create("Widget", []any{&localThing{n: 1}}); !errors.Is(err, ErrNotRemote) {
		t.Fatalf("expect ErrNotRemote, got %v", err)
	}

	a := newWidget(t, c, 2, "red")
	if a.Handle != 1 {
		t.Fatalf("expect the server's first handle, got %v", a)
	}
	twin, err := c.CallMethod(a, "Twin", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ref, ok := twin.(proxy.Ref); !ok || ref.Handle != 2 || ref.ClassName != "Widget" {
		t.Fatalf("expect proxy.Ref @2 Widget, got %#v", twin)
	}
}

func TestIndexOutOfWireRange(t *testing.T) {
	if math.MaxInt <= math.MaxInt32 {
		t.Skip("int is 32 bits wide")
	}
	c := dial(t, startServer(t))
	a := newWidget(t, c, 1, "red")

	if _, err := c.GetIndexed(a, math.MaxInt); !errors.Is(err, capability.ErrOutOfRange) {
		t.Fatalf("expect ErrOutOfRange, got %v", err)
	}
	if _, err := c.GetIndexedProperty(a, "Tags", math.MinInt); !errors.Is(err, capability.ErrOutOfRange) {
		t.Fatalf("expect ErrOutOfRange, got %v", err)
	}
	if c.Broken() {
		t.Fatal("a rejected index must not break the client")
	}
}

func TestReleaseAndProtect(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)
	ref := newWidget(t, c, 3, "red")

	if err := c.Protect(ref); err != nil {
		t.Fatal(err)
	}
	if err := c.Release(ref); err != nil {
		t.Fatal(err)
	}
	_, err := c.CallMethod(ref, "Area", nil)
	if err == nil || err.Error() != fmt.Sprintf("object not found for proxy %d", ref.Handle) {
		t.Fatalf("expect object not found, got %v", err)
	}
	if svr.Proxies().Len() != 0 {
		t.Fatalf("expect no live handles, got %d", svr.Proxies().Len())
	}

	if err := c.Release(struct{}{}); !errors.Is(err, ErrNotRemote) {
		t.Fatalf("expect ErrNotRemote, got %v", err)
	}
}

func TestTemplate(t *testing.T) {
	c := dial(t, startServer(t))

	tmpl, err := c.Template("Series")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"At", "ClassName", "Len", "Sum"}
	if !reflect.DeepEqual(tmpl.Methods, want) {
		t.Fatalf("methods = %v, want %v", tmpl.Methods, want)
	}
	if len(tmpl.Properties) != 0 {
		t.Fatalf("Series has no exported fields, got %v", tmpl.Properties)
	}
}

// 50 connections each create and release 100 objects.
func TestConcurrentCreateRelease(t *testing.T) {
	svr := startServer(t)

	const conns, perConn = 50, 100
	var (
		mu      sync.Mutex
		handles = make(map[int32]bool)
		wg      sync.WaitGroup
		errs    = make(chan error, conns)
	)
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Dial(context.Background(), svr.Addr().String())
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()

			refs := make([]proxy.Ref, 0, perConn)
			for j := 0; j < perConn; j++ {
				obj, err := c.Create("Widget", []any{j, "red"})
				if err != nil {
					errs <- err
					return
				}
				refs = append(refs, obj.(proxy.Ref))
			}
			mu.Lock()
			for _, ref := range refs {
				handles[ref.Handle] = true
			}
			mu.Unlock()
			for _, ref := range refs {
				if err := c.Release(ref); err != nil {
					errs <- err
					return
				}
			}
			// The server handles each connection in order, so this reply
			// comes after every release above
			if _, err := c.GetStaticProperty("MathUtil", "Precision"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if len(handles) != conns*perConn {
		t.Fatalf("expect %d distinct handles, got %d", conns*perConn, len(handles))
	}
	if n := svr.Proxies().Len(); n != 0 {
		t.Fatalf("expect an empty registry, got %d", n)
	}
}

func TestBrokenAfterServerShutdown(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)
	newWidget(t, c, 1, "red")

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create("Widget", nil); err == nil {
		t.Fatal("expect the call to fail after shutdown")
	}
	if !c.Broken() {
		t.Fatal("expect the client marked broken")
	}
	if _, err := c.Create("Widget", nil); !errors.Is(err, ErrBroken) {
		t.Fatalf("expect ErrBroken, got %v", err)
	}
}

func TestDialRetryExhausted(t *testing.T) {
	svr := startServer(t)
	addr := svr.Addr().String()
	svr.Shutdown(time.Second)

	_, err := Dial(context.Background(), addr, WithDialConfig(transport.DialConfig{Attempts: 2, Delay: 10 * time.Millisecond}))
	if err == nil || !strings.Contains(err.Error(), "after 2 attempt(s)") {
		t.Fatalf("expect dial to give up after 2 attempts, got %v", err)
	}
}

func TestDialDiscovered(t *testing.T) {
	svr := startServer(t)
	reg := registry.NewStaticRegistry(map[string][]registry.Instance{
		"bridge": {{Addr: svr.Addr().String(), Weight: 1}},
	})

	c, err := DialDiscovered(context.Background(), reg, "bridge", &loadbalance.RoundRobinBalancer{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if v, err := c.CallStaticMethodByName("MathUtil", "Greet", []any{"bridge"}); err != nil || v != "hello, bridge" {
		t.Fatalf("Greet = %v, %v", v, err)
	}

	_, err = DialDiscovered(context.Background(), reg, "missing", &loadbalance.RoundRobinBalancer{})
	if !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestPool(t *testing.T) {
	svr := startServer(t)
	p := NewPool(svr.Addr().String(), 2)
	defer p.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := p.Do(ctx, func(c *Client) error {
			_, err := c.Create("Widget", nil)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if p.Live() != 1 {
		t.Fatalf("expect sequential use to reuse one client, live=%d", p.Live())
	}

	c, err := p.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if _, err := c.Create("Widget", nil); err == nil {
		t.Fatal("expect a closed client to fail")
	}
	p.Put(c)
	if p.Live() != 0 {
		t.Fatalf("expect the broken client discarded, live=%d", p.Live())
	}
}

func TestDiscoveredPool(t *testing.T) {
	a, b := startServer(t), startServer(t)
	reg := registry.NewStaticRegistry(map[string][]registry.Instance{
		"bridge": {{Addr: a.Addr().String(), Weight: 1}},
	})
	ctx := context.Background()

	p, err := NewDiscoveredPool(ctx, reg, "bridge", &loadbalance.RoundRobinBalancer{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// serverOf dials through the pool and discards the client, so every
	// call picks from the pool's current instance list
	serverOf := func() (string, error) {
		c, err := p.Get(ctx)
		if err != nil {
			return "", err
		}
		defer p.pool.Put(c, false)
		return c.conn.RemoteAddr().String(), nil
	}
	waitFor := func(what string, done func(addr string, err error) bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			addr, err := serverOf()
			if done(addr, err) {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s, last %q, %v", what, addr, err)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	if addr, err := serverOf(); err != nil || addr != a.Addr().String() {
		t.Fatalf("expect the first server, got %q, %v", addr, err)
	}

	if err := reg.Register(ctx, "bridge", registry.Instance{Addr: b.Addr().String(), Weight: 1}, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Deregister(ctx, "bridge", a.Addr().String()); err != nil {
		t.Fatal(err)
	}
	waitFor("the second server", func(addr string, err error) bool {
		return err == nil && addr == b.Addr().String()
	})

	if err := reg.Deregister(ctx, "bridge", b.Addr().String()); err != nil {
		t.Fatal(err)
	}
	waitFor("an empty instance list", func(addr string, err error) bool {
		return errors.Is(err, loadbalance.ErrNoInstances)
	})
}

func TestEtcdDiscovery(t *testing.T) {
	env := os.Getenv("NETBRIDGE_ETCD")
	if env == "" {
		t.Skip("NETBRIDGE_ETCD not set")
	}
	reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{Endpoints: strings.Split(env, ","), DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	service := "net-bridge-client-" + time.Now().Format("150405.000")
	var servers []*server.Server
	for i := 0; i < 2; i++ {
		servers = append(servers, startServer(t, server.WithDiscovery(server.Discovery{
			Registry: reg,
			Service:  service,
			Instance: registry.Instance{Weight: 10, Libraries: []string{demo.Name}},
			TTL:      10,
		})))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		list, err := reg.Discover(ctx, service)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) == len(servers) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	bal := &loadbalance.RoundRobinBalancer{}
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		c, err := DialDiscovered(ctx, reg, service, bal)
		if err != nil {
			t.Fatal(err)
		}
		if v, err := c.CallStaticMethodByName("MathUtil", "Max", []any{1, 2}); err != nil || v != 2.0 {
			t.Fatalf("Max = %v, %v", v, err)
		}
		seen[c.conn.RemoteAddr().String()] = true
		c.Close()
	}
	if len(seen) != len(servers) {
		t.Fatalf("expect round robin to reach every server, got %v", seen)
	}
}
