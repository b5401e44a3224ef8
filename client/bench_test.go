package client

import (
	"context"
	"testing"

	"net-bridge/proxy"
)

// One client, calls issued back to back.
func BenchmarkSerialCall(b *testing.B) {
	c := dial(b, startServer(b))
	obj, err := c.Create("Widget", []any{3, "red"})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.CallMethod(obj, "Area", nil); err != nil {
			b.Fatal(err)
		}
	}
}

// Parallel callers share a pool of connections, one request in flight each.
func BenchmarkPooledCall(b *testing.B) {
	svr := startServer(b)
	p := NewPool(svr.Addr().String(), 8)
	b.Cleanup(func() { p.Close() })

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			err := p.Do(ctx, func(c *Client) error {
				_, err := c.CallStaticMethodByName("MathUtil", "Max", []any{1.5, 2.5})
				return err
			})
			if err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkCreateRelease(b *testing.B) {
	c := dial(b, startServer(b))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		obj, err := c.Create("Widget", []any{1, "red"})
		if err != nil {
			b.Fatal(err)
		}
		if err := c.Release(obj.(proxy.Ref)); err != nil {
			b.Fatal(err)
		}
	}
}
