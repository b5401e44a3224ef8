// Command bridgectl issues single bridge requests from the command line.
//
//	bridgectl [flags] create <class> [args...]
//	bridgectl [flags] call <handle> <method> [args...]
//	bridgectl [flags] static <class> <method> [args...]
//	bridgectl [flags] get <handle> <property> [index]
//	bridgectl [flags] set <handle> <property> <value>
//	bridgectl [flags] sget <class> <property>
//	bridgectl [flags] sset <class> <property> <value>
//	bridgectl [flags] index <handle> <index>
//	bridgectl [flags] release <handle>...
//	bridgectl [flags] template <class>
//
// Handles stay valid across invocations until released, since the server
// keeps one registry for all connections. Arguments are parsed by parseArg.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"net-bridge/client"
	"net-bridge/config"
	"net-bridge/loadbalance"
	"net-bridge/logging"
	"net-bridge/registry"
	"net-bridge/transport"
)

func main() {
	configPath := flag.String("config", "", "path to bridgectl.toml")
	addr := flag.String("addr", "", "server address, overrides the config file")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: bridgectl [flags] <command> [args...]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *addr, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string, args []string, out io.Writer) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
		cfg.Discovery = config.ClientDiscovery{}
	}

	logger := logging.Must(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	c, err := connect(ctx, cfg, client.WithLogger(logger), client.WithDialConfig(transport.DialConfig{
		Attempts: cfg.ConnectAttempts,
		Delay:    cfg.ConnectDelay,
		Timeout:  cfg.DialTimeout,
		Logger:   logger,
	}))
	if err != nil {
		return err
	}
	defer c.Close()

	return execute(c, args, out)
}

func connect(ctx context.Context, cfg config.Client, opts ...client.Option) (*client.Client, error) {
	d := cfg.Discovery
	if !d.Enabled() {
		return client.Dial(ctx, cfg.Addr, opts...)
	}

	var reg registry.Registry
	if len(d.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(registry.EtcdConfig{Endpoints: d.Endpoints, DialTimeout: d.DialTimeout})
		if err != nil {
			return nil, err
		}
		reg = etcd
	} else {
		instances := make([]registry.Instance, len(d.Instances))
		for i, a := range d.Instances {
			instances[i] = registry.Instance{Addr: a, Weight: 1}
		}
		reg = registry.NewStaticRegistry(map[string][]registry.Instance{d.Service: instances})
	}
	defer reg.Close()

	bal, err := loadbalance.New(d.Balancer, d.Key)
	if err != nil {
		return nil, err
	}
	return client.DialDiscovered(ctx, reg, d.Service, bal, opts...)
}

// execute runs one command and prints its result.
func execute(c *client.Client, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%s: expected at least %d argument(s), got %d", cmd, n, len(rest))
		}
		return nil
	}

	var (
		result any
		err    error
	)
	switch cmd {
	case "create":
		if err = need(1); err == nil {
			result, err = c.Create(rest[0], parseArgs(rest[1:]))
		}
	case "call":
		if err = need(2); err == nil {
			var ref any
			if ref, err = handleArg(rest[0]); err == nil {
				result, err = c.CallMethod(ref, rest[1], parseArgs(rest[2:]))
			}
		}
	case "static":
		if err = need(2); err == nil {
			result, err = c.CallStaticMethodByName(rest[0], rest[1], parseArgs(rest[2:]))
		}
	case "get":
		if err = need(2); err == nil {
			var ref any
			if ref, err = handleArg(rest[0]); err != nil {
				break
			}
			if len(rest) > 2 {
				var i int
				if i, err = strconv.Atoi(rest[2]); err == nil {
					result, err = c.GetIndexedProperty(ref, rest[1], i)
				}
				break
			}
			result, err = c.GetProperty(ref, rest[1])
		}
	case "set":
		if err = need(3); err == nil {
			var ref any
			if ref, err = handleArg(rest[0]); err == nil {
				err = c.SetProperty(ref, rest[1], parseArg(rest[2]))
			}
		}
	case "sget":
		if err = need(2); err == nil {
			result, err = c.GetStaticProperty(rest[0], rest[1])
		}
	case "sset":
		if err = need(3); err == nil {
			err = c.SetStaticProperty(rest[0], rest[1], parseArg(rest[2]))
		}
	case "index":
		if err = need(2); err == nil {
			var (
				ref any
				i   int
			)
			if ref, err = handleArg(rest[0]); err == nil {
				if i, err = strconv.Atoi(rest[1]); err == nil {
					result, err = c.GetIndexed(ref, i)
				}
			}
		}
	case "release":
		if err = need(1); err == nil {
			for _, h := range rest {
				var ref any
				if ref, err = handleArg(h); err != nil {
					break
				}
				if err = c.Release(ref); err != nil {
					break
				}
			}
		}
	case "template":
		if err = need(1); err == nil {
			t, terr := c.Template(rest[0])
			if terr != nil {
				return terr
			}
			fmt.Fprintf(out, "properties:     %s\n", strings.Join(t.Properties, " "))
			fmt.Fprintf(out, "methods:        %s\n", strings.Join(t.Methods, " "))
			fmt.Fprintf(out, "static methods: %s\n", strings.Join(t.StaticMethods, " "))
			return nil
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	if result != nil {
		fmt.Fprintln(out, format(result))
	}
	return nil
}
