package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type serverFile struct {
	Addr            string   `toml:"addr"`
	Libraries       []string `toml:"libraries"`
	LogLevel        string   `toml:"log_level"`
	MetricsAddr     string   `toml:"metrics_addr"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	Discovery       struct {
		Endpoints   []string `toml:"endpoints"`
		Service     string   `toml:"service"`
		Advertise   string   `toml:"advertise"`
		TTL         int64    `toml:"ttl"`
		Weight      int      `toml:"weight"`
		DialTimeout string   `toml:"dial_timeout"`
	} `toml:"discovery"`
}

type clientFile struct {
	Addr            string `toml:"addr"`
	ConnectAttempts int    `toml:"connect_attempts"`
	ConnectDelay    string `toml:"connect_delay"`
	DialTimeout     string `toml:"dial_timeout"`
	LogLevel        string `toml:"log_level"`
	Discovery       struct {
		Endpoints   []string `toml:"endpoints"`
		Instances   []string `toml:"instances"`
		Service     string   `toml:"service"`
		Balancer    string   `toml:"balancer"`
		Key         string   `toml:"key"`
		DialTimeout string   `toml:"dial_timeout"`
	} `toml:"discovery"`
}

// LoadServer reads path over DefaultServer. An empty path yields the
// defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, cfg.Validate()
	}

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Server{}, fmt.Errorf("%w: unknown key %s in %s", ErrInvalid, undecoded[0], path)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("libraries") {
		cfg.Libraries = normalize(raw.Libraries)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("shutdown_timeout") {
		if cfg.ShutdownTimeout, err = duration("shutdown_timeout", raw.ShutdownTimeout); err != nil {
			return Server{}, err
		}
	}

	d := &cfg.Discovery
	if meta.IsDefined("discovery", "endpoints") {
		d.Endpoints = normalize(raw.Discovery.Endpoints)
	}
	if meta.IsDefined("discovery", "service") {
		d.Service = strings.TrimSpace(raw.Discovery.Service)
	}
	if meta.IsDefined("discovery", "advertise") {
		d.Advertise = strings.TrimSpace(raw.Discovery.Advertise)
	}
	if meta.IsDefined("discovery", "ttl") {
		d.TTL = raw.Discovery.TTL
	}
	if meta.IsDefined("discovery", "weight") {
		d.Weight = raw.Discovery.Weight
	}
	if meta.IsDefined("discovery", "dial_timeout") {
		if d.DialTimeout, err = duration("discovery.dial_timeout", raw.Discovery.DialTimeout); err != nil {
			return Server{}, err
		}
	}

	return cfg, cfg.Validate()
}

// LoadClient reads path over DefaultClient. An empty path yields the
// defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, cfg.Validate()
	}

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Client{}, fmt.Errorf("%w: unknown key %s in %s", ErrInvalid, undecoded[0], path)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("connect_delay") {
		if cfg.ConnectDelay, err = duration("connect_delay", raw.ConnectDelay); err != nil {
			return Client{}, err
		}
	}
	if meta.IsDefined("dial_timeout") {
		if cfg.DialTimeout, err = duration("dial_timeout", raw.DialTimeout); err != nil {
			return Client{}, err
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	d := &cfg.Discovery
	if meta.IsDefined("discovery", "endpoints") {
		d.Endpoints = normalize(raw.Discovery.Endpoints)
	}
	if meta.IsDefined("discovery", "instances") {
		d.Instances = normalize(raw.Discovery.Instances)
	}
	if meta.IsDefined("discovery", "service") {
		d.Service = strings.TrimSpace(raw.Discovery.Service)
	}
	if meta.IsDefined("discovery", "balancer") {
		d.Balancer = strings.TrimSpace(raw.Discovery.Balancer)
	}
	if meta.IsDefined("discovery", "key") {
		d.Key = raw.Discovery.Key
	}
	if meta.IsDefined("discovery", "dial_timeout") {
		if d.DialTimeout, err = duration("discovery.dial_timeout", raw.Discovery.DialTimeout); err != nil {
			return Client{}, err
		}
	}

	return cfg, cfg.Validate()
}

func duration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
