package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/bloc/internal/logging"
	"github.com/ryandielhenn/bloc/pkg/membership"
)

// Server captures the coordinator's runtime configuration.
type Server struct {
	Listen   string        `yaml:"listen"`
	Timeout  time.Duration `yaml:"timeout"`
	Settle   time.Duration `yaml:"settle"`
	Interval time.Duration `yaml:"interval"`
	LogLevel string        `yaml:"log_level"`
	Etcd     Etcd          `yaml:"etcd"`
}

// Etcd configures optional advertisement of the coordinator URL.
type Etcd struct {
	EndpointsCSV string   `yaml:"-"`
	Endpoints    []string `yaml:"endpoints"`
	Name         string   `yaml:"name"`
	Advertise    string   `yaml:"advertise"`
	TTL          int64    `yaml:"ttl"`
}

// Default returns the configuration used when nothing is set.
func Default() *Server {
	return &Server{
		Listen:   ":8989",
		Timeout:  6 * time.Second,
		Settle:   10 * time.Second,
		Interval: time.Second,
		LogLevel: logging.LevelInfo,
		Etcd:     Etcd{Name: "default", TTL: 10},
	}
}

// Load reads a YAML file over the defaults. Durations are strings like "10s".
func Load(path string) (*Server, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate finalizes and validates the configuration.
func (c *Server) Validate() error {
	if c.Listen == "" {
		c.Listen = ":8989"
	}
	if c.Timeout <= 0 || c.Settle <= 0 || c.Interval <= 0 {
		return fmt.Errorf("timeout, settle and interval must be positive (timeout=%s settle=%s interval=%s)",
			c.Timeout, c.Settle, c.Interval)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Etcd.EndpointsCSV != "" {
		c.Etcd.Endpoints = nil
		for _, p := range strings.Split(c.Etcd.EndpointsCSV, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.Etcd.Endpoints = append(c.Etcd.Endpoints, s)
			}
		}
	}
	if len(c.Etcd.Endpoints) > 0 {
		if c.Etcd.Advertise == "" {
			return errors.New("etcd advertisement needs an advertise URL")
		}
		if c.Etcd.TTL <= 0 {
			c.Etcd.TTL = 10
		}
		if c.Etcd.Name == "" {
			c.Etcd.Name = "default"
		}
	}
	return nil
}

func (c *Server) Membership() membership.Config {
	return membership.Config{Timeout: c.Timeout, Settle: c.Settle, Interval: c.Interval}
}
