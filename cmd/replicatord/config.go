package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// daemonConfig is the process-level settings document for one replicatord
// instance: this node's identity, its queue substrate backend, and the
// distributed configuration documents it hosts on startup. It is distinct
// from clusterconfig.DatabaseConfiguration, which is the per-database
// partition/quorum document the Admin collaborator publishes and the
// reconciler mutates (SPEC_FULL.md §9 "layered configuration").
type daemonConfig struct {
	Node         string          `yaml:"node"`
	QueueTimeout time.Duration   `yaml:"queueTimeout"`
	Backend      backendConfig   `yaml:"backend"`
	Databases    []databaseEntry `yaml:"databases"`
}

// backendConfig selects the queuesub.Substrate implementation. Kind "memory"
// (the default) needs nothing further; "distributed" combines a NATS
// JetStream queue factory with a Redis-backed map/lock factory, the two
// network-backed adapters SPEC_FULL.md §10 names.
type backendConfig struct {
	Kind  string `yaml:"kind"`
	NATS  string `yaml:"natsURL"`
	Redis string `yaml:"redisAddr"`
}

// databaseEntry names one database this node hosts and the path to its
// distributed configuration document (cluster/partition layout).
type databaseEntry struct {
	Name       string `yaml:"name"`
	ConfigFile string `yaml:"configFile"`
}

func loadDaemonConfig(path string) (*daemonConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replicatord: read config %s: %w", path, err)
	}
	var cfg daemonConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("replicatord: parse config %s: %w", path, err)
	}
	if cfg.Node == "" {
		return nil, fmt.Errorf("replicatord: config %s: node is required", path)
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 5 * time.Second
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = "memory"
	}
	return &cfg, nil
}
