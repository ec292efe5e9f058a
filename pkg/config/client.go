package config

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

type LocalityCfg struct {
	SelfID string `json:"self_id" yaml:"self_id"`
	Cloud  string `json:"cloud" yaml:"cloud"`
	Region string `json:"region" yaml:"region"`
	Zone   string `json:"zone" yaml:"zone"`
}

type ClientCfg struct {
	LogLevel string `json:"log_level" yaml:"log_level"`

	AuthorityKind      string   `json:"authority_kind" yaml:"authority_kind"`
	AuthorityEndpoints []string `json:"authority_endpoints" yaml:"authority_endpoints"`

	FreshnessBound   string `json:"freshness_bound" yaml:"freshness_bound"`
	EvictionGrace    string `json:"eviction_grace" yaml:"eviction_grace"`
	LookupBackoff    string `json:"lookup_backoff" yaml:"lookup_backoff"`
	LookupMaxRetries uint64 `json:"lookup_max_retries" yaml:"lookup_max_retries"`

	Locality LocalityCfg `json:"locality" yaml:"locality"`
}

const (
	defaultFreshnessBound = 5 * time.Minute
	defaultEvictionGrace  = 15 * time.Minute
	defaultLookupBackoff  = 100 * time.Millisecond
	defaultLookupRetries  = 7
)

var cfgClient ClientCfg

func LoadClientCfg(cfgPath string) error {
	file, err := os.Open(cfgPath)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := yaml.NewDecoder(file).Decode(&cfgClient); err != nil {
		return err
	}

	configBytes, err := json.MarshalIndent(cfgClient, "", "  ")
	if err != nil {
		return err
	}
	log.Println("Running config:", string(configBytes))
	return nil
}

func ClientConfig() *ClientCfg {
	return &cfgClient
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func (c *ClientCfg) FreshnessBoundDuration() time.Duration {
	return parseDuration(c.FreshnessBound, defaultFreshnessBound)
}

func (c *ClientCfg) EvictionGraceDuration() time.Duration {
	return parseDuration(c.EvictionGrace, defaultEvictionGrace)
}

func (c *ClientCfg) LookupBackoffDuration() time.Duration {
	return parseDuration(c.LookupBackoff, defaultLookupBackoff)
}

func (c *ClientCfg) LookupRetries() uint64 {
	if c.LookupMaxRetries == 0 {
		return defaultLookupRetries
	}
	return c.LookupMaxRetries
}

var instanceID = uuid.NewString()

// SelfIdentity returns the configured server identity of this client,
// or a per-process instance id when none is configured. A generated id
// matches no replica, so it only identifies the client in logs and on
// the wire.
func (c *ClientCfg) SelfIdentity() string {
	if c.Locality.SelfID != "" {
		return c.Locality.SelfID
	}
	return instanceID
}
