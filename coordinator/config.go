// Package coordinator assembles the consensus engine, failure detector,
// conversation store, replication layer and dispatcher into one running
// node, matching the role the teacher's partition.Node plays for a shard:
// an explicit handle passed into every entry point, never a global
// singleton (§9).
package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentmail/coordinator/cluster"
)

// ErrConfigurationInvalid is returned by NewConfig when the assembled Config
// fails validation, per spec.md §7.
var ErrConfigurationInvalid = errors.New("coordinator: invalid configuration")

// Config holds the recognized options from spec.md §6, validated before a
// Coordinator is built.
type Config struct {
	NodeID            cluster.NodeID
	ClusterNodes      []cluster.Node
	RPCTimeout        time.Duration
	HealthyInterval   time.Duration
	FailureThreshold  int
	ReplicationFactor int
	Specializations   []cluster.Specialization
}

// Option mutates a Config during construction, the functional-options shape
// used throughout this module (rootGenesisConf / StateAPIOptions style).
type Option func(*Config)

func WithRPCTimeout(d time.Duration) Option { return func(c *Config) { c.RPCTimeout = d } }

func WithHealthyInterval(d time.Duration) Option { return func(c *Config) { c.HealthyInterval = d } }

func WithFailureThreshold(n int) Option { return func(c *Config) { c.FailureThreshold = n } }

func WithReplicationFactor(n int) Option { return func(c *Config) { c.ReplicationFactor = n } }

func WithSpecializations(tags ...cluster.Specialization) Option {
	return func(c *Config) { c.Specializations = tags }
}

func defaultConfig(nodeID cluster.NodeID, clusterNodes []cluster.Node) *Config {
	return &Config{
		NodeID:            nodeID,
		ClusterNodes:      clusterNodes,
		RPCTimeout:        5 * time.Second,
		HealthyInterval:   10 * time.Second,
		FailureThreshold:  3,
		ReplicationFactor: 3,
	}
}

// NewConfig builds a Config from required fields plus options, clamping
// ReplicationFactor to the cluster size as spec.md §6 requires.
func NewConfig(nodeID cluster.NodeID, clusterNodes []cluster.Node, opts ...Option) (*Config, error) {
	c := defaultConfig(nodeID, clusterNodes)
	for _, opt := range opts {
		opt(c)
	}
	if c.ReplicationFactor > len(clusterNodes) {
		c.ReplicationFactor = len(clusterNodes)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("%w: node_id is required", ErrConfigurationInvalid)
	}
	if len(c.ClusterNodes) == 0 {
		return fmt.Errorf("%w: cluster_nodes must not be empty", ErrConfigurationInvalid)
	}
	quorum := len(c.ClusterNodes)/2 + 1
	if quorum > len(c.ClusterNodes) {
		return fmt.Errorf("%w: quorum %d exceeds cluster size %d", ErrConfigurationInvalid, quorum, len(c.ClusterNodes))
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: rpc_timeout must be positive", ErrConfigurationInvalid)
	}
	if c.HealthyInterval <= 0 {
		return fmt.Errorf("%w: healthy_interval must be positive", ErrConfigurationInvalid)
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure_threshold must be positive", ErrConfigurationInvalid)
	}
	if c.ReplicationFactor <= 0 {
		return fmt.Errorf("%w: replication_factor must be positive", ErrConfigurationInvalid)
	}
	return nil
}
