// Package config loads a node's bootstrap configuration from a JSON file,
// adapted from the teacher's cmdconfig.readPeerFromJSON with a file lock
// added around the read so a concurrently-rewritten config file (by a
// deployment tool) cannot be read half-written.
package config

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/txraft/rpcnode/consensus"
)

// NodeAddr is one entry of the node address table: the host/port this
// node's front-end advertises for forwarding and getLeaderInfo/
// getNetworkInfo, plus its trust status.
type NodeAddr struct {
	Host   string `json:"host"`
	Port   string `json:"port"`
	Status string `json:"status"`
}

// NodeConfig is a node's full bootstrap configuration: its identity,
// cluster membership, and the front-end's tunables.
type NodeConfig struct {
	SelfID     consensus.NodeID    `json:"self_id"`
	ListenAddr string              `json:"listen_addr"`
	Nodes      map[string]NodeAddr `json:"nodes"`

	CertsConfigured        bool   `json:"certs_configured"`
	ClientSigsConfigured   bool   `json:"client_sigs_configured"`
	RequestStoringDisabled bool   `json:"request_storing_disabled"`
	VerifierCacheSize      int    `json:"verifier_cache_size"`
	MetricsNamespace       string `json:"metrics_namespace"`

	// StartAsLeader bootstraps this node directly into the Leader state on
	// startup. There is no election protocol behind consensus.Replicator
	// (spec.md's Non-goals exclude one), so some out-of-band way of naming
	// the initial leader is required; a single-node deployment is always
	// bootstrapped as leader regardless of this flag, since there is no one
	// else to forward to.
	StartAsLeader bool `json:"start_as_leader"`

	SigMaxTx int64 `json:"sig_max_tx"`
	SigMaxMs int64 `json:"sig_max_ms"`

	HistoryFilePath      string        `json:"history_file_path"`
	HistoryFlushInterval time.Duration `json:"history_flush_interval"`
	TickInterval         time.Duration `json:"tick_interval"`

	ForwardDialTimeout time.Duration `json:"forward_dial_timeout"`
}

// LoadFromFile reads and parses a NodeConfig from filepath, holding an
// exclusive flock on filepath+".lock" for the duration of the read.
func LoadFromFile(filepath string) (*NodeConfig, error) {
	lock := flock.New(filepath + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrap(err, "unable to lock config file")
	}
	defer lock.Unlock()

	data, err := ioutil.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config file")
	}
	var cfg NodeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse config file")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *NodeConfig) {
	if cfg.SigMaxTx == 0 {
		cfg.SigMaxTx = 1000
	}
	if cfg.SigMaxMs == 0 {
		cfg.SigMaxMs = 1000
	}
	if cfg.HistoryFlushInterval == 0 {
		cfg.HistoryFlushInterval = 5 * time.Second
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.ForwardDialTimeout == 0 {
		cfg.ForwardDialTimeout = 3 * time.Second
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = "rpcnode"
	}
}

// ApplyNodes installs every configured node address into replicator,
// converting string map keys back into consensus.NodeID.
func ApplyNodes(replicator *consensus.Replicator, nodes map[string]NodeAddr) {
	for id, addr := range nodes {
		replicator.AddNode(consensus.NodeID(id), consensus.NodeInfo{
			Host:   addr.Host,
			Port:   addr.Port,
			Status: addr.Status,
		})
	}
}
