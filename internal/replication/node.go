package replication

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"github.com/voldyman/typesense/internal/collection"
	"github.com/voldyman/typesense/internal/store"
	"github.com/voldyman/typesense/pkg/config"
	"github.com/voldyman/typesense/pkg/errors"
)

const applyTimeout = 10 * time.Second

// Node is one member of the replicated cluster. Only the leader accepts
// writes; followers answer writes with the leader's address so callers can
// redirect.
type Node struct {
	raft    *raft.Raft
	fsm     *fsm
	st      *store.Store
	manager *collection.Manager
	nodeID  string
	logger  *slog.Logger
}

// Start builds the raft node: bolt-backed log and stable stores, a file
// snapshot store, and a TCP transport on the configured bind address.
func Start(cfg config.RaftConfig, manager *collection.Manager, st *store.Store) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating raft data directory: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.SnapshotInterval = cfg.SnapshotInterval
	if cfg.SnapshotThreshold > 0 {
		raftCfg.SnapshotThreshold = cfg.SnapshotThreshold
	}
	raftCfg.LogOutput = os.Stderr

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("opening raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("opening raft stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving raft bind address %s: %w", cfg.BindAddr, err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating raft transport: %w", err)
	}

	f := newFSM(manager, st)
	configuration := clusterConfiguration(cfg, transport.LocalAddr())

	if cfg.ResetPeers {
		// single-node clusters whose peer list changed force-reset membership
		if err := raft.RecoverCluster(raftCfg, f, logStore, stableStore, snapshots, transport, configuration); err != nil {
			return nil, fmt.Errorf("force-resetting peers: %w", err)
		}
	}

	r, err := raft.NewRaft(raftCfg, f, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("starting raft: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshots)
	if err != nil {
		return nil, fmt.Errorf("checking raft state: %w", err)
	}
	if !hasState {
		if bootErr := r.BootstrapCluster(configuration).Error(); bootErr != nil {
			return nil, fmt.Errorf("bootstrapping cluster: %w", bootErr)
		}
	}

	n := &Node{
		raft:    r,
		fsm:     f,
		st:      st,
		manager: manager,
		nodeID:  cfg.NodeID,
		logger:  slog.Default().With("component", "replication", "node_id", cfg.NodeID),
	}
	n.logger.Info("replication node started", "bind_addr", cfg.BindAddr, "peers", len(configuration.Servers))
	return n, nil
}

// clusterConfiguration derives the membership from configured peers, always
// including the local node.
func clusterConfiguration(cfg config.RaftConfig, localAddr raft.ServerAddress) raft.Configuration {
	servers := []raft.Server{{
		ID:      raft.ServerID(cfg.NodeID),
		Address: localAddr,
	}}
	for _, peer := range cfg.Peers {
		parts := strings.SplitN(peer, "=", 2)
		if len(parts) != 2 || parts[0] == cfg.NodeID {
			continue
		}
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(parts[0]),
			Address: raft.ServerAddress(parts[1]),
		})
	}
	return raft.Configuration{Servers: servers}
}

// IsLeader reports whether this node currently leads the cluster.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's address, or empty when unknown.
func (n *Node) LeaderAddr() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// WaitForLeader blocks until some node wins an election or the timeout
// elapses.
func (n *Node) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.LeaderAddr() != "" {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.Newf(errors.ErrNoLeader, 503, "no leader elected within %s", timeout)
}

// Write serializes an operation through the log. On followers it fails with
// the leader's address so the caller can redirect; the actual apply happens
// only after the entry commits.
func (n *Node) Write(op Operation) (ApplyResult, error) {
	if !n.IsLeader() {
		leader := n.LeaderAddr()
		if leader == "" {
			return ApplyResult{}, errors.Newf(errors.ErrNoLeader, 503, "no leader: failed to accept write")
		}
		return ApplyResult{}, errors.Newf(errors.ErrNotLeader, 503, "not the leader: retry against %s", leader)
	}

	data, err := json.Marshal(op)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("encoding operation: %w", err)
	}
	future := n.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrLeadershipLost || err == raft.ErrNotLeader {
			return ApplyResult{}, errors.Newf(errors.ErrLeadershipLost, 503, "leadership lost while writing")
		}
		return ApplyResult{}, fmt.Errorf("applying operation: %w", err)
	}
	result, ok := future.Response().(ApplyResult)
	if !ok {
		return ApplyResult{}, fmt.Errorf("unexpected apply response type")
	}
	return result, result.Err
}

// Snapshot forces a snapshot of the store, then issues a dummy write so the
// next snapshot always clears the minimum log-index gap.
func (n *Node) Snapshot() error {
	if err := n.raft.Snapshot().Error(); err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}
	if _, err := n.Write(Operation{Type: OpNoop}); err != nil {
		n.logger.Warn("post-snapshot dummy write failed", "error", err)
	}
	n.logger.Info("snapshot taken")
	return nil
}

// Shutdown stops the raft node.
func (n *Node) Shutdown() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("shutting down raft: %w", err)
	}
	return nil
}
