// Package raftlog is a second TransformLog implementation: instead of the
// in-memory, single-process pkg/translog.Log, every mutation (append,
// truncate, rollback, clear) is replicated through Raft consensus before it
// is considered durable, so a source built on it survives the loss of any
// minority of cluster members. Grounded on the teacher's
// pkg/manager/manager.go (Bootstrap/Join/Apply, Raft transport/snapshot/log
// store wiring) and pkg/manager/fsm.go (WarrenFSM.Apply/Snapshot/Restore),
// translated from cluster-state commands to transform-log commands.
package raftlog

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/orbitkit/orbit-go/pkg/bus"
	"github.com/orbitkit/orbit-go/pkg/log"
	"github.com/orbitkit/orbit-go/pkg/metrics"
	"github.com/orbitkit/orbit-go/pkg/translog"
)

// Config configures a replicated Log.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool // true for the first node of a new cluster

	// ApplyTimeout bounds how long a mutating call waits for Raft to commit
	// it. Defaults to 5s, matching the teacher's Manager.Apply.
	ApplyTimeout time.Duration
}

// Log is a Raft-replicated transform log. Mutating calls (Append, Truncate,
// Rollback, Clear) go through raft.Apply and only return once a quorum has
// committed them; read calls (Contains, Head, Entries, Len, After, Before)
// are served from this node's local replica without a round trip, which is
// sufficient for the task-queue and fork/merge callers in this module (none
// require linearizable reads across a partition).
type Log struct {
	cfg    Config
	raft   *raft.Raft
	fsm    *fsm
	local  *translog.Log // the same *translog.Log the fsm mutates on Apply
	logger zerolog.Logger
}

// command is the Raft log entry payload, mirroring the teacher's
// manager.Command{Op, Data} envelope.
type command struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	Relative int    `json:"relative,omitempty"`
}

// applyResult is what fsm.Apply returns through the raft.ApplyFuture.
type applyResult struct {
	Discarded []string
	Err       error
}

// fsm implements raft.FSM over a translog.Log.
type fsm struct {
	log *translog.Log
}

func (f *fsm) Apply(entry *raft.Log) any {
	var cmd command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return applyResult{Err: fmt.Errorf("raftlog: decode command: %w", err)}
	}
	switch cmd.Op {
	case "append":
		if !f.log.Contains(cmd.ID) {
			f.log.Append(cmd.ID)
		}
		return applyResult{}
	case "truncate":
		discarded, err := f.log.Truncate(cmd.ID, cmd.Relative)
		return applyResult{Discarded: discarded, Err: err}
	case "rollback":
		discarded, err := f.log.Rollback(cmd.ID, cmd.Relative)
		return applyResult{Discarded: discarded, Err: err}
	case "clear":
		return applyResult{Discarded: f.log.Clear()}
	default:
		return applyResult{Err: fmt.Errorf("raftlog: unknown command %q", cmd.Op)}
	}
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return &snapshot{entries: f.log.Entries()}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var entries []string
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return fmt.Errorf("raftlog: decode snapshot: %w", err)
	}
	f.log.Clear()
	for _, id := range entries {
		f.log.Append(id)
	}
	return nil
}

type snapshot struct{ entries []string }

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.entries); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}

// Open brings up a Raft node backed by bbolt log/stable stores and a file
// snapshot store under cfg.DataDir, bootstrapping a new single-node cluster
// when cfg.Bootstrap is set.
func Open(cfg Config) (*Log, error) {
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("raftlog: create data dir: %w", err)
	}

	local := translog.New(bus.New())
	f := &fsm{log: local}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("raftlog: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftlog: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftlog: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("raftlog: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("raftlog: create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftlog: create raft: %w", err)
	}

	l := &Log{cfg: cfg, raft: r, fsm: f, local: local, logger: log.WithComponent("raftlog").With().Str("node_id", cfg.NodeID).Logger()}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("raftlog: bootstrap cluster: %w", err)
		}
		l.logger.Info().Str("bind_addr", cfg.BindAddr).Msg("bootstrapped single-node cluster")
	}

	return l, nil
}

// Join adds nodeID at addr as a voter. Must be called against the leader.
func (l *Log) Join(nodeID, addr string) error {
	if !l.IsLeader() {
		return fmt.Errorf("raftlog: not the leader, current leader is %s", l.LeaderAddr())
	}
	future := l.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftlog: add voter %s: %w", nodeID, err)
	}
	l.logger.Info().Str("voter", nodeID).Str("addr", addr).Msg("added voter")
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (l *Log) IsLeader() bool { return l.raft.State() == raft.Leader }

// LeaderAddr returns the address of the current Raft leader, or "" if none.
func (l *Log) LeaderAddr() string { return string(l.raft.Leader()) }

// Close shuts the Raft node down.
func (l *Log) Close() error {
	return l.raft.Shutdown().Error()
}

func (l *Log) apply(cmd command) (applyResult, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return applyResult{}, fmt.Errorf("raftlog: encode command: %w", err)
	}
	future := l.raft.Apply(data, l.cfg.ApplyTimeout)
	if err := future.Error(); err != nil {
		l.logger.Warn().Err(err).Str("op", cmd.Op).Msg("raft apply failed")
		return applyResult{}, fmt.Errorf("raftlog: apply %s: %w", cmd.Op, err)
	}
	resp, _ := future.Response().(applyResult)
	if resp.Err != nil {
		return applyResult{}, resp.Err
	}
	return resp, nil
}

// Append replicates id onto the log. Appending an ID that is already
// present is a no-op: the FSM skips it, unlike translog.Log.Append, which
// panics.
func (l *Log) Append(id string) error {
	_, err := l.apply(command{Op: "append", ID: id})
	if err == nil {
		metrics.TransformsAppendedTotal.Inc()
	}
	return err
}

// Truncate replicates a truncate at id+relative and returns the discarded IDs.
func (l *Log) Truncate(id string, relative int) ([]string, error) {
	res, err := l.apply(command{Op: "truncate", ID: id, Relative: relative})
	return res.Discarded, err
}

// Rollback replicates a rollback at id+relative and returns the discarded IDs.
func (l *Log) Rollback(id string, relative int) ([]string, error) {
	res, err := l.apply(command{Op: "rollback", ID: id, Relative: relative})
	if err == nil {
		metrics.TransformsRolledBackTotal.Add(float64(len(res.Discarded)))
	}
	return res.Discarded, err
}

// Clear replicates a clear and returns every discarded ID.
func (l *Log) Clear() ([]string, error) {
	res, err := l.apply(command{Op: "clear"})
	return res.Discarded, err
}

// Bus returns the local replica's event bus (append/truncate/rollback/clear
// notifications), fired as committed entries land on this node.
func (l *Log) Bus() *bus.Bus { return l.local.Bus() }

// Contains, Head, Entries, Len, After and Before are read directly from this
// node's local replica.
func (l *Log) Contains(id string) bool   { return l.local.Contains(id) }
func (l *Log) Head() string              { return l.local.Head() }
func (l *Log) Entries() []string         { return l.local.Entries() }
func (l *Log) Len() int                  { return l.local.Len() }
func (l *Log) After(id string) []string  { return l.local.After(id) }
func (l *Log) Before(id string) []string { return l.local.Before(id) }
