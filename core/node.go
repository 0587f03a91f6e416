package core

// node.go implements the node instance: owns the consensus core, the
// ecosystem miner, the device registry and a transport handle, and runs
// the three background loops (select/propose/finalize, own-energy update,
// placeholder sync) plus the device monitor loop, supervised by errgroup.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GossipTopics are the fixed topics every node subscribes to on start.
var GossipTopics = []string{"blocks", "transactions", "consensus", "validator-announcements", "network-health"}

// NodeConfig bundles the knobs a node instance is built from.
type NodeConfig struct {
	PeerID          string
	ListenAddr      string
	DiscoveryTag    string
	BootstrapPeers  []string
	EnergyThreshold float64
	FractalLevels   int
	MaxPeers        int
	SyncIntervalSec int
	MinerAddress    Address
}

// NodeState tracks the node's lifecycle and running counters.
type NodeState struct {
	mu               sync.RWMutex
	started          bool
	totalTransactions uint64
}

func (s *NodeState) setStarted(v bool) {
	s.mu.Lock()
	s.started = v
	s.mu.Unlock()
}

// Started reports whether the node has completed start().
func (s *NodeState) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// TotalTransactions returns the last-observed ledger transaction count.
func (s *NodeState) TotalTransactions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTransactions
}

func (s *NodeState) setTotalTransactions(n uint64) {
	s.mu.Lock()
	s.totalTransactions = n
	s.mu.Unlock()
}

// NodeInstance is a single running chain node: consensus + miner + state +
// transport, 
type NodeInstance struct {
	cfg       NodeConfig
	store     *Store
	consensus *Consensus
	miner     *Miner
	devices   *DeviceRegistry
	transport *Node
	state     *NodeState

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewNodeInstance allocates node state without starting anything.
func NewNodeInstance(cfg NodeConfig, store *Store) *NodeInstance {
	consensus := NewConsensus(cfg.EnergyThreshold, cfg.FractalLevels)
	devices := NewDeviceRegistry(store, 45, 90)
	miner := NewMiner(store, devices, consensus, cfg.MinerAddress)

	return &NodeInstance{
		cfg:       cfg,
		store:     store,
		consensus: consensus,
		miner:     miner,
		devices:   devices,
		state:     &NodeState{},
	}
}

// Start initializes consensus with this node's peer id as genesis
// validator, brings up the transport, subscribes to the fixed gossip
// topics, seeds peer discovery, and launches the background loops.
func (n *NodeInstance) Start(ctx context.Context) error {
	n.consensus.Initialize(n.cfg.PeerID)

	transport, err := NewNode(TransportConfig{
		ListenAddr:     n.cfg.ListenAddr,
		DiscoveryTag:   n.cfg.DiscoveryTag,
		BootstrapPeers: n.cfg.BootstrapPeers,
		MaxPeers:       n.cfg.MaxPeers,
	})
	if err != nil {
		return fmt.Errorf("%w: start transport: %v", ErrNode, err)
	}
	n.transport = transport

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	n.group = group

	for _, topic := range GossipTopics {
		ch, err := transport.Subscribe(topic)
		if err != nil {
			logrus.WithError(err).WithField("topic", topic).Warn("node: subscribe failed")
			continue
		}
		topic := topic
		group.Go(func() error { n.gossipLoop(gctx, topic, ch); return nil })
	}

	n.devices.SetStopCallback(func(deviceID string) {
		logrus.WithField("device_id", deviceID).Info("node: device evicted from reward set")
	})

	group.Go(func() error { n.consensusLoop(gctx); return nil })
	group.Go(func() error { n.energyLoop(gctx); return nil })
	group.Go(func() error { n.syncLoop(gctx); return nil })
	group.Go(func() error { n.miner.Run(); return nil })
	group.Go(func() error { n.monitorLoop(gctx); return nil })

	n.state.setStarted(true)
	return nil
}

// Shutdown disconnects all peers, stops the miner, and drops the
// transport.
func (n *NodeInstance) Shutdown() error {
	n.miner.Stop()
	if n.cancel != nil {
		n.cancel()
	}
	if n.group != nil {
		_ = n.group.Wait()
	}
	n.state.setStarted(false)
	if n.transport != nil {
		return n.transport.Close()
	}
	return nil
}

// consensusLoop runs the 5-second select/propose/finalize cycle.
func (n *NodeInstance) consensusLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			selected := n.consensus.SelectValidators()
			for _, v := range selected {
				if v != n.cfg.PeerID {
					continue
				}
				h := n.store.LatestHeight() + 1
				if _, err := n.consensus.ProposeBlock(v, h, nowUnix()); err != nil {
					logConsensusError("propose", err)
				}
			}
			n.consensus.FinalizeBlocks()
			n.state.setTotalTransactions(n.store.TransactionCount())
		}
	}
}

// gossipLoop drains one topic's subscription channel for as long as the
// node runs. A stalled or absent consumer blocks the transport's forwarding
// goroutine forever, so every Subscribe call must be paired with one of
// these; real message routing is out of scope (see syncLoop).
func (n *NodeInstance) gossipLoop(ctx context.Context, topic string, ch <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			logrus.WithField("topic", topic).WithField("from", msg.From).Debug("node: gossip message received")
		}
	}
}

// energyLoop runs the 30-second own-energy update loop.
func (n *NodeInstance) energyLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wasSelected := n.consensus.WasSelected(n.cfg.PeerID)
			n.consensus.UpdateOwnEnergy(n.cfg.PeerID, wasSelected)
		}
	}
}

// syncLoop is a placeholder sync loop running at the configured interval;
// real peer-state reconciliation is out of scope (this leaves the
// transport's wire format abstract).
func (n *NodeInstance) syncLoop(ctx context.Context) {
	interval := time.Duration(n.cfg.SyncIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logrus.WithField("tips", len(n.consensus.TipHashes())).Debug("node: sync tick")
		}
	}
}

// monitorLoop runs the device auto-detection monitor every 10s, the
// default check interval.
func (n *NodeInstance) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.devices.RunMonitorTick()
		}
	}
}

// State returns the node's lifecycle/counter snapshot.
func (n *NodeInstance) State() *NodeState { return n.state }

// Devices returns the node's device registry, used by the HTTP layer.
func (n *NodeInstance) Devices() *DeviceRegistry { return n.devices }

// Consensus returns the node's consensus core, used by the HTTP layer.
func (n *NodeInstance) Consensus() *Consensus { return n.consensus }

// Miner returns the node's ecosystem miner, used by the HTTP layer.
func (n *NodeInstance) Miner() *Miner { return n.miner }

// Store returns the node's ledger store, used by the HTTP layer.
func (n *NodeInstance) Store() *Store { return n.store }
