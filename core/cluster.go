package core

// cluster.go implements the cluster manager: a fixed-size vector of node
// instances with a parallel health vector, round-robin routing, and a
// periodic health monitor.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultClusterSize is the default node-pool size.
const DefaultClusterSize = 4

// ClusterManager owns a fixed-size pool of node instances, routes requests
// round-robin across the healthy ones, and tracks aggregate health.
type ClusterManager struct {
	mu    sync.Mutex
	nodes []*NodeInstance

	healthMu sync.RWMutex
	healthy  []bool

	rrCounter   uint64
	healthyCount int32 // atomic, per manager; read via HealthyCount

	cancel context.CancelFunc
}

// NewClusterManager builds n node instances from baseCfg, applying the
// per-node offsets the source uses: listen port base+i (an ephemeral tcp
// port 0 is left as is), energy threshold 1000+100*i, fractal levels
// 5+i%3, max peers 50+10*i. Node 0 gets no
// bootstrap peers; nodes 1..n-1 bootstrap against node 0's listen address.
func NewClusterManager(n int, baseCfg NodeConfig, storeDir func(i int) string) (*ClusterManager, error) {
	if n <= 0 {
		n = DefaultClusterSize
	}

	cm := &ClusterManager{
		nodes:   make([]*NodeInstance, n),
		healthy: make([]bool, n),
	}

	var node0Addr string
	for i := 0; i < n; i++ {
		cfg := baseCfg
		cfg.PeerID = fmt.Sprintf("%s-%d", baseCfg.PeerID, i)
		cfg.EnergyThreshold = 1000 + 100*float64(i)
		cfg.FractalLevels = 5 + i%3
		cfg.MaxPeers = 50 + 10*i
		if idx := strings.LastIndex(baseCfg.ListenAddr, "/tcp/"); idx >= 0 {
			if port, err := strconv.Atoi(baseCfg.ListenAddr[idx+len("/tcp/"):]); err == nil && port > 0 {
				cfg.ListenAddr = fmt.Sprintf("%s/tcp/%d", baseCfg.ListenAddr[:idx], port+i)
			}
		}

		if i == 0 {
			cfg.BootstrapPeers = nil
		} else {
			cfg.BootstrapPeers = []string{node0Addr}
		}

		store, err := OpenStore(storeDir(i))
		if err != nil {
			return nil, fmt.Errorf("%w: open store for node %d: %v", ErrNode, i, err)
		}

		cm.nodes[i] = NewNodeInstance(cfg, store)
		if i == 0 {
			node0Addr = cfg.ListenAddr
		}
	}
	return cm, nil
}

// StartAll starts every node and its ecosystem miner, marking each healthy
// on success.
func (cm *ClusterManager) StartAll(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	cm.cancel = cancel

	for i, n := range cm.nodes {
		if err := n.Start(runCtx); err != nil {
			logrus.WithError(err).WithField("node", i).Warn("cluster: node start failed")
			cm.setHealthy(i, false)
			continue
		}
		cm.setHealthy(i, true)
	}

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error { cm.healthMonitor(gctx); return nil })
	go func() { _ = group.Wait() }()

	return nil
}

// Shutdown stops every node in the pool.
func (cm *ClusterManager) Shutdown() {
	if cm.cancel != nil {
		cm.cancel()
	}
	for i, n := range cm.nodes {
		if err := n.Shutdown(); err != nil {
			logrus.WithError(err).WithField("node", i).Warn("cluster: node shutdown failed")
		}
	}
}

func (cm *ClusterManager) setHealthy(i int, v bool) {
	cm.healthMu.Lock()
	changed := cm.healthy[i] != v
	cm.healthy[i] = v
	cm.healthMu.Unlock()
	if changed {
		cm.publishHealthyCount()
	}
}

func (cm *ClusterManager) publishHealthyCount() {
	cm.healthMu.RLock()
	n := int32(0)
	for _, h := range cm.healthy {
		if h {
			n++
		}
	}
	cm.healthMu.RUnlock()
	atomic.StoreInt32(&cm.healthyCount, n)
}

// HealthyCount returns this manager's healthy-node count, consumed by
// status endpoints.
func (cm *ClusterManager) HealthyCount() int {
	return int(atomic.LoadInt32(&cm.healthyCount))
}

// healthMonitor probes each node every 30s; "can read state" counts as
// healthy, matching the source.
func (cm *ClusterManager) healthMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, n := range cm.nodes {
				healthy := n.Store() != nil && n.State().Started()
				cm.setHealthy(i, healthy)
			}
		}
	}
}

// GetHealthyNode returns the next healthy node index in round-robin order,
// or false if none are healthy.
func (cm *ClusterManager) GetHealthyNode() (int, bool) {
	cm.healthMu.RLock()
	defer cm.healthMu.RUnlock()

	n := len(cm.healthy)
	if n == 0 {
		return 0, false
	}
	start := int(atomic.AddUint64(&cm.rrCounter, 1)) % n
	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		if cm.healthy[idx] {
			return idx, true
		}
	}
	return 0, false
}

// ExecuteOnNode calls f with the node at the next healthy round-robin
// index.
func (cm *ClusterManager) ExecuteOnNode(f func(*NodeInstance) error) error {
	idx, ok := cm.GetHealthyNode()
	if !ok {
		return fmt.Errorf("%w: no healthy node available", ErrNode)
	}
	cm.mu.Lock()
	n := cm.nodes[idx]
	cm.mu.Unlock()
	return f(n)
}

// RestartNode marks a node unhealthy, pauses briefly, then marks it healthy
// again. This is an explicit health-flag toggle, not a real process
// restart; a deployment that needs real fault recovery must replace this
// with one that stops and relaunches the node's goroutines.
func (cm *ClusterManager) RestartNode(i int) error {
	if i < 0 || i >= len(cm.nodes) {
		return fmt.Errorf("%w: node index %d out of range", ErrValidation, i)
	}
	cm.setHealthy(i, false)
	time.Sleep(100 * time.Millisecond)
	cm.setHealthy(i, true)
	return nil
}

// Size returns the number of nodes in the pool.
func (cm *ClusterManager) Size() int {
	return len(cm.nodes)
}
