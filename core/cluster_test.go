package core

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func testClusterConfig() NodeConfig {
	return NodeConfig{
		PeerID:          "cluster-node",
		ListenAddr:      "/ip4/127.0.0.1/tcp/0",
		DiscoveryTag:    "fvc-test",
		EnergyThreshold: 0.5,
		FractalLevels:   2,
		MaxPeers:        8,
		SyncIntervalSec: 1,
		MinerAddress:    testAddr,
	}
}

func newTestCluster(t *testing.T, size int) *ClusterManager {
	t.Helper()
	dir := t.TempDir()
	cm, err := NewClusterManager(size, testClusterConfig(), func(i int) string {
		return filepath.Join(dir, fmt.Sprintf("node-%d", i))
	})
	if err != nil {
		t.Fatalf("NewClusterManager: %v", err)
	}
	return cm
}

func TestClusterManagerSize(t *testing.T) {
	cm := newTestCluster(t, 3)
	if cm.Size() != 3 {
		t.Fatalf("expected cluster size 3, got %d", cm.Size())
	}
}

func TestClusterManagerDefaultSizeOnNonPositive(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewClusterManager(0, testClusterConfig(), func(i int) string {
		return filepath.Join(dir, fmt.Sprintf("node-%d", i))
	})
	if err != nil {
		t.Fatalf("NewClusterManager: %v", err)
	}
	if cm.Size() != DefaultClusterSize {
		t.Fatalf("expected default cluster size %d, got %d", DefaultClusterSize, cm.Size())
	}
}

func TestClusterManagerStartAllAndShutdown(t *testing.T) {
	cm := newTestCluster(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if cm.HealthyCount() != 2 {
		t.Fatalf("expected both nodes to be healthy after StartAll, got %d", cm.HealthyCount())
	}

	done := make(chan struct{})
	go func() {
		cm.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	// Nodes shut down one after another and each miner exits only at its
	// next tick boundary, so allow one tick per node plus one spare.
	case <-time.After(3 * TickInterval):
		t.Fatalf("expected Shutdown to complete within %v", 3*TickInterval)
	}
}

func TestClusterManagerGetHealthyNodeRoundRobins(t *testing.T) {
	cm := newTestCluster(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer cm.Shutdown()

	seen := make(map[int]bool)
	for i := 0; i < 6; i++ {
		idx, ok := cm.GetHealthyNode()
		if !ok {
			t.Fatalf("expected a healthy node to be available")
		}
		seen[idx] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected round robin to visit more than one node across 6 calls, saw %v", seen)
	}
}

func TestClusterManagerExecuteOnNodeNoHealthyNodes(t *testing.T) {
	cm := newTestCluster(t, 2)
	err := cm.ExecuteOnNode(func(n *NodeInstance) error { return nil })
	if err == nil {
		t.Fatalf("expected error executing against a cluster with no started (healthy) nodes")
	}
}

func TestClusterManagerRestartNodeTogglesHealth(t *testing.T) {
	cm := newTestCluster(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer cm.Shutdown()

	if err := cm.RestartNode(0); err != nil {
		t.Fatalf("RestartNode: %v", err)
	}
	if cm.HealthyCount() != 2 {
		t.Fatalf("expected node to end up healthy again after RestartNode, got healthy count %d", cm.HealthyCount())
	}
}

func TestClusterManagerRestartNodeRejectsOutOfRange(t *testing.T) {
	cm := newTestCluster(t, 2)
	if err := cm.RestartNode(99); err == nil {
		t.Fatalf("expected error restarting an out-of-range node index")
	}
}
