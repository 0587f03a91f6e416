package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testNodeConfig(t *testing.T, peerID string) NodeConfig {
	t.Helper()
	return NodeConfig{
		PeerID:          peerID,
		ListenAddr:      "/ip4/127.0.0.1/tcp/0",
		DiscoveryTag:    "fvc-test",
		EnergyThreshold: 0.5,
		FractalLevels:   2,
		MaxPeers:        8,
		SyncIntervalSec: 1,
		MinerAddress:    testAddr,
	}
}

func TestNodeInstanceLifecycle(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "node-0"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	n := NewNodeInstance(testNodeConfig(t, "node-under-test"), store)
	if n.State().Started() {
		t.Fatalf("expected a freshly allocated node to report not started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !n.State().Started() {
		t.Fatalf("expected node to report started after Start")
	}
	if n.Consensus().Energy("node-under-test") != 1.0 {
		t.Fatalf("expected Start to initialize consensus with this node as genesis validator")
	}

	if err := n.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n.State().Started() {
		t.Fatalf("expected node to report not started after Shutdown")
	}
}

func TestNodeInstanceAccessors(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	n := NewNodeInstance(testNodeConfig(t, "node-accessors"), store)
	if n.Store() != store {
		t.Fatalf("expected Store() to return the store passed to NewNodeInstance")
	}
	if n.Devices() == nil {
		t.Fatalf("expected a non-nil device registry")
	}
	if n.Consensus() == nil {
		t.Fatalf("expected a non-nil consensus core")
	}
	if n.Miner() == nil {
		t.Fatalf("expected a non-nil miner")
	}
}

func TestNodeInstanceShutdownStopsMinerPromptly(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	n := NewNodeInstance(testNodeConfig(t, "node-miner-stop"), store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- n.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	// The miner exits only at its next tick boundary, so Shutdown can take
	// up to one TickInterval; allow one spare tick on top.
	case <-time.After(2 * TickInterval):
		t.Fatalf("expected Shutdown to complete within %v", 2*TickInterval)
	}
}
