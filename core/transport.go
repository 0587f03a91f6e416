package core

// transport.go implements the P2P transport: gossip pub/sub with a bounded
// dedup window and message size cap, and peer discovery via mDNS/bootstrap
// dialing. It has no request/response channel.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// MaxGossipMessageBytes is the wire size cap for a single gossip message.
const MaxGossipMessageBytes = 1 << 20 // 1 MiB

// GossipDedupWindow is how long a message digest is remembered to drop
// duplicate re-broadcasts.
const GossipDedupWindow = 5 * time.Minute

// NodeID identifies a peer on the network by its libp2p peer id string.
type NodeID string

// Peer is a remote node this node has connected to.
type Peer struct {
	ID   NodeID
	Addr string
}

// Message is a decoded inbound gossip message.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// NetworkMessage pairs a gossip topic with a raw payload.
type NetworkMessage struct {
	Topic   string
	Content []byte
}

// TransportConfig configures a Node's listen address, discovery tag and
// bootstrap peer list.
type TransportConfig struct {
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
	MaxPeers       int
}

// Node is a single P2P transport endpoint: a libp2p host plus gossipsub.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	cfg    TransportConfig

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic

	subLock sync.Mutex
	subs    map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[NodeID]*Peer

	ctx    context.Context
	cancel context.CancelFunc

	dedupMu sync.Mutex
	seen    map[string]time.Time
}

// NewNode creates and bootstraps a transport node: a libp2p host, a
// gossipsub router, mDNS discovery, and best-effort bootstrap dialing.
func NewNode(cfg TransportConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create host: %v", ErrNode, err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("%w: create pubsub: %v", ErrNode, err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		seen:   make(map[string]time.Time),
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.WithError(err).Warn("transport: bootstrap dial had failures")
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a newly discovered
// peer, ignoring ourselves and peers we already know.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}

	n.peerLock.RLock()
	_, exists := n.peers[NodeID(info.ID.String())]
	n.peerLock.RUnlock()
	if exists {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.WithError(err).WithField("peer", info.ID.String()).Warn("transport: mdns connect failed")
		return
	}

	n.peerLock.Lock()
	n.peers[NodeID(info.ID.String())] = &Peer{ID: NodeID(info.ID.String()), Addr: info.String()}
	n.peerLock.Unlock()
	logrus.WithField("peer", info.ID.String()).Info("transport: connected via mdns")
}

// DialSeed connects to each bootstrap address, collecting but not failing
// fast on individual dial errors.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: addr}
		n.peerLock.Unlock()
		logrus.WithField("addr", addr).Info("transport: bootstrapped")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: dial errors: %s", ErrNode, strings.Join(errs, "; "))
	}
	return nil
}

// dedup reports whether digest was seen within the last GossipDedupWindow,
// recording it if not.
func (n *Node) dedup(digest string) bool {
	now := time.Now()
	n.dedupMu.Lock()
	defer n.dedupMu.Unlock()
	for k, t := range n.seen {
		if now.Sub(t) > GossipDedupWindow {
			delete(n.seen, k)
		}
	}
	if _, ok := n.seen[digest]; ok {
		return true
	}
	n.seen[digest] = now
	return false
}

// Broadcast publishes data on topic, rejecting oversized payloads over the
// 1 MiB cap.
func (n *Node) Broadcast(topic string, data []byte) error {
	if len(data) > MaxGossipMessageBytes {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrValidation, MaxGossipMessageBytes)
	}

	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("%w: join topic %s: %v", ErrNode, topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()

	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("%w: publish topic %s: %v", ErrNode, topic, err)
	}
	return nil
}

// Subscribe listens for messages on topic, dropping duplicates seen within
// the dedup window.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("%w: subscribe topic %s: %v", ErrNode, topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				logrus.WithError(err).Debug("transport: subscription closed")
				return
			}
			digest := fmt.Sprintf("%s:%x", topic, msg.Data)
			if n.dedup(digest) {
				continue
			}
			out <- Message{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// ListenAndServe blocks until the node's context is cancelled.
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("transport: shutting down")
}

// Close tears the node down.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Peers returns a snapshot of the current peer list.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}
