// Package gossip implements an abstract publish/subscribe transport:
// fire-and-forget broadcast, content-hash message dedup, and automatic
// mDNS peer discovery. It is the Go
// realisation of original_source/p2p_network.rs's rust-libp2p swarm
// (gossipsub + mdns, topic "blockchain-net", the same two listen
// multiaddrs), using the go-libp2p / go-libp2p-pubsub / multiformats
// stack shown for the identical purpose by the Klingon-tech-klingnet and
// TalhaArjumand-ai-blockchain reference repos.
package gossip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"

	"github.com/arthurBricq/minimal-blockchain/logging"
)

// Topic is the single gossip topic every node publishes mined blocks to
// and subscribes to.
const Topic = "blockchain-net"

const mdnsServiceTag = "minimal-blockchain-mdns"

// dedupCacheSize bounds the application-level content-hash cache backing
// Subscribe, independent of go-libp2p-pubsub's own internal seen-message
// cache.
const dedupCacheSize = 4096

// Bus wires a libp2p host, gossipsub and mDNS discovery into the
// Publish/Subscribe contract the mining loop and the transaction server
// depend on.
type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc

	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	mdns  mdns.Service

	seen *lru.Cache
	out  chan []byte
}

// discoveryNotifee connects newly-found mDNS peers to the libp2p host,
// the Go equivalent of the rust swarm's `mdns::Event::Discovered` arm.
type discoveryNotifee struct {
	h host.Host
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	logging.Debug("mdns discovered peer", "peer", pi.ID.String())
	if err := n.h.Connect(context.Background(), pi); err != nil {
		logging.Warn("failed to connect to discovered peer", "peer", pi.ID.String(), "err", err)
	}
}

// New starts a libp2p host listening on the given TCP and QUIC
// multiaddrs, joins the blockchain-net gossipsub topic and begins mDNS
// peer discovery.
func New(ctx context.Context, listenTCP, listenQUIC string) (*Bus, error) {
	ctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenTCP, listenQUIC),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("starting libp2p host: %w", err)
	}

	// Content-address messages the same way original_source/p2p_network.rs's
	// `message_id_fn` does, so pubsub's own delivery-once guarantee is the
	// content-hash dedup at the transport layer.
	idFn := func(pmsg *pb.Message) string {
		sum := sha256.Sum256(pmsg.Data)
		return hex.EncodeToString(sum[:])
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithMessageIdFn(idFn))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("starting gossipsub: %w", err)
	}

	topic, err := ps.Join(Topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("joining topic %q: %w", Topic, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to topic %q: %w", Topic, err)
	}

	cache, err := lru.New(dedupCacheSize)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("allocating dedup cache: %w", err)
	}

	b := &Bus{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		ps:     ps,
		topic:  topic,
		sub:    sub,
		seen:   cache,
		out:    make(chan []byte, 64),
	}

	service := mdns.NewMdnsService(h, mdnsServiceTag, &discoveryNotifee{h: h})
	if err := service.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting mdns discovery: %w", err)
	}
	b.mdns = service

	go b.readLoop()

	logging.Info("gossip bus listening", "tcp", listenTCP, "quic", listenQUIC, "peer_id", h.ID().String())
	return b, nil
}

func (b *Bus) readLoop() {
	for {
		msg, err := b.sub.Next(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			logging.Warn("gossip subscription error", "err", err)
			continue
		}
		hash := contentHash(msg.Data)
		if b.seen.Contains(hash) {
			continue
		}
		b.seen.Add(hash, struct{}{})
		select {
		case b.out <- msg.Data:
		case <-b.ctx.Done():
			return
		}
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Publish fire-and-forgets data to every connected peer on the topic.
func (b *Bus) Publish(data []byte) error {
	hash := contentHash(data)
	b.seen.Add(hash, struct{}{})
	return b.topic.Publish(b.ctx, data)
}

// Subscribe returns the channel every inbound, not-yet-seen message is
// delivered on exactly once.
func (b *Bus) Subscribe() <-chan []byte {
	return b.out
}

// Close tears down the subscription, topic, gossipsub router and host.
func (b *Bus) Close() error {
	b.cancel()
	b.sub.Cancel()
	if err := b.topic.Close(); err != nil {
		logging.Warn("closing gossip topic", "err", err)
	}
	if err := b.mdns.Close(); err != nil {
		logging.Warn("closing mdns service", "err", err)
	}
	return b.host.Close()
}
