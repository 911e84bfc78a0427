package mining

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arthurBricq/minimal-blockchain/chain"
	"github.com/arthurBricq/minimal-blockchain/transaction"
)

// fakeTxSource serves a fixed set of transactions once each, then reports
// empty so the mining loop's backoff path is reachable in tests without
// hanging.
type fakeTxSource struct {
	mu   sync.Mutex
	txs  []transaction.Transaction
	next int
}

func (f *fakeTxSource) GetOne() (transaction.Transaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.txs) {
		return transaction.Transaction{}, false
	}
	tx := f.txs[f.next]
	f.next++
	return tx, true
}

// fakeBus is an in-memory Bus with no peers: publishing records the
// payload but delivers nothing back to Subscribe (mirroring a real
// gossipsub topic where the publisher never sees its own message).
type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
	inbound   chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{inbound: make(chan []byte, 8)}
}

func (b *fakeBus) Publish(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, data)
	return nil
}

func (b *fakeBus) Subscribe() <-chan []byte { return b.inbound }

type fakeNotifier struct {
	mu     sync.Mutex
	blocks []*chain.Block
}

func (n *fakeNotifier) NotifyBlock(b *chain.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks = append(n.blocks, b)
}

func TestWorkerMinesAndPublishes(t *testing.T) {
	c := chain.New()
	src := &fakeTxSource{txs: []transaction.Transaction{transaction.New("hello")}}
	bus := newFakeBus()
	notifier := &fakeNotifier{}

	w := NewWorker(c, src, bus, notifier, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.Len() == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	bus.mu.Lock()
	require.Len(t, bus.published, 1)
	bus.mu.Unlock()

	notifier.mu.Lock()
	require.Len(t, notifier.blocks, 1)
	notifier.mu.Unlock()
}

func TestWorkerSkipsDuplicateTransaction(t *testing.T) {
	c := chain.New()
	tx := transaction.New("already-mined")

	b1 := c.CandidateFor(tx)
	for nonce := uint64(0); ; nonce++ {
		b1.SetNonce(nonce)
		if b1.WellFormed(1) {
			break
		}
	}
	require.True(t, c.Append(b1))

	src := &fakeTxSource{txs: []transaction.Transaction{tx, transaction.New("fresh")}}
	bus := newFakeBus()

	w := NewWorker(c, src, bus, nil, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.Len() == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestHandleInboundCancelsOnGrowth(t *testing.T) {
	c := chain.New()
	bus := newFakeBus()
	w := NewWorker(c, &fakeTxSource{}, bus, nil, 1)

	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	w.setCurrentAttempt(func() { cancelled = true; cancel() })

	b1 := c.CandidateFor(transaction.New("peer-block"))
	for nonce := uint64(0); ; nonce++ {
		b1.SetNonce(nonce)
		if b1.WellFormed(1) {
			break
		}
	}
	payload, err := chain.Encode(b1)
	require.NoError(t, err)

	w.handleInbound(payload)
	require.True(t, cancelled)
}

func TestHandleInboundDropsInvalidProofOfWork(t *testing.T) {
	c := chain.New()
	bus := newFakeBus()
	w := NewWorker(c, &fakeTxSource{}, bus, nil, 64)

	b1 := c.CandidateFor(transaction.New("low-effort"))
	b1.SetNonce(0)

	payload, err := chain.Encode(b1)
	require.NoError(t, err)

	w.handleInbound(payload)
	require.Equal(t, 1, c.Len())
}

func mineAt(b *chain.Block, difficulty uint) *chain.Block {
	for nonce := uint64(0); ; nonce++ {
		b.SetNonce(nonce)
		if b.WellFormed(difficulty) {
			return b
		}
	}
}

// TestWorkerDiscardsStaleWinAgainstConcurrentGossip exercises the race
// mineLoop must resolve safely: a peer's block growing the main chain
// while this worker's own search is still running against the old tip.
// Whichever side wins the race, the replica afterwards must stay a
// single, consistent chain rather than two blocks fighting over the
// same height.
func TestWorkerDiscardsStaleWinAgainstConcurrentGossip(t *testing.T) {
	const difficulty = 5 // genesis's own difficulty; slow enough to leave a real window

	c := chain.New()
	src := &fakeTxSource{txs: []transaction.Transaction{transaction.New("race-me")}}
	bus := newFakeBus()

	w := NewWorker(c, src, bus, nil, difficulty)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	peerBlock := mineAt(c.CandidateFor(transaction.New("peer-wins")), difficulty)
	payload, err := chain.Encode(peerBlock)
	require.NoError(t, err)
	bus.inbound <- payload

	require.Eventually(t, func() bool {
		return c.Len() >= 2
	}, 8*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// The chain must be linear: strictly increasing height, and every
	// block's previous hash matches its predecessor's actual hash.
	length := c.Len()
	for i := 1; i < length; i++ {
		prev := c.BlockAt(uint64(i - 1))
		cur := c.BlockAt(uint64(i))
		require.Equal(t, prev.IndexInChain+1, cur.IndexInChain)
		require.NotNil(t, cur.PreviousHash)
		require.Equal(t, prev.Hash(), *cur.PreviousHash)
	}
}
