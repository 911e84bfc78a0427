// Package mining implements the per-worker control loop: fetch a pending
// transaction, build a candidate on the current chain head, search for a
// nonce satisfying the difficulty predicate, and cooperatively cancel
// when a peer wins the race. It is grounded on original_source/mining.rs
// and original_source/main_worker.rs's async mining loop, restructured
// the way miner/worker.go structures Ethereum's own sealing loop around a
// small set of goroutines and channels.
package mining

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/arthurBricq/minimal-blockchain/chain"
	"github.com/arthurBricq/minimal-blockchain/logging"
	"github.com/arthurBricq/minimal-blockchain/transaction"
)

// TxSource supplies pending transactions to mine. txclient.Client
// implements this by polling the transaction server over HTTP.
type TxSource interface {
	GetOne() (transaction.Transaction, bool)
}

// Bus is the subset of gossip.Bus the mining loop depends on.
type Bus interface {
	Publish(data []byte) error
	Subscribe() <-chan []byte
}

// Notifier receives every block this worker mines locally, so the intake
// server can retire stabilised transactions even where it isn't itself a
// gossip subscriber.
type Notifier interface {
	NotifyBlock(b *chain.Block)
}

const (
	// emptyMempoolSleepMin/Max bound the jittered backoff before
	// re-polling an empty mempool: a short jittered sleep in the 1-5s
	// range, as in original_source/main_worker.rs, avoids both
	// busy-polling and a long fixed stall.
	emptyMempoolSleepMin = 1 * time.Second
	emptyMempoolSleepMax = 5 * time.Second
)

// Worker is a single node's mining control loop.
type Worker struct {
	chain      *chain.Chain
	txSource   TxSource
	bus        Bus
	notifier   Notifier
	difficulty uint
	rng        *rand.Rand

	unconfirmed *unconfirmedBlocks

	cancelMu sync.Mutex
	cancelFn context.CancelFunc
}

// NewWorker builds a mining loop for the given chain replica, pulling
// transactions from txSource, publishing to and listening on bus, and
// (optionally, may be nil) notifying notifier of locally mined blocks.
func NewWorker(c *chain.Chain, txSource TxSource, bus Bus, notifier Notifier, difficulty uint) *Worker {
	return &Worker{
		chain:       c,
		txSource:    txSource,
		bus:         bus,
		notifier:    notifier,
		difficulty:  difficulty,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		unconfirmed: newUnconfirmedBlocks(chain.SafeHorizon),
	}
}

// Run blocks until ctx is cancelled, running the gossip listener and the
// mining loop concurrently.
func (w *Worker) Run(ctx context.Context) {
	go w.listenGossip(ctx)
	w.mineLoop(ctx)
}

func (w *Worker) listenGossip(ctx context.Context) {
	inbound := w.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-inbound:
			if !ok {
				return
			}
			w.handleInbound(data)
		}
	}
}

// handleInbound parses an inbound gossip block and triggers cancellation:
// drop on invalid proof-of-work without ever reaching the replica, admit
// via Append, and cancel the in-flight mining attempt only if the main
// chain actually grew.
func (w *Worker) handleInbound(data []byte) {
	b, err := chain.Decode(data)
	if err != nil {
		logging.Warn("dropping malformed gossip block", "err", err)
		return
	}
	if !b.WellFormed(w.difficulty) {
		logging.Debug("dropping block with invalid proof-of-work", "hash", b.Hash())
		return
	}
	if w.chain.Append(b) {
		logging.Info("main chain grew from gossip, cancelling in-flight attempt", "hash", b.Hash(), "index", b.IndexInChain)
		w.cancelCurrentAttempt()
	}
}

func (w *Worker) cancelCurrentAttempt() {
	w.cancelMu.Lock()
	defer w.cancelMu.Unlock()
	if w.cancelFn != nil {
		w.cancelFn()
	}
}

func (w *Worker) setCurrentAttempt(cancel context.CancelFunc) {
	w.cancelMu.Lock()
	defer w.cancelMu.Unlock()
	w.cancelFn = cancel
}

func (w *Worker) mineLoop(ctx context.Context) {
	for ctx.Err() == nil {
		tx, ok := w.txSource.GetOne()
		if !ok {
			w.sleepJittered(ctx)
			continue
		}
		if w.chain.HasTransaction(tx) {
			continue
		}

		candidate := w.chain.CandidateFor(tx)

		attemptCtx, cancel := context.WithCancel(ctx)
		w.setCurrentAttempt(cancel)

		hash, ok := search(attemptCtx, candidate, w.difficulty)
		// A peer's block may have advanced the chain (and triggered
		// cancelCurrentAttempt) in the window between search's last
		// cancellation check and its winning probe. Re-checking the
		// context here, before calling cancel ourselves, catches that
		// race: a won search against an already-cancelled attemptCtx is
		// stale and must be discarded exactly like an outright loss.
		won := ok && attemptCtx.Err() == nil
		cancel()
		w.setCurrentAttempt(nil)

		if !won {
			// Cancelled (outright or won-too-late): discard the candidate,
			// publish nothing, append nothing, and restart from the top —
			// a cancelled attempt leaves no partial-work surface behind.
			continue
		}

		w.onMined(candidate, hash)
	}
}

func (w *Worker) onMined(candidate *chain.Block, hash string) {
	w.chain.AppendTrusted(candidate)
	w.chain.ResolveForks()
	w.unconfirmed.Insert(candidate.IndexInChain, hash)

	payload, err := chain.Encode(candidate)
	if err != nil {
		logging.Error("failed to encode mined block", "err", err)
		return
	}
	if err := w.bus.Publish(payload); err != nil {
		logging.Warn("failed to publish mined block", "err", err)
	}
	if w.notifier != nil {
		w.notifier.NotifyBlock(candidate)
	}
	logging.Info("mined block", "index", candidate.IndexInChain, "hash", hash)
}

// search iterates the nonce from zero, checking the cancellation signal
// once per probe, returning the winning hash or false if cancelled first.
func search(ctx context.Context, b *chain.Block, difficulty uint) (string, bool) {
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-ctx.Done():
			return "", false
		default:
		}
		b.SetNonce(nonce)
		if b.WellFormed(difficulty) {
			return b.Hash(), true
		}
	}
}

func (w *Worker) sleepJittered(ctx context.Context) {
	span := emptyMempoolSleepMax - emptyMempoolSleepMin
	d := emptyMempoolSleepMin + time.Duration(w.rng.Int63n(int64(span)+1))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
