package chain

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/arthurBricq/minimal-blockchain/logging"
	"github.com/arthurBricq/minimal-blockchain/transaction"
)

// SafeHorizon is the number of main-chain blocks past which a transaction
// is considered permanently written.
const SafeHorizon = 4

// Chain is a single node's replica of the ledger: the main chain, a set
// of pending forks keyed by the main-chain hash at which they branch, and
// an orphan pool for blocks whose parent hasn't arrived yet. All public
// methods acquire one mutex for their full duration: sections
// are short, so contention is acceptable, exactly as in berith-chain's
// miner.unconfirmedBlocks.
type Chain struct {
	mu sync.Mutex

	main         []*Block
	pendingForks map[string][]*Block
	orphans      []*Block

	// seen is the set of hashes admitted so far into main, a fork or the
	// orphan pool; hashes leave it only when their fork is dropped by
	// SafeHorizon cleanup (main blocks displaced by a fork swap stay in
	// it). A block whose hash is in seen is dropped at the head of Append
	// rather than re-placed.
	seen mapset.Set
}

// New creates a chain replica seeded with just the genesis block.
func New() *Chain {
	g := Genesis()
	c := &Chain{
		main:         []*Block{g},
		pendingForks: make(map[string][]*Block),
		seen:         mapset.NewSet(),
	}
	c.seen.Add(g.Hash())
	return c
}

// AppendTrusted unconditionally appends block to the main chain. Used by
// the mining loop for a block it has just produced: the caller already
// verified parent linkage against the head it mined against.
func (c *Chain) AppendTrusted(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.main = append(c.main, b)
	c.seen.Add(b.Hash())
}

// Append safely admits a block received from any source (gossip or
// HTTP). It returns true iff the main chain grew by exactly this block.
func (c *Chain) Append(b *Block) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(b)
}

func (c *Chain) appendLocked(b *Block) bool {
	hash := b.Hash()
	if c.seen.Contains(hash) {
		logging.Debug("dropping duplicate block", "hash", hash)
		return false
	}
	if b.PreviousHash == nil {
		// Only genesis has no previous hash, and genesis is never
		// received from the network; steer it to orphans rather than
		// special-casing it away.
		c.orphans = append(c.orphans, b)
		c.seen.Add(hash)
		return false
	}

	grew := false
	switch {
	case *b.PreviousHash == c.tip().Hash():
		c.main = append(c.main, b)
		grew = true
	case c.appendToForkTip(b):
		// handled inside appendToForkTip
	case c.rootsNewFork(b):
		// handled inside rootsNewFork
	default:
		c.orphans = append(c.orphans, b)
	}
	c.seen.Add(hash)

	c.spliceOrphans()
	return grew
}

func (c *Chain) tip() *Block {
	return c.main[len(c.main)-1]
}

// appendToForkTip tries to extend an existing pending fork whose tip
// matches b's previous hash.
func (c *Chain) appendToForkTip(b *Block) bool {
	for root, seq := range c.pendingForks {
		if seq[len(seq)-1].Hash() == *b.PreviousHash {
			c.pendingForks[root] = append(seq, b)
			return true
		}
	}
	return false
}

// rootsNewFork starts a new fork when b's previous hash matches some
// non-tip block already in main.
func (c *Chain) rootsNewFork(b *Block) bool {
	for i := 0; i < len(c.main)-1; i++ {
		if c.main[i].Hash() == *b.PreviousHash {
			if _, exists := c.pendingForks[*b.PreviousHash]; exists {
				// A fork is already rooted here; the data model (one
				// sequence per root hash) can't hold a second, competing
				// branch from the same root. Leave the existing fork
				// intact and let this block fall through to orphans
				// rather than destroy already-admitted work.
				return false
			}
			c.pendingForks[*b.PreviousHash] = []*Block{b}
			return true
		}
	}
	return false
}

// spliceOrphans performs at least one-level orphan resolution: any orphan
// whose previous hash now matches a reachable tip (main or a fork) is
// spliced in. It loops to a fixed point so multi-level orphan chains
// resolve in a single admission cycle, satisfying scenario S4.
func (c *Chain) spliceOrphans() {
	for {
		spliced := false
		remaining := c.orphans[:0:0]
		for _, o := range c.orphans {
			switch {
			case o.PreviousHash != nil && *o.PreviousHash == c.tip().Hash():
				c.main = append(c.main, o)
				spliced = true
			case o.PreviousHash != nil && c.appendToForkTip(o):
				spliced = true
			case o.PreviousHash != nil && c.rootsNewFork(o):
				spliced = true
			default:
				remaining = append(remaining, o)
			}
		}
		c.orphans = remaining
		if !spliced {
			return
		}
	}
}

// ResolveForks promotes the longest pending fork if it strictly exceeds
// the main tip's height, then garbage-collects forks that have fallen
// more than SafeHorizon blocks behind. Ties between equally long forks
// break on the lexicographically smallest root hash (Open Question 4).
func (c *Chain) ResolveForks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveForksLocked()
}

func (c *Chain) resolveForksLocked() {
	h := c.tip().IndexInChain

	best, ok := c.bestFork()
	if ok {
		seq := c.pendingForks[best]
		tipHeight := seq[len(seq)-1].IndexInChain
		if tipHeight > h {
			if root := c.positionOf(best); root >= 0 {
				c.main = c.main[:root+1]
				c.main = append(c.main, seq...)
				delete(c.pendingForks, best)
			}
		}
	}

	newHeight := c.tip().IndexInChain
	for root, seq := range c.pendingForks {
		tipHeight := seq[len(seq)-1].IndexInChain
		if newHeight > uint64(SafeHorizon) && tipHeight+SafeHorizon < newHeight {
			for _, b := range seq {
				c.seen.Remove(b.Hash())
			}
			delete(c.pendingForks, root)
		}
	}
}

// bestFork returns the root hash of the pending fork with the tallest
// tip, deterministically breaking ties on the smallest root hash.
func (c *Chain) bestFork() (string, bool) {
	if len(c.pendingForks) == 0 {
		return "", false
	}
	roots := make([]string, 0, len(c.pendingForks))
	for root := range c.pendingForks {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	best := roots[0]
	bestHeight := c.pendingForks[best][len(c.pendingForks[best])-1].IndexInChain
	for _, root := range roots[1:] {
		height := c.pendingForks[root][len(c.pendingForks[root])-1].IndexInChain
		if height > bestHeight {
			best = root
			bestHeight = height
		}
	}
	return best, true
}

func (c *Chain) positionOf(hash string) int {
	for i, b := range c.main {
		if b.Hash() == hash {
			return i
		}
	}
	return -1
}

// CandidateFor constructs a new, unmined block with parent = the current
// main tip. It does not mutate the chain.
func (c *Chain) CandidateFor(tx transaction.Transaction) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	tip := c.tip()
	return NewBlock(tx, tip.Hash(), tip.IndexInChain+1)
}

// HasTransaction reports whether any block in the main chain carries tx.
func (c *Chain) HasTransaction(tx transaction.Transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.main {
		if b.Transaction.Equal(tx) {
			return true
		}
	}
	return false
}

// IsSafelyWritten reports whether tx appears in the main chain at a
// depth greater than SafeHorizon blocks from the tip.
func (c *Chain) IsSafelyWritten(tx transaction.Transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.main) <= SafeHorizon {
		return false
	}
	for _, b := range c.main[:len(c.main)-SafeHorizon] {
		if b.Transaction.Equal(tx) {
			return true
		}
	}
	return false
}

// Height returns the index of the current main-chain tip.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip().IndexInChain
}

// Len returns the number of blocks on the main chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.main)
}

// BlockAt returns the main-chain block at the given height, or nil if
// out of range. Named and shaped after miner/unconfirmed.go's
// chainRetriever.
func (c *Chain) BlockAt(height uint64) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint64(len(c.main)) {
		return nil
	}
	return c.main[height]
}

// Snapshot is a diagnostic, read-only copy of the replica's state.
type Snapshot struct {
	MainLength  int
	TipHash     string
	ForkCount   int
	OrphanCount int
}

// Snapshot returns a point-in-time diagnostic view; it never mutates state.
func (c *Chain) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		MainLength:  len(c.main),
		TipHash:     c.tip().Hash(),
		ForkCount:   len(c.pendingForks),
		OrphanCount: len(c.orphans),
	}
}

// Print logs a diagnostic dump of the chain, mirroring
// original_source/blockchain.rs's print_chain.
func (c *Chain) Print() {
	snap := c.Snapshot()
	logging.Info("chain snapshot", "length", snap.MainLength, "tip", snap.TipHash,
		"forks", snap.ForkCount, "orphans", snap.OrphanCount)
}
