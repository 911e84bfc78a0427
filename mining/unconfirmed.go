package mining

import (
	"sync"

	"github.com/arthurBricq/minimal-blockchain/logging"
)

// unconfirmedBlock is a small record of a locally-mined block that
// hasn't yet crossed the safe horizon.
type unconfirmedBlock struct {
	index uint64
	hash  string
}

// unconfirmedBlocks tracks locally-mined blocks until a later
// locally-mined block sits more than depth (chain.SafeHorizon) heights
// above them, at which point it logs an informational line. It does not
// consult the chain replica, and only Insert shifts it: blocks arriving
// from peers do not. It has no effect on consensus: it is grounded on
// berith-chain's miner/unconfirmed.go, which keeps an analogous
// oldest-first queue of not-yet-guaranteed blocks behind a RWMutex; this
// tracker uses SafeHorizon instead of a fixed confirmation depth.
type unconfirmedBlocks struct {
	depth uint64
	queue []unconfirmedBlock
	mu    sync.RWMutex
}

func newUnconfirmedBlocks(depth uint64) *unconfirmedBlocks {
	return &unconfirmedBlocks{depth: depth}
}

// Insert records a newly mined block and shifts out anything already
// past the safe horizon relative to its own height.
func (u *unconfirmedBlocks) Insert(index uint64, hash string) {
	u.Shift(index)

	u.mu.Lock()
	u.queue = append(u.queue, unconfirmedBlock{index: index, hash: hash})
	u.mu.Unlock()

	logging.Info("mined block pending confirmation", "index", index, "hash", hash)
}

// Shift drops every unconfirmed block whose depth below height now
// exceeds u.depth, logging each as having reached the safe horizon.
func (u *unconfirmedBlocks) Shift(height uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	i := 0
	for ; i < len(u.queue); i++ {
		next := u.queue[i]
		if height <= next.index || height-next.index <= u.depth {
			break
		}
		logging.Info("block reached the safe horizon", "index", next.index, "hash", next.hash)
	}
	u.queue = u.queue[i:]
}

// Len reports how many locally-mined blocks are still being tracked.
func (u *unconfirmedBlocks) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.queue)
}
