package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arthurBricq/minimal-blockchain/transaction"
)

func mined(t *testing.T, b *Block, difficulty uint) *Block {
	t.Helper()
	for nonce := uint64(0); ; nonce++ {
		b.SetNonce(nonce)
		if b.WellFormed(difficulty) {
			return b
		}
	}
}

// S1 — Linear growth.
func TestLinearGrowth(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))
	require.Equal(t, 2, c.Len())

	b2 := mined(t, c.CandidateFor(transaction.New("b")), 1)
	require.True(t, c.Append(b2))
	require.Equal(t, 3, c.Len())
}

// S2 — Fork shorter than main: the pending fork survives resolution
// because it never overtakes the main tip.
func TestForkShorterThanMain(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))

	b2 := mined(t, c.CandidateFor(transaction.New("b")), 1)
	require.True(t, c.Append(b2))
	require.Equal(t, 3, c.Len())

	sibling := NewBlock(transaction.New("b-sibling"), b1.Hash(), b1.IndexInChain+1)
	sibling = mined(t, sibling, 1)
	require.False(t, c.Append(sibling))
	require.Len(t, c.pendingForks, 1)

	c.ResolveForks()
	require.Equal(t, 3, c.Len())
	require.Len(t, c.pendingForks, 1)
}

// S3 — Fork overtakes main.
func TestForkOvertakesMain(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))

	b2 := mined(t, NewBlock(transaction.New("b"), b1.Hash(), b1.IndexInChain+1), 1)
	require.True(t, c.Append(b2))

	b2Prime := mined(t, NewBlock(transaction.New("b-prime"), b1.Hash(), b1.IndexInChain+1), 1)
	require.False(t, c.Append(b2Prime))

	b3Prime := mined(t, NewBlock(transaction.New("c-prime"), b2Prime.Hash(), b2Prime.IndexInChain+1), 1)
	require.False(t, c.Append(b3Prime))

	require.Equal(t, 3, c.Len())

	c.ResolveForks()
	require.Equal(t, 4, c.Len())
	require.Empty(t, c.pendingForks)
	require.Equal(t, b2Prime.Hash(), c.main[2].Hash())
	require.Equal(t, b3Prime.Hash(), c.main[3].Hash())
}

// S4 — Orphan then parent.
func TestOrphanThenParent(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))

	b2 := mined(t, NewBlock(transaction.New("b"), b1.Hash(), b1.IndexInChain+1), 1)
	b3 := mined(t, NewBlock(transaction.New("c"), b2.Hash(), b2.IndexInChain+1), 1)

	require.False(t, c.Append(b3))
	require.Len(t, c.orphans, 1)
	require.Equal(t, 2, c.Len())

	require.True(t, c.Append(b2))
	require.Equal(t, 4, c.Len())
	require.Empty(t, c.orphans)
}

// S5 — Horizon cleanup.
func TestHorizonCleanup(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))

	b2 := mined(t, c.CandidateFor(transaction.New("b")), 1)
	require.True(t, c.Append(b2))

	stale := mined(t, NewBlock(transaction.New("stale"), b1.Hash(), b1.IndexInChain+1), 1)
	require.False(t, c.Append(stale))
	require.Len(t, c.pendingForks, 1)

	prev := b2
	for i := 0; i < SafeHorizon+2; i++ {
		next := mined(t, NewBlock(transaction.New("x"), prev.Hash(), prev.IndexInChain+1), 1)
		require.True(t, c.Append(next))
		prev = next
	}

	c.ResolveForks()
	require.Empty(t, c.pendingForks)
}

// S6 — Stabilisation.
func TestStabilisation(t *testing.T) {
	c := New()
	target := transaction.New("T")

	b1 := mined(t, c.CandidateFor(target), 1)
	require.True(t, c.Append(b1))
	require.False(t, c.IsSafelyWritten(target))

	prev := b1
	for i := 0; i < SafeHorizon; i++ {
		next := mined(t, NewBlock(transaction.New("filler"), prev.Hash(), prev.IndexInChain+1), 1)
		require.True(t, c.Append(next))
		prev = next
		if i < SafeHorizon-1 {
			require.False(t, c.IsSafelyWritten(target))
		}
	}
	require.True(t, c.IsSafelyWritten(target))
}

func TestHashRoundTrip(t *testing.T) {
	c := New()
	b := mined(t, c.CandidateFor(transaction.New("roundtrip")), 1)
	encoded, err := Encode(b)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, b.Hash(), decoded.Hash())
}

func TestDuplicateBlockDeduped(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))

	dup := *b1
	require.False(t, c.Append(&dup))
	require.Empty(t, c.orphans)
	require.Empty(t, c.pendingForks)
}

func TestResolveForksIdempotent(t *testing.T) {
	c := New()
	b1 := mined(t, c.CandidateFor(transaction.New("a")), 1)
	require.True(t, c.Append(b1))

	c.ResolveForks()
	snapA := c.Snapshot()
	c.ResolveForks()
	snapB := c.Snapshot()
	require.Equal(t, snapA, snapB)
}
