// Package chain implements the per-node chain replica: block admission
// into the main chain, pending forks or the orphan pool, longest-chain
// fork resolution with a bounded safety horizon, and the read-side queries
// the mining loop and the transaction server need. It is grounded on
// original_source/block.rs and original_source/blockchain.rs, restructured
// the way miner/worker.go and miner/unconfirmed.go structure their own
// state behind a single mutex.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/arthurBricq/minimal-blockchain/transaction"
)

// genesisNonce was mined offline to satisfy a difficulty of 5 leading
// zeros; every node must construct the identical genesis block, so the
// nonce is a fixed constant rather than searched for at startup.
const genesisNonce uint64 = 1293653

// Block is one link of the chain: a single transaction, an optional
// parent-hash digest (absent only for genesis), a nonce that is mutable
// while a miner searches for it and fixed afterwards, and its height.
type Block struct {
	Transaction  transaction.Transaction
	PreviousHash *string
	Nonce        uint64
	IndexInChain uint64

	// cachedTxBytes memoises the transaction's byte serialisation so that
	// repeated hash attempts during mining don't re-derive it on every
	// nonce probe. This mirrors the `transaction_bytes` cache on
	// original_source/block.rs's Block; it is never serialised.
	cachedTxBytes []byte
}

// Genesis constructs the fixed, identical-on-every-node first block.
func Genesis() *Block {
	return &Block{
		Transaction:  transaction.Empty,
		PreviousHash: nil,
		Nonce:        genesisNonce,
		IndexInChain: 0,
	}
}

// NewBlock builds a block carrying tx, linked to parent, ready for mining
// (nonce starts at zero and is expected to be searched by the caller).
func NewBlock(tx transaction.Transaction, previousHash string, index uint64) *Block {
	ph := previousHash
	return &Block{
		Transaction:  tx,
		PreviousHash: &ph,
		Nonce:        0,
		IndexInChain: index,
	}
}

// SetNonce updates the candidate nonce during mining.
func (b *Block) SetNonce(n uint64) {
	b.Nonce = n
}

func (b *Block) txBytes() []byte {
	if b.cachedTxBytes == nil {
		b.cachedTxBytes = b.Transaction.Bytes()
	}
	return b.cachedTxBytes
}

// Bytes returns the exact byte concatenation hashed to produce this
// block's identity. Order is part of the external, interoperability
// critical contract: transaction bytes, little-endian nonce,
// then the previous hash's UTF-8 bytes when present.
func (b *Block) Bytes() []byte {
	out := make([]byte, 0, len(b.txBytes())+8+lenPrevHash(b))
	out = append(out, b.txBytes()...)
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], b.Nonce)
	out = append(out, nonceBytes[:]...)
	if b.PreviousHash != nil {
		out = append(out, []byte(*b.PreviousHash)...)
	}
	return out
}

func lenPrevHash(b *Block) int {
	if b.PreviousHash == nil {
		return 0
	}
	return len(*b.PreviousHash)
}

// Hash is the hex-encoded SHA-256 of Bytes(). crypto/sha256 from the
// standard library is used deliberately: the wire contract fixes SHA-256
// as the hash primitive, so there is no third-party substitute to reach
// for here (see DESIGN.md).
func (b *Block) Hash() string {
	sum := sha256.Sum256(b.Bytes())
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether the block's hash satisfies the given
// difficulty (at least `difficulty` leading hex '0' characters).
func (b *Block) WellFormed(difficulty uint) bool {
	return leadingZeros(b.Hash()) >= difficulty
}

func leadingZeros(hash string) uint {
	return uint(len(hash) - len(strings.TrimLeft(hash, "0")))
}

type wireBlock struct {
	Message      string  `json:"transaction.message"`
	PreviousHash *string `json:"previous_hash,omitempty"`
	Nonce        uint64  `json:"nonce"`
	IndexInChain uint64  `json:"index_in_chain"`
}

// MarshalJSON renders the self-describing wire/storage form used for both
// the HTTP submit_block payload and the gossiped block bytes. The
// `immutable_bytes`/cachedTxBytes cache is implementation-internal and is
// never part of this form.
func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBlock{
		Message:      b.Transaction.Message(),
		PreviousHash: b.PreviousHash,
		Nonce:        b.Nonce,
		IndexInChain: b.IndexInChain,
	})
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Transaction = transaction.New(w.Message)
	b.PreviousHash = w.PreviousHash
	b.Nonce = w.Nonce
	b.IndexInChain = w.IndexInChain
	b.cachedTxBytes = nil
	return nil
}

// Encode serialises a block to its wire text form.
func Encode(b *Block) ([]byte, error) {
	return b.MarshalJSON()
}

// Decode parses a block from its wire text form (HTTP submit_block path
// data, or a gossiped message payload).
func Decode(data []byte) (*Block, error) {
	b := &Block{}
	if err := b.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return b, nil
}
