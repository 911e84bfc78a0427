// Package transaction implements the opaque, self-describing transaction
// payload carried by every block. It deliberately does not interpret the
// payload: no amounts, no signatures, no sender/receiver. The
// asymmetric-key wallet sketch found in original_source/client.rs and
// original_source/transaction.rs is a Non-goal and is not ported here.
package transaction

import "encoding/json"

// Transaction is an opaque byte-string payload, comparable by value.
type Transaction struct {
	message string
}

// New builds a Transaction from a UTF-8 message. Submitted transactions on
// the wire are always valid UTF-8 (they arrive URL-decoded from
// /submit_transaction/{data}), so no byte-level constructor is exposed.
func New(message string) Transaction {
	return Transaction{message: message}
}

// Empty is the payload carried by the genesis block.
var Empty = Transaction{}

// Message returns the transaction's textual payload.
func (t Transaction) Message() string {
	return t.message
}

// Bytes returns the raw serialisation used as input to a block's hash
// (a block's hash input starts with bytes(block.transaction.message)).
func (t Transaction) Bytes() []byte {
	return []byte(t.message)
}

// Equal reports whether two transactions carry the same payload.
func (t Transaction) Equal(other Transaction) bool {
	return t.message == other.message
}

type wireTransaction struct {
	Message string `json:"message"`
}

// MarshalJSON renders the self-describing wire form served by
// GET /get_transaction. A block's wire form does not embed it: it carries
// the message string directly as its transaction.message field.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTransaction{Message: t.message})
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.message = w.Message
	return nil
}

// Encode serialises a transaction to its wire text form.
func Encode(t Transaction) (string, error) {
	b, err := t.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a transaction from its wire text form.
func Decode(data string) (Transaction, error) {
	var t Transaction
	err := t.UnmarshalJSON([]byte(data))
	return t, err
}
