// Package txclient implements a worker's HTTP connection to the
// transaction intake server: polling for a pending transaction to mine
// and pushing newly mined blocks back. It is grounded on
// original_source/main_worker.rs's async_req helper, which bounds every
// request to a 180s timeout; this client carries the same bound over
// net/http.
package txclient

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arthurBricq/minimal-blockchain/chain"
	"github.com/arthurBricq/minimal-blockchain/logging"
	"github.com/arthurBricq/minimal-blockchain/transaction"
)

// requestTimeout matches original_source/main_worker.rs's async_req: every
// HTTP round-trip to the intake server is bounded to 180 seconds.
const requestTimeout = 180 * time.Second

// Client polls a transaction server over HTTP and pushes mined blocks
// back to it. It implements mining.TxSource.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against a server's base URL, e.g.
// "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// GetOne implements mining.TxSource by calling GET /get_transaction. An
// empty response body means the mempool is empty.
func (c *Client) GetOne() (transaction.Transaction, bool) {
	resp, err := c.http.Get(c.baseURL + "/get_transaction")
	if err != nil {
		// Transport failures are logged and absorbed: the mining loop is
		// self-driving and will retry on its next tick.
		logging.Warn("polling transaction server failed", "err", err)
		return transaction.Transaction{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) == 0 {
		return transaction.Transaction{}, false
	}

	tx, err := transaction.Decode(string(body))
	if err != nil {
		return transaction.Transaction{}, false
	}
	return tx, true
}

// NotifyBlock implements mining.Notifier by POSTing (as a GET, matching
// the intake server's inline-path convention) the block's encoded form to
// /submit_block/{data}. Transport failures are logged and absorbed; the
// gossip bus remains the primary propagation path.
func (c *Client) NotifyBlock(b *chain.Block) {
	encoded, err := chain.Encode(b)
	if err != nil {
		return
	}
	path := c.baseURL + "/submit_block/" + url.QueryEscape(string(encoded))
	resp, err := c.http.Get(path)
	if err != nil {
		logging.Warn("notifying transaction server of mined block failed", "err", err)
		return
	}
	resp.Body.Close()
}

// SubmitTransaction pushes a new transaction to the server via
// GET /submit_transaction/{data}, for use by a standalone transaction
// submission tool rather than the mining loop itself.
func (c *Client) SubmitTransaction(message string) error {
	path := c.baseURL + "/submit_transaction/" + url.QueryEscape(message)
	resp, err := c.http.Get(path)
	if err != nil {
		return fmt.Errorf("submitting transaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit_transaction: unexpected status %d", resp.StatusCode)
	}
	return nil
}
