// Package txserver implements the transaction intake server: an
// independent chain replica fed by the same gossip stream every worker
// sees, a FIFO mempool workers poll at random, and an HTTP surface built
// on julienschmidt/httprouter with rs/cors, mirroring the way
// berith-chain's own node/rpc layer wraps a router in CORS middleware
// for its HTTP API.
package txserver

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/arthurBricq/minimal-blockchain/chain"
	"github.com/arthurBricq/minimal-blockchain/logging"
	"github.com/arthurBricq/minimal-blockchain/transaction"
)

// Server is an intake node: a FIFO mempool plus its own chain replica,
// exposed over a four-endpoint HTTP surface.
type Server struct {
	mu         sync.Mutex
	mempool    []transaction.Transaction
	chain      *chain.Chain
	rng        *rand.Rand
	difficulty uint

	addr       string
	httpServer *http.Server
}

// New builds a Server bound to addr (e.g. ":8000"), backed by its own
// independent chain replica. difficulty is the proof-of-work threshold
// the server enforces as the caller on every block it admits, whether it
// arrives over gossip or through submit_block.
func New(addr string, difficulty uint) *Server {
	return &Server{
		chain:      chain.New(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		difficulty: difficulty,
		addr:       addr,
	}
}

// Submit appends tx to the FIFO mempool.
func (s *Server) Submit(tx transaction.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mempool = append(s.mempool, tx)
}

// GetOne returns a uniformly random pending transaction without removing
// it, or false when the mempool is empty. Uniform random dispatch
// reduces, but does not eliminate, the chance that two uncoordinated
// workers race on the same transaction; duplicate detection at the mining
// loop's step 2 absorbs what remains.
func (s *Server) GetOne() (transaction.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.mempool) == 0 {
		return transaction.Transaction{}, false
	}
	i := s.rng.Intn(len(s.mempool))
	return s.mempool[i], true
}

// IngestBlock admits block into the server's own chain replica, resolves
// any newly-eligible forks, then retires every mempool entry that has
// crossed the safe horizon. The server is the caller here (whether block
// arrived over gossip or through submit_block), so it is responsible for
// filtering out invalid proof-of-work before the replica ever sees it:
// a block failing WellFormed is dropped silently and never reaches
// Append, matching how the mining loop's own gossip handler filters
// before admitting.
func (s *Server) IngestBlock(b *chain.Block) {
	if !b.WellFormed(s.difficulty) {
		logging.Debug("dropping block with invalid proof-of-work", "hash", b.Hash())
		return
	}
	s.chain.Append(b)
	s.chain.ResolveForks()
	s.retireSafelyWritten()
}

// NotifyBlock satisfies mining.Notifier, so a worker embedded in the same
// process can push its own mined blocks straight into this server's
// replica without round-tripping through HTTP or gossip.
func (s *Server) NotifyBlock(b *chain.Block) {
	s.IngestBlock(b)
}

func (s *Server) retireSafelyWritten() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.mempool[:0:0]
	for _, tx := range s.mempool {
		if s.chain.IsSafelyWritten(tx) {
			continue
		}
		kept = append(kept, tx)
	}
	s.mempool = kept
}

// Chain exposes the server's replica for diagnostics and tests.
func (s *Server) Chain() *chain.Chain {
	return s.chain
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	data, err := url.QueryUnescape(ps.ByName("data"))
	if err != nil {
		logging.Warn("malformed submit_transaction path segment", "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.Submit(transaction.New(data))
	w.Write([]byte("submitted"))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tx, ok := s.GetOne()
	if !ok {
		w.Write([]byte(""))
		return
	}
	encoded, err := transaction.Encode(tx)
	if err != nil {
		logging.Error("failed to encode transaction for response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Write([]byte(encoded))
}

func (s *Server) handleSubmitBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	data, err := url.QueryUnescape(ps.ByName("data"))
	if err != nil {
		logging.Warn("malformed submit_block path segment", "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	b, err := chain.Decode([]byte(data))
	if err != nil {
		logging.Warn("dropping malformed submitted block", "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	// IngestBlock enforces the difficulty threshold itself before
	// touching the replica.
	s.IngestBlock(b)
	w.WriteHeader(http.StatusOK)
}

// Router builds the httprouter.Router wrapping the three intake
// endpoints, with every unmatched path falling through to 404.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/submit_transaction/:data", s.handleSubmitTransaction)
	r.GET("/get_transaction", s.handleGetTransaction)
	r.GET("/submit_block/:data", s.handleSubmitBlock)
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return r
}

// ListenAndServe starts the HTTP server, wrapping the router in a
// permissive CORS handler (rs/cors), and blocks until ctx is cancelled or
// a fatal bind error occurs (binding failure is unrecoverable).
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler := cors.AllowAll().Handler(s.Router())
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("transaction server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
