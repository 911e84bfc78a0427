package txclient

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arthurBricq/minimal-blockchain/transaction"
	"github.com/arthurBricq/minimal-blockchain/txserver"
)

func TestClientGetOneAgainstLiveServer(t *testing.T) {
	s := txserver.New(":0", 1)
	httpSrv := httptest.NewServer(s.Router())
	defer httpSrv.Close()

	c := New(httpSrv.URL)

	_, ok := c.GetOne()
	require.False(t, ok)

	require.NoError(t, c.SubmitTransaction("hello from the client"))

	tx, ok := c.GetOne()
	require.True(t, ok)
	require.Equal(t, "hello from the client", tx.Message())
}

func TestClientNotifyBlockAgainstLiveServer(t *testing.T) {
	s := txserver.New(":0", 1)
	httpSrv := httptest.NewServer(s.Router())
	defer httpSrv.Close()

	c := New(httpSrv.URL)

	b := s.Chain().CandidateFor(transaction.New("pushed-by-client"))
	for nonce := uint64(0); ; nonce++ {
		b.SetNonce(nonce)
		if b.WellFormed(1) {
			break
		}
	}

	c.NotifyBlock(b)
	require.Equal(t, 2, s.Chain().Len())
}
