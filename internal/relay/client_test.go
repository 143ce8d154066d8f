package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

type fakeState struct {
	block    uint64
	included map[common.Hash]bool
	nonce    uint64
}

func (f *fakeState) CurrentBlock(context.Context) (uint64, error) { return f.block, nil }
func (f *fakeState) TxIncluded(_ context.Context, h common.Hash) (bool, error) {
	return f.included[h], nil
}
func (f *fakeState) AccountNonce(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func testBundle() *SignedBundle {
	return &SignedBundle{
		Txs:         [][]byte{{0x02, 0xf8, 0x01}},
		TxHash:      common.HexToHash("0xdead"),
		Signer:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SignerNonce: 5,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, state ChainState) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c := NewClient(srv.URL, key, state, time.Second)
	c.pollInterval = time.Millisecond
	return c
}

func TestSubmitSignsRequest(t *testing.T) {
	var gotMethod, gotSig string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Flashbots-Signature")
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotMethod = req.Method
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{}`)})
	}, &fakeState{})

	require.NoError(t, client.Submit(context.Background(), testBundle(), 100))
	require.Equal(t, "eth_sendBundle", gotMethod)
	require.True(t, strings.HasPrefix(gotSig, client.authAddr.Hex()+":0x"))
}

func TestSubmitNonceTooHigh(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{Code: -32000, Message: "nonce too high"}})
	}, &fakeState{})

	err := client.Submit(context.Background(), testBundle(), 100)
	require.ErrorIs(t, err, domain.ErrNonceTooHigh)
}

func TestSimulateRevertIsError(t *testing.T) {
	result := `{"results":[{"txHash":"0xdead","error":"execution reverted","revert":"InsufficientBalance"}]}`
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(result)})
	}, &fakeState{})

	err := client.Simulate(context.Background(), testBundle(), 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "execution reverted")
}

func TestSimulateCleanPass(t *testing.T) {
	result := `{"results":[{"txHash":"0xdead"}]}`
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(result)})
	}, &fakeState{})

	require.NoError(t, client.Simulate(context.Background(), testBundle(), 100))
}

func TestWaitForResolution(t *testing.T) {
	bundle := testBundle()

	tests := []struct {
		name  string
		state *fakeState
		want  Resolution
	}{
		{
			name:  "included",
			state: &fakeState{block: 100, included: map[common.Hash]bool{bundle.TxHash: true}, nonce: 6},
			want:  ResolutionIncluded,
		},
		{
			name:  "block passed",
			state: &fakeState{block: 100, nonce: 5},
			want:  ResolutionBlockPassed,
		},
		{
			name:  "nonce consumed elsewhere",
			state: &fakeState{block: 100, nonce: 6},
			want:  ResolutionNonceTooHigh,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{}`)})
			}, tc.state)

			got, err := client.WaitForResolution(context.Background(), bundle, 100)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestWaitForResolutionHonorsContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{}`)})
	}, &fakeState{block: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.WaitForResolution(ctx, testBundle(), 100)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
