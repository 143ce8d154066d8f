package signing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftsniper/internal/domain"
)

func TestSignReturnsSignedTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sign", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, OpFulfillListing, req.Operation)

		json.NewEncoder(w).Encode(apiSignResponse{
			SignedTx: "0x02f871",
			TxHash:   "0xabc",
			Nonce:    9,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second)
	tx, err := client.Sign(context.Background(), Request{Operation: OpFulfillListing, Nonce: 9})
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 0xf8, 0x71}, tx.Raw)
	require.Equal(t, uint64(9), tx.Nonce)
}

func TestSignDenied(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http forbidden",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		},
		{
			name: "denied flag",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(apiSignResponse{Denied: true, Reason: "withdrawal target not owner"})
			},
		},
		{
			name: "empty signature",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(apiSignResponse{})
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := NewClient(srv.URL, "", time.Second)
			_, err := client.Sign(context.Background(), Request{Operation: OpWithdrawNative})
			require.ErrorIs(t, err, domain.ErrSigningDenied)
		})
	}
}

func TestSignServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Sign(context.Background(), Request{Operation: OpFulfillListing})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrSigningDenied)
}
