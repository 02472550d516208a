package custody

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRPCClientLockPostsHold(t *testing.T) {
	var got Hold
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/escrows", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL+"/", time.Second)
	err := c.Lock(context.Background(), Hold{
		EscrowID: "e-1",
		OrderID:  "o-1",
		SellerID: "seller",
		BuyerID:  "buyer",
		Amount:   decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Equal(t, "e-1", got.EscrowID)
	require.True(t, got.Amount.Equal(decimal.NewFromInt(50)))
}

func TestRPCClientSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/escrows/e-1/refund", r.URL.Path)
		http.Error(w, "escrow frozen", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewRPCClient(srv.URL, time.Second).Refund(context.Background(), "e-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")
	require.Contains(t, err.Error(), "escrow frozen")
}

func TestMultiClientFailsOver(t *testing.T) {
	var downHits, upHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	m, err := NewMultiClient([]string{down.URL, " " + down.URL + "/ ", up.URL}, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, m.clients, 2, "duplicate endpoints collapse")

	require.NoError(t, m.Release(context.Background(), "e-1"))
	require.Equal(t, int32(1), downHits.Load())
	require.Equal(t, int32(1), upHits.Load())
	require.Equal(t, up.URL, m.BaseURL())

	require.NoError(t, m.Release(context.Background(), "e-2"))
	require.Equal(t, int32(1), downHits.Load(), "healthy endpoint stays current")
}

func TestMultiClientAllDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	m, err := NewMultiClient([]string{down.URL}, 3, time.Second)
	require.NoError(t, err)
	require.Error(t, m.Lock(context.Background(), Hold{EscrowID: "e-1"}))

	_, err = NewMultiClient([]string{" ", ""}, 3, time.Second)
	require.Error(t, err)
}
