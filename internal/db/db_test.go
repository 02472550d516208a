package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"P2PEscrow/internal/store"
)

func TestOpenSQLite(t *testing.T) {
	h, err := Open(context.Background(), "sqlite", "file:db_open_test?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })

	require.Equal(t, "sqlite", h.Driver)
	_, err = h.Store.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mysql")
}

func TestNilHandleClose(t *testing.T) {
	var h *Handle
	require.NoError(t, h.Close())
}
