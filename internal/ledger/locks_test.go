package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocksSerializeSameID(t *testing.T) {
	locks := NewLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("order-1")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Equal(t, 0, locks.Len())
}

func TestLocksIndependentIDs(t *testing.T) {
	locks := NewLocks()
	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
	require.Equal(t, 0, locks.Len())
}
