package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_preservesOrder(t *testing.T) {
	mb := NewMailbox[int]()
	for i := 0; i < 100; i++ {
		require.True(t, mb.Push(i))
	}
	mb.Close()

	var got []int
	mb.Run(func(v int) { got = append(got, v) })

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestMailbox_pushAfterClose(t *testing.T) {
	mb := NewMailbox[string]()
	mb.Close()
	mb.Close()
	require.False(t, mb.Push("late"))
	require.Equal(t, 0, mb.Len())
}

func TestMailbox_concurrentProducers(t *testing.T) {
	mb := NewMailbox[int]()

	var mu sync.Mutex
	seen := 0
	go mb.Run(func(int) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				mb.Push(i)
			}
		}()
	}
	wg.Wait()
	mb.Close()

	select {
	case <-mb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 400, seen)
}
