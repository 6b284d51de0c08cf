package events

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paycore/types"
)

func TestOutboxDeliversInStageOrder(t *testing.T) {
	b := NewBus()
	o := NewOutbox(b)

	var got []string
	b.Subscribe(func(e types.Event) { got = append(got, e.ID) })

	o.Stage(types.Event{ID: "1"}, types.Event{ID: "2"})
	o.Stage()
	o.Stage(types.Event{ID: "3"})
	o.Flush()
	o.Flush()

	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestOutboxHandlerStagingIsDeferred(t *testing.T) {
	b := NewBus()
	o := NewOutbox(b)

	var got []string
	b.Subscribe(func(e types.Event) {
		got = append(got, e.ID)
		if e.ID == "1" {
			o.Stage(types.Event{ID: "nested"})
			o.Flush()
			got = append(got, "handler-returned")
		}
	})

	o.Stage(types.Event{ID: "1"}, types.Event{ID: "2"})
	o.Flush()

	assert.Equal(t, []string{"1", "handler-returned", "2", "nested"}, got)
}

func TestOutboxConcurrentStagingKeepsOrder(t *testing.T) {
	b := NewBus()
	o := NewOutbox(b)

	var (
		mu        sync.Mutex
		delivered []int
	)
	b.Subscribe(func(e types.Event) {
		mu.Lock()
		n, err := strconv.Atoi(e.ID)
		assert.NoError(t, err)
		delivered = append(delivered, n)
		mu.Unlock()
	})

	// order mimics the engine lock: the sequence number and the stage call
	// happen together
	var (
		order sync.Mutex
		next  int
		wg    sync.WaitGroup
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order.Lock()
			next++
			o.Stage(types.Event{ID: strconv.Itoa(next)})
			order.Unlock()
			o.Flush()
		}()
	}
	wg.Wait()

	require.Len(t, delivered, 64)
	for i, seq := range delivered {
		assert.Equal(t, i+1, seq)
	}
}
