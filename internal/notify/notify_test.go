package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	b.Publish(Event{Kind: NewSession, SessionID: "s1"})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		assert.Equal(t, NewSession, ev.Kind)
		assert.Equal(t, "s1", ev.SessionID)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: Refresh})
	b.Publish(Event{Kind: SessionDone})

	ev := <-ch
	assert.Equal(t, Refresh, ev.Kind)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Kind: Refresh})
}

func TestNilBusAndClose(t *testing.T) {
	var nilBus *Bus
	nilBus.Publish(Event{Kind: Refresh})

	b := NewBus()
	ch, cancel := b.Subscribe(1)
	b.Close()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
