package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "relay/contracts/realtime/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, c *Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	case <-time.After(time.Second):
		t.Fatalf("no envelope for %s", c.ConnectionID)
		return v1.Envelope{}
	}
}

func TestHub_SendDeliversIndependently(t *testing.T) {
	h := NewHub(nil)
	a := NewClient("a", "u1", ChannelChat, 4)
	full := NewClient("full", "u2", ChannelChat, 1)
	h.Attach(a)
	h.Attach(full)
	require.NoError(t, full.offer(v1.Envelope{}))

	err := h.Send(context.Background(), []string{"a", "full", "gone"}, "chat.message", map[string]string{"text": "hi"})
	require.Error(t, err)

	env := recv(t, a)
	assert.Equal(t, v1.TypeEvent, env.Type)
	assert.Equal(t, "chat.message", env.Event)
	assert.Equal(t, v1.Version, env.V)
	assert.NotEmpty(t, env.ID)
	var p map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "hi", p["text"])

	failed := DeliveryErrors(err)
	require.Len(t, failed, 2)
	byID := map[string]error{}
	for _, de := range failed {
		byID[de.ConnectionID] = de.Err
	}
	assert.ErrorIs(t, byID["full"], ErrBackpressure)
	assert.ErrorIs(t, byID["gone"], ErrNotConnected)
}

func TestHub_SendToGroupAndDetach(t *testing.T) {
	h := NewHub(nil)
	a := NewClient("a", "u1", ChannelPosts, 4)
	b := NewClient("b", "u2", ChannelPosts, 4)
	h.Attach(a)
	h.Attach(b)
	h.Subscribe(PostTopic("p1"), a)
	h.Subscribe(PostTopic("p1"), b)
	assert.Equal(t, 2, h.GroupSize("post:p1"))

	require.NoError(t, h.SendToGroup(context.Background(), "post:p1", "post.updated", map[string]string{"id": "p1"}))
	assert.Equal(t, "post:p1", recv(t, a).Topic)
	assert.Equal(t, "post:p1", recv(t, b).Topic)

	h.Detach("a")
	assert.False(t, h.Live("a"))
	assert.Equal(t, 1, h.GroupSize("post:p1"))
	select {
	case <-a.Done():
	default:
		t.Fatal("detached client must be closed")
	}

	h.Detach("b")
	assert.Equal(t, 0, h.GroupSize("post:p1"))

	// Unknown groups are empty, not an error.
	require.NoError(t, h.SendToGroup(context.Background(), "post:p1", "post.updated", nil))
}

func TestHub_SubscribeRacingLastDetachKeepsGroup(t *testing.T) {
	h := NewHub(nil)
	topic := PostTopic("p1")

	for i := range 2000 {
		a := NewClient(fmt.Sprintf("a%d", i), "u1", ChannelPosts, 2)
		b := NewClient(fmt.Sprintf("b%d", i), "u2", ChannelPosts, 2)
		h.Attach(a)
		h.Attach(b)
		h.Subscribe(topic, a)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); h.Detach(a.ConnectionID) }()
		go func() { defer wg.Done(); h.Subscribe(topic, b) }()
		wg.Wait()

		require.NoError(t, h.SendToGroup(context.Background(), topic, "post.updated", nil))
		select {
		case <-b.Send:
		default:
			t.Fatalf("iteration %d: subscriber missed the group send", i)
		}
		h.Detach(b.ConnectionID)
		require.Equal(t, 0, h.GroupSize(topic))
	}
}

func TestHub_SendRejectsUnencodablePayload(t *testing.T) {
	h := NewHub(nil)
	err := h.Send(context.Background(), []string{"a"}, "x", make(chan int))
	require.Error(t, err)
	assert.Empty(t, DeliveryErrors(err))
}

func TestClient_OfferAfterClose(t *testing.T) {
	c := NewClient("a", "u", ChannelChat, 1)
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.offer(v1.Envelope{}), ErrNotConnected)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	assert.True(t, rl.Allow(t0))
	assert.True(t, rl.Allow(t0.Add(100*time.Millisecond)))
	assert.True(t, rl.Allow(t0.Add(200*time.Millisecond)))
	assert.False(t, rl.Allow(t0.Add(300*time.Millisecond)))

	// The first event has left the window.
	assert.True(t, rl.Allow(t0.Add(1001*time.Millisecond)))
	assert.False(t, rl.Allow(t0.Add(1050*time.Millisecond)))
}
