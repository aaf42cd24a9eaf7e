package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-simulator/internal/fleet"
	"bus-simulator/internal/sim"
)

func testFrame() fleet.Frame {
	return fleet.Frame{
		Statuses: []sim.StatusSnapshot{
			{ID: "1", RouteID: "10", Status: sim.StatusMoving},
			{ID: "2", RouteID: "20", Status: sim.StatusStopped},
		},
		Stats: sim.Stats{TotalBuses: 2, TimeOfDay: sim.Normal, WeatherFactor: 1},
		At:    time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
	}
}

func decode(t *testing.T, data []byte) FrameMessage {
	t.Helper()
	var msg FrameMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestClientRouteFilter(t *testing.T) {
	c := NewClient("c", 1)
	assert.True(t, c.Wants("anything"))

	c.SetRoutes([]string{"10"})
	assert.True(t, c.Wants("10"))
	assert.False(t, c.Wants("20"))

	c.SetRoutes(nil)
	assert.True(t, c.Wants("20"))
}

func TestPublishDropsWhenFull(t *testing.T) {
	h := NewHub(nil)
	var err error
	for i := 0; i < cap(h.broadcast)+1; i++ {
		err = h.Publish(context.Background(), testFrame())
	}
	assert.ErrorIs(t, err, ErrBroadcastFull)
}

func TestSnapshotBeforeFirstFrame(t *testing.T) {
	h := NewHub(nil)
	assert.Nil(t, h.Snapshot(NewClient("c", 1)))
}

func TestRunFansOutFilteredFrames(t *testing.T) {
	var count atomic.Int64
	h := NewHub(func(n int) { count.Store(int64(n)) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	all := NewClient("all", 4)
	only20 := NewClient("only20", 4)
	only20.SetRoutes([]string{"20"})
	h.Register(all)
	h.Register(only20)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 2, count.Load())

	require.NoError(t, h.Publish(ctx, testFrame()))

	select {
	case data := <-all.Send:
		msg := decode(t, data)
		assert.Equal(t, "frame", msg.Type)
		assert.Len(t, msg.Payload.Buses, 2)
		assert.Equal(t, 2, msg.Payload.Stats.TotalBuses)
		assert.Equal(t, "2024-03-04T12:00:00.000Z", msg.Payload.ServerTime)
	case <-time.After(time.Second):
		t.Fatal("no frame for unfiltered client")
	}
	select {
	case data := <-only20.Send:
		msg := decode(t, data)
		require.Len(t, msg.Payload.Buses, 1)
		assert.Equal(t, "2", msg.Payload.Buses[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no frame for filtered client")
	}

	snap := h.Snapshot(only20)
	require.NotNil(t, snap)
	assert.Len(t, decode(t, snap).Payload.Buses, 1)

	h.Unregister(all)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)
	select {
	case <-all.Done():
	case <-time.After(time.Second):
		t.Fatal("unregistered client not stopped")
	}
}

func TestShutdownStopsClientsWithoutClosingSend(t *testing.T) {
	var count atomic.Int64
	h := NewHub(func(n int) { count.Store(int64(n)) })
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := NewClient("c", 1)
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-stopped
	assert.Equal(t, 0, h.ClientCount())
	assert.EqualValues(t, 0, count.Load())

	select {
	case <-c.Done():
	default:
		t.Fatal("client not stopped on shutdown")
	}

	// a late pong from the read loop must not panic
	assert.NotPanics(t, func() {
		h.trySend(c, []byte(`{"type":"pong"}`))
		h.trySend(c, []byte(`{"type":"pong"}`))
	})

	// more than the queue holds, none may block once Run has returned
	unregistered := make(chan struct{})
	go func() {
		for i := 0; i < cap(h.unregister)+4; i++ {
			h.Unregister(c)
		}
		close(unregistered)
	}()
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked after shutdown")
	}

	late := NewClient("late", 1)
	h.Register(late)
	select {
	case <-late.Done():
	default:
		t.Fatal("client registered after shutdown not stopped")
	}
}

func TestServeWS(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribe","payload":{"routeIds":["10"]}}`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))

	require.NoError(t, h.Publish(ctx, testFrame()))
	_, data, err = conn.Read(readCtx)
	require.NoError(t, err)
	msg := decode(t, data)
	require.Len(t, msg.Payload.Buses, 1)
	assert.Equal(t, "10", msg.Payload.Buses[0].RouteID)
}
