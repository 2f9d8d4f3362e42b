package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mympdgo/internal/api"
	"mympdgo/internal/backend"
	"mympdgo/internal/cache"
	"mympdgo/internal/config"
	"mympdgo/internal/partition"
)

type fixture struct {
	d      *Dispatcher
	w      *partition.Worker
	dialer *backend.FakeDialer
}

func newFixture(t *testing.T, ttl time.Duration, queueSize int, run bool) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.QueueSize = queueSize
	cfg.Worker.QueueTimeout = 0
	cfg.Worker.KeepaliveInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{d: New(ttl, testr.New(t)), dialer: backend.NewFakeDialer()}
	go func() { _ = f.d.Run(ctx) }()

	f.w = partition.New(partition.Options{
		Name:      api.DefaultPartition,
		Address:   backend.Address{Network: "tcp", Addr: "localhost:6600"},
		Dialer:    f.dialer,
		Shared:    backend.NewShared(),
		Config:    cfg,
		Albums:    cache.NewAlbumCache(),
		Stickers:  cache.NewStickerCache(),
		Responder: f.d,
		Logger:    testr.New(t),
	})
	require.NoError(t, f.d.AddWorker(f.w))
	if run {
		go func() { _ = f.w.Run(ctx) }()
	}
	t.Cleanup(func() {
		cancel()
		if run {
			<-f.w.Done()
		}
	})
	return f
}

func TestAdmission(t *testing.T) {
	f := newFixture(t, 0, 4, false)

	tests := []struct {
		name string
		in   Incoming
		want api.Code
	}{
		{
			name: "unknown command",
			in:   Incoming{Method: "MYMPD_API_NOPE", Partition: "nowhere", Privileged: true},
			want: api.UnknownCommand,
		},
		{
			name: "protected without privilege",
			in:   Incoming{Method: "MYMPD_API_CONNECTION_SAVE", Partition: "nowhere"},
			want: api.Forbidden,
		},
		{
			name: "internal without privilege",
			in:   Incoming{Method: "INTERNAL_API_STATE_SAVE"},
			want: api.Forbidden,
		},
		{
			name: "unknown partition",
			in:   Incoming{Method: "MYMPD_API_VIEW_SAVE", Partition: "nowhere"},
			want: api.UnknownPartition,
		},
		{
			name: "oversized payload",
			in:   Incoming{Method: "MYMPD_API_VIEW_SAVE", Params: make(json.RawMessage, api.MaxPayloadSize+1)},
			want: api.ResourceExhausted,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.d.Dispatch(tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.want, api.CanonicalCode(err))
		})
	}

	assert.NoError(t, f.d.Dispatch(Incoming{Method: "MYMPD_API_CONNECTION_SAVE", Privileged: true}))
	assert.NoError(t, f.d.Dispatch(Incoming{Method: "MYMPD_API_VIEW_SAVE", Partition: api.DefaultPartition}))
}

func TestCallRoundTrip(t *testing.T) {
	f := newFixture(t, 0, 4, true)

	resp, err := f.d.Call(context.Background(), Incoming{Method: "MYMPD_API_PLAYER_VOLUME_SET", ConnID: 7, ID: 1, Params: json.RawMessage(`{"volume":33}`)})
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	assert.Equal(t, uint64(7), resp.ConnID)
	assert.Equal(t, uint64(1), resp.ID)
	assert.Equal(t, api.MYMPD_API_PLAYER_VOLUME_SET, resp.Cmd)
	assert.JSONEq(t, `{"volume":33}`, string(resp.Result))

	// same id on another connection is a different request
	resp, err = f.d.Call(context.Background(), Incoming{Method: "MYMPD_API_PLAYER_VOLUME_GET", ConnID: 8, ID: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"volume":33}`, string(resp.Result))
}

func TestFireAndForget(t *testing.T) {
	f := newFixture(t, 0, 4, true)

	ch, err := f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_PLAY", ConnID: 1})
	require.NoError(t, err)
	assert.Nil(t, ch)

	resp, err := f.d.Call(context.Background(), Incoming{Method: "MYMPD_API_PLAYER_VOLUME_GET", ConnID: 1, ID: 2, Type: api.RequestTypeDiscard})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDuplicateInFlight(t *testing.T) {
	f := newFixture(t, 0, 4, false)

	_, err := f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 5})
	require.NoError(t, err)
	_, err = f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 5})
	assert.Equal(t, api.InvalidParams, api.CanonicalCode(err))
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t, 0, 1, false)

	_, err := f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 1})
	require.NoError(t, err)
	_, err = f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 2})
	assert.Equal(t, api.ResourceExhausted, api.CanonicalCode(err))

	// the rejected id was released
	_, err = f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 2})
	assert.Equal(t, api.ResourceExhausted, api.CanonicalCode(err))
}

func TestWaiterExpires(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, 4, false)

	ch, err := f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 1})
	require.NoError(t, err)
	select {
	case resp := <-ch:
		require.NotNil(t, resp.Err)
		assert.Equal(t, api.Timeout, resp.Err.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not expire")
	}

	// a late response finds no waiter and is dropped
	f.d.Deliver(&api.Response{ConnID: 1, ID: 1, Cmd: api.MYMPD_API_PLAYER_STATE})
}

func TestCallHonorsContext(t *testing.T) {
	f := newFixture(t, 0, 4, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.d.Call(ctx, Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 1})
	assert.Equal(t, api.Timeout, api.CanonicalCode(err))

	// the correlation key is free again
	_, err = f.d.Submit(Incoming{Method: "MYMPD_API_PLAYER_STATE", ConnID: 1, ID: 1})
	assert.NoError(t, err)
}

func TestNotifyAndWorkers(t *testing.T) {
	notes := make(chan api.Notification, 16)
	f := newFixture(t, 0, 4, false)
	unsubscribe := f.d.Subscribe(func(n api.Notification) {
		select {
		case notes <- n:
		default:
		}
	})

	f.d.Notify(api.Notification{Partition: "default", Method: "update_state"})
	n := <-notes
	assert.Equal(t, "update_state", n.Method)

	unsubscribe()
	f.d.Notify(api.Notification{Partition: "default", Method: "update_state"})
	assert.Empty(t, notes)

	assert.Equal(t, []string{"default"}, f.d.Partitions())
	assert.Error(t, f.d.AddWorker(f.w))
	w, ok := f.d.RemoveWorker("default")
	assert.True(t, ok)
	assert.Same(t, f.w, w)
	assert.Empty(t, f.d.Partitions())
	_, ok = f.d.RemoveWorker("default")
	assert.False(t, ok)
}
