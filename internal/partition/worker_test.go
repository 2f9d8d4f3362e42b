package partition

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mympdgo/internal/api"
	"mympdgo/internal/backend"
	"mympdgo/internal/cache"
	"mympdgo/internal/config"
	"mympdgo/internal/logging"
	"mympdgo/internal/statestore"
)

type recorder struct {
	responses chan *api.Response
	notes     chan api.Notification
}

func newRecorder() *recorder {
	return &recorder{
		responses: make(chan *api.Response, 32),
		notes:     make(chan api.Notification, 64),
	}
}

func (r *recorder) Deliver(resp *api.Response) { r.responses <- resp }

func (r *recorder) Notify(n api.Notification) {
	select {
	case r.notes <- n:
	default:
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Worker.QueueSize = 8
	cfg.Worker.QueueTimeout = 0
	cfg.Worker.HandshakeTimeout = 500 * time.Millisecond
	cfg.Worker.ReconnectInitial = 5 * time.Millisecond
	cfg.Worker.ReconnectMax = 20 * time.Millisecond
	cfg.Worker.KeepaliveInterval = time.Hour
	return cfg
}

type harness struct {
	t      *testing.T
	opts   Options
	w      *Worker
	dialer *backend.FakeDialer
	rec    *recorder
	nextID uint64
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t, dialer: backend.NewFakeDialer(), rec: newRecorder()}
	h.opts = Options{
		Name:      api.DefaultPartition,
		Address:   backend.Address{Network: "tcp", Addr: "localhost:6600"},
		Dialer:    h.dialer,
		Shared:    backend.NewShared(),
		Config:    testConfig(),
		Albums:    cache.NewAlbumCache(),
		Stickers:  cache.NewStickerCache(),
		Responder: h.rec,
		Levels:    logging.Discard(),
		Logger:    testr.New(t),
	}
	if mutate != nil {
		mutate(&h.opts)
	}
	h.w = New(h.opts)
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.w.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		<-h.w.Done()
	})
}

func (h *harness) request(cmd api.CmdID, params string) *api.Request {
	h.t.Helper()
	h.nextID++
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	req, err := api.NewRequest(api.RequestTypeDefault, 1, h.nextID, cmd, raw, h.opts.Name)
	require.NoError(h.t, err)
	return req
}

func (h *harness) wait() *api.Response {
	h.t.Helper()
	select {
	case resp := <-h.rec.responses:
		return resp
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for response")
		return nil
	}
}

func (h *harness) call(cmd api.CmdID, params string) *api.Response {
	h.t.Helper()
	req := h.request(cmd, params)
	require.NoError(h.t, h.w.Enqueue(req))
	resp := h.wait()
	require.Equal(h.t, req.ID, resp.ID)
	require.Equal(h.t, req.Cmd, resp.Cmd)
	return resp
}

func (h *harness) ok(cmd api.CmdID, params string, out any) {
	h.t.Helper()
	resp := h.call(cmd, params)
	require.Nil(h.t, resp.Err, "%s failed: %v", cmd, resp.Err)
	if out != nil {
		require.NoError(h.t, json.Unmarshal(resp.Result, out))
	}
}

func (h *harness) fails(cmd api.CmdID, params string, code api.Code) *api.Error {
	h.t.Helper()
	resp := h.call(cmd, params)
	require.NotNil(h.t, resp.Err, "%s succeeded", cmd)
	assert.Equal(h.t, code, resp.Err.Code, resp.Err.Msg)
	return resp.Err
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.w.State() == s }, 5*time.Second, 2*time.Millisecond,
		"state %s, want %s", h.w.State(), s)
}

var errWrongPassword = mpd.Error{Code: mpd.ErrorPassword, CommandName: "password", Message: "incorrect password"}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestEveryCommandHasHandler(t *testing.T) {
	for _, id := range api.Commands() {
		_, ok := handlers[id]
		assert.True(t, ok, "no handler for %s", id)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.FailNext(errWrongPassword)
	h.start()

	h.fails(api.MYMPD_API_PLAYER_STATE, "", api.BackendUnavailable)
	assert.Empty(t, h.dialer.Server.Calls(), "backend must not be touched")

	e := h.fails(api.MYMPD_API_SETTINGS_GET, "", api.BackendError)
	assert.Contains(t, e.Msg, "incorrect password")

	var s settings
	h.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	assert.Equal(t, "disconnected", s.State)
	assert.Contains(t, s.LastError, "incorrect password")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Dials(), "permanent failures are not retried")
	assert.Equal(t, Disconnected, h.w.State())

	h.ok(api.MYMPD_API_CONNECTION_SAVE, `{"mpdHost":"mpd.lan","mpdPort":6601,"mpdPass":"right"}`, nil)
	assert.Equal(t, Connected, h.w.State())
	assert.Equal(t, "right", h.dialer.LastAddress().Password)
	assert.Equal(t, "mpd.lan:6601", h.dialer.LastAddress().Addr)
}

func TestConnectionSavePermanentFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.waitState(Connected)

	h.dialer.FailNext(errWrongPassword)
	e := h.fails(api.MYMPD_API_CONNECTION_SAVE, `{"mpdPass":"wrong"}`, api.BackendError)
	assert.Contains(t, e.Msg, "incorrect password")
	assert.Equal(t, Disconnected, h.w.State())

	// already reported, the next disconnect-allowed command is served
	h.ok(api.MYMPD_API_JUKEBOX_LIST, "", nil)
}

func TestFIFOAndBackpressure(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.Worker.QueueSize = 2
		o.Config.Worker.QueueTimeout = 30 * time.Millisecond
	})

	first := h.request(api.MYMPD_API_PLAYER_VOLUME_SET, `{"volume":10}`)
	second := h.request(api.MYMPD_API_PLAYER_VOLUME_SET, `{"volume":20}`)
	require.NoError(t, h.w.Enqueue(first))
	require.NoError(t, h.w.Enqueue(second))

	start := time.Now()
	err := h.w.Enqueue(h.request(api.MYMPD_API_PLAYER_STATE, ""))
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, api.ResourceExhausted, api.CanonicalCode(err))
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	h.start()
	r1, r2 := h.wait(), h.wait()
	assert.Equal(t, first.ID, r1.ID)
	assert.Equal(t, second.ID, r2.ID)
	assert.Nil(t, r1.Err)
	assert.Nil(t, r2.Err)

	var v map[string]int
	h.ok(api.MYMPD_API_PLAYER_VOLUME_GET, "", &v)
	assert.Equal(t, 20, v["volume"])
}

func TestZeroQueueTimeoutNeverBlocks(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.Worker.QueueSize = 1 })
	require.NoError(t, h.w.Enqueue(h.request(api.MYMPD_API_PLAYER_STATE, "")))
	assert.ErrorIs(t, h.w.Enqueue(h.request(api.MYMPD_API_PLAYER_STATE, "")), ErrQueueFull)
}

func TestReconnectAfterDrop(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.ok(api.MYMPD_API_PLAYER_STATE, "", nil)

	h.dialer.Server.FailNext(io.EOF)
	h.fails(api.MYMPD_API_PLAYER_STATE, "", api.BackendError)

	h.waitState(Connected)
	assert.Equal(t, 2, h.dialer.Dials())
	h.ok(api.MYMPD_API_PLAYER_STATE, "", nil)
}

func TestQueuedCommandsFailWhileReconnecting(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.Worker.ReconnectMax = 50 * time.Millisecond })
	h.start()
	h.waitState(Connected)

	refused := make([]error, 8)
	for i := range refused {
		refused[i] = errors.New("connection refused")
	}
	h.dialer.FailNext(refused...)
	h.dialer.Server.FailNext(io.EOF)

	h.fails(api.MYMPD_API_PLAYER_STATE, "", api.BackendError)
	h.fails(api.MYMPD_API_QUEUE_LIST, "", api.BackendUnavailable)
	h.ok(api.MYMPD_API_JUKEBOX_LIST, "", nil)

	h.waitState(Connected)
	h.ok(api.MYMPD_API_QUEUE_LIST, "", nil)
}

func TestHandshakeTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.Worker.HandshakeTimeout = 20 * time.Millisecond })
	h.dialer.SetDelay(time.Second)
	h.start()

	var s settings
	h.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	assert.NotEqual(t, "connected", s.State)
	assert.Contains(t, s.LastError, "timeout")

	h.dialer.SetDelay(0)
	h.waitState(Connected)
}

func TestHandshakeTimeoutDuringNegotiation(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.Worker.HandshakeTimeout = 50 * time.Millisecond })
	// the dial succeeds but feature negotiation never answers
	release := h.dialer.Server.Block()
	defer release()
	h.start()

	var s settings
	h.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	assert.NotEqual(t, "connected", s.State)
	assert.Contains(t, s.LastError, "timeout")

	release()
	h.waitState(Connected)
}

func TestRetryDelayCapped(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.Worker.ReconnectInitial = 10 * time.Millisecond
		o.Config.Worker.ReconnectMax = 20 * time.Millisecond
	})
	for range 200 {
		d := h.w.nextRetry()
		require.LessOrEqual(t, d, 20*time.Millisecond)
		require.Positive(t, d)
	}
}

func TestKeepaliveDetectsDrop(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.Worker.KeepaliveInterval = 10 * time.Millisecond })
	h.start()
	h.waitState(Connected)

	h.dialer.Server.FailNext(io.EOF)
	require.Eventually(t, func() bool { return h.dialer.Dials() >= 2 }, 5*time.Second, 2*time.Millisecond)
	h.waitState(Connected)
}

func TestFireAndForget(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	req, err := api.NewRequest(api.RequestTypeDefault, 1, 0, api.MYMPD_API_PLAYER_PLAY, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.w.Enqueue(req))

	resp := h.call(api.MYMPD_API_PLAYER_STATE, "")
	require.Nil(t, resp.Err)
	var ps playerState
	require.NoError(t, json.Unmarshal(resp.Result, &ps))
	assert.Equal(t, "play", ps.State)
}

func TestPlayerCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.fails(api.MYMPD_API_PLAYER_VOLUME_SET, `{"volume":101}`, api.InvalidParams)
	h.fails(api.MYMPD_API_PLAYER_VOLUME_SET, `{"volume":"x"}`, api.InvalidParams)

	var v map[string]int
	h.ok(api.MYMPD_API_PLAYER_VOLUME_CHANGE, `{"volume":60}`, &v)
	assert.Equal(t, 100, v["volume"])
	h.ok(api.MYMPD_API_PLAYER_VOLUME_CHANGE, `{"volume":-30}`, &v)
	assert.Equal(t, 70, v["volume"])

	h.ok(api.MYMPD_API_PLAYER_PAUSE, "", nil)
	var ps playerState
	h.ok(api.MYMPD_API_PLAYER_STATE, "", &ps)
	assert.Equal(t, "pause", ps.State)
	assert.Equal(t, 70, ps.Volume)

	h.ok(api.MYMPD_API_PLAYER_OUTPUT_TOGGLE, `{"outputId":1,"state":1}`, nil)
	var outs list[output]
	h.ok(api.MYMPD_API_PLAYER_OUTPUT_LIST, "", &outs)
	require.Len(t, outs.Data, 2)
	assert.True(t, outs.Data[1].Enabled)

	h.ok(api.MYMPD_API_PLAYER_OUTPUT_ATTRIBUTES_SET, `{"outputId":1,"attributes":{"dop":"1"}}`, nil)
	h.ok(api.MYMPD_API_PLAYER_OUTPUT_LIST, "", &outs)
	assert.Equal(t, "1", outs.Data[1].Attributes["dop"])

	h.dialer.Server.SetQueue(backend.Attrs{"file": "a/1.flac"}, backend.Attrs{"file": "a/2.flac"}, backend.Attrs{"file": "b/1.flac"})
	var q list[backend.Attrs]
	h.ok(api.MYMPD_API_QUEUE_LIST, `{"offset":1,"limit":5}`, &q)
	assert.Equal(t, 3, q.TotalEntities)
	require.Len(t, q.Data, 2)
	assert.Equal(t, "a/2.flac", q.Data[0]["file"])
}

func TestProtocolErrorKeepsConnection(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.fails(api.MYMPD_API_SONG_DETAILS, `{"uri":"missing.flac"}`, api.BackendError)
	assert.Equal(t, Connected, h.w.State())
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestSongDetailsOfDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.fails(api.MYMPD_API_SONG_DETAILS, `{"uri":"a"}`, api.BackendError)
	assert.Equal(t, Connected, h.w.State())
	assert.Equal(t, 1, h.dialer.Dials())
	h.ok(api.MYMPD_API_SONG_DETAILS, `{"uri":"a/1.flac"}`, nil)
}

func TestSongDetailsStickersWithoutCache(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	var song songDetails
	h.ok(api.MYMPD_API_SONG_DETAILS, `{"uri":"a/1.flac"}`, &song)
	assert.Equal(t, 3, song.Stickers.PlayCount)
	assert.Equal(t, cache.LikeLove, song.Stickers.Like)
	assert.Contains(t, h.dialer.Server.Calls(), "sticker list")

	song = songDetails{}
	h.ok(api.MYMPD_API_SONG_DETAILS, `{"uri":"a/2.flac"}`, &song)
	assert.Equal(t, 0, song.Stickers.PlayCount)
	assert.Equal(t, cache.LikeNeutral, song.Stickers.Like)
}

func TestCachesCreate(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	var gens map[string]uint64
	h.ok(api.MYMPD_API_CACHES_CREATE, "", &gens)
	assert.Equal(t, uint64(1), gens["album"])
	assert.Equal(t, uint64(1), gens["sticker"])

	var albums list[cache.Album]
	h.ok(api.MYMPD_API_ALBUM_LIST, `{"searchstr":"blue"}`, &albums)
	assert.Equal(t, 2, albums.TotalEntities)
	assert.Equal(t, uint64(1), albums.Generation)
	assert.Equal(t, "Joni", albums.Data[0].Artist)

	var detail albumDetail
	h.ok(api.MYMPD_API_ALBUM_DETAIL, `{"albumartist":"Joni","album":"Blue"}`, &detail)
	assert.Equal(t, []string{"a/1.flac", "a/2.flac"}, detail.Songs)
	h.fails(api.MYMPD_API_ALBUM_DETAIL, `{"albumartist":"Joni","album":"Hejira"}`, api.InvalidParams)

	var song songDetails
	h.ok(api.MYMPD_API_SONG_DETAILS, `{"uri":"a/1.flac"}`, &song)
	assert.Equal(t, 3, song.Stickers.PlayCount)
	assert.Equal(t, "All I Want", song.Song["Title"])

	r, err := h.opts.Albums.BeginRebuild()
	require.NoError(t, err)
	h.fails(api.MYMPD_API_CACHES_CREATE, "", api.RebuildInProgress)
	r.Abort()
	h.ok(api.MYMPD_API_CACHES_CREATE, "", &gens)
	assert.Equal(t, uint64(2), gens["album"])
}

func TestLike(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.fails(api.MYMPD_API_LIKE, `{"uri":"a/2.flac","like":3}`, api.InvalidParams)
	h.ok(api.MYMPD_API_LIKE, `{"uri":"a/2.flac","like":2}`, nil)
	assert.Equal(t, "2", h.dialer.Server.Sticker("a/2.flac", "like"))

	h.dialer.Server.SetCommands("commands", "ping", "status")
	h.ok(api.INTERNAL_API_DISCONNECT, "", nil)
	h.ok(api.INTERNAL_API_CONNECT, "", nil)
	h.fails(api.MYMPD_API_LIKE, `{"uri":"a/2.flac","like":0}`, api.BackendError)
}

func TestCachesCreateClaimsBothCaches(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	r, err := h.opts.Stickers.BeginRebuild()
	require.NoError(t, err)
	h.fails(api.MYMPD_API_CACHES_CREATE, "", api.RebuildInProgress)
	assert.Equal(t, uint64(0), h.opts.Albums.Seq())
	assert.False(t, h.opts.Albums.Rebuilding())

	r.Abort()
	var gens map[string]uint64
	h.ok(api.MYMPD_API_CACHES_CREATE, "", &gens)
	assert.Equal(t, uint64(1), gens["album"])
	assert.Equal(t, uint64(1), gens["sticker"])
}

func TestLikeUpdatesStickerCache(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	// nothing to update before the first build
	h.ok(api.MYMPD_API_LIKE, `{"uri":"a/1.flac","like":1}`, nil)
	assert.Equal(t, uint64(0), h.opts.Stickers.Seq())

	h.ok(api.MYMPD_API_CACHES_CREATE, "", nil)
	seq := h.opts.Stickers.Seq()

	h.ok(api.MYMPD_API_LIKE, `{"uri":"a/1.flac","like":0}`, nil)
	assert.Greater(t, h.opts.Stickers.Seq(), seq)
	var song songDetails
	h.ok(api.MYMPD_API_SONG_DETAILS, `{"uri":"a/1.flac"}`, &song)
	assert.Equal(t, cache.LikeHate, song.Stickers.Like)
	assert.Equal(t, 3, song.Stickers.PlayCount)

	h.ok(api.MYMPD_API_LIKE, `{"uri":"b/1.flac","like":2}`, nil)
	song = songDetails{}
	h.ok(api.MYMPD_API_SONG_DETAILS, `{"uri":"b/1.flac"}`, &song)
	assert.Equal(t, cache.LikeLove, song.Stickers.Like)
	assert.NotContains(t, h.dialer.Server.Calls(), "sticker list")

	// a running rebuild keeps the cache untouched
	r, err := h.opts.Stickers.BeginRebuild()
	require.NoError(t, err)
	defer r.Abort()
	seq = h.opts.Stickers.Seq()
	h.ok(api.MYMPD_API_LIKE, `{"uri":"a/2.flac","like":2}`, nil)
	assert.Equal(t, seq, h.opts.Stickers.Seq())
	assert.Equal(t, "2", h.dialer.Server.Sticker("a/2.flac", "like"))
}

func openStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJukeboxPersistence(t *testing.T) {
	store := openStore(t)
	h := newHarness(t, func(o *Options) { o.Store = store })
	h.start()

	h.ok(api.MYMPD_API_JUKEBOX_APPEND_URIS, `{"uris":["a","b","c","d"]}`, nil)
	h.fails(api.MYMPD_API_JUKEBOX_RM, `{"positions":[4]}`, api.InvalidParams)
	h.ok(api.MYMPD_API_JUKEBOX_RM, `{"positions":[0,2]}`, nil)

	var l list[string]
	h.ok(api.MYMPD_API_JUKEBOX_LIST, "", &l)
	assert.Equal(t, []string{"b", "d"}, l.Data)

	h.ok(api.MYMPD_API_SETTINGS_SET, `{"random":true,"jukeboxMode":"song","jukeboxQueueLength":3}`, nil)
	h.fails(api.MYMPD_API_SETTINGS_SET, `{"jukeboxMode":"radio"}`, api.InvalidParams)
	h.ok(api.INTERNAL_API_STATE_SAVE, "", nil)

	again := newHarness(t, func(o *Options) {
		o.Store = store
		o.Dialer = h.dialer
	})
	again.start()
	again.ok(api.MYMPD_API_JUKEBOX_LIST, "", &l)
	assert.Equal(t, []string{"b", "d"}, l.Data)

	var s settings
	again.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	assert.Equal(t, "song", s.JukeboxMode)
	assert.Equal(t, 3, s.JukeboxLen)
	assert.Equal(t, "1", s.Status["random"], "random lives on the backend")

	again.ok(api.MYMPD_API_JUKEBOX_CLEAR, "", nil)
	again.ok(api.MYMPD_API_JUKEBOX_LIST, "", &l)
	assert.Empty(t, l.Data)
}

func TestViewSave(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Store = openStore(t) })
	h.start()

	h.fails(api.MYMPD_API_VIEW_SAVE, `{"fields":["Title"]}`, api.InvalidParams)
	h.ok(api.MYMPD_API_VIEW_SAVE, `{"view":"queue","fields":["Title","Artist"]}`, nil)

	var s settings
	h.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	assert.Equal(t, []any{"Title", "Artist"}, s.Views["queue"])

	noStore := newHarness(t, nil)
	noStore.start()
	noStore.fails(api.MYMPD_API_VIEW_SAVE, `{"view":"queue"}`, api.Internal)
}

func TestLoglevel(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.fails(api.MYMPD_API_LOGLEVEL, `{"loglevel":9}`, api.InvalidParams)
	h.ok(api.MYMPD_API_LOGLEVEL, `{"loglevel":7}`, nil)
	assert.Equal(t, 7, h.opts.Levels.Level())
}

func TestLoglevelRestored(t *testing.T) {
	store := openStore(t)
	h := newHarness(t, func(o *Options) { o.Store = store })
	h.start()
	h.ok(api.MYMPD_API_LOGLEVEL, `{"loglevel":6}`, nil)

	levels := logging.Discard()
	require.NotEqual(t, 6, levels.Level())
	again := newHarness(t, func(o *Options) {
		o.Store = store
		o.Dialer = h.dialer
		o.Levels = levels
	})
	again.start()
	var s settings
	again.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	require.NotNil(t, s.LogLevel)
	assert.Equal(t, 6, *s.LogLevel)
	assert.Equal(t, 6, levels.Level())
}

func TestSettingsStartupTime(t *testing.T) {
	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, func(o *Options) { o.Config.StartupTime = started })
	h.start()

	var s settings
	h.ok(api.MYMPD_API_SETTINGS_GET, "", &s)
	assert.Equal(t, started.Unix(), s.StartupTime)
}

func TestStopAnswersQueuedRequests(t *testing.T) {
	h := newHarness(t, nil)
	req := h.request(api.MYMPD_API_PLAYER_STATE, "")
	require.NoError(t, h.w.Enqueue(req))

	h.w.Stop()
	assert.ErrorIs(t, h.w.Enqueue(h.request(api.MYMPD_API_PLAYER_STATE, "")), ErrStopped)
	require.NoError(t, h.w.Run(context.Background()))

	resp := h.wait()
	assert.Equal(t, req.ID, resp.ID)
	require.NotNil(t, resp.Err)
	assert.Equal(t, api.UnknownPartition, resp.Err.Code)
}

func TestNotifications(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.waitState(Connected)

	select {
	case n := <-h.rec.notes:
		assert.Equal(t, NotifyConnected, n.Method)
		assert.Equal(t, api.DefaultPartition, n.Partition)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}
