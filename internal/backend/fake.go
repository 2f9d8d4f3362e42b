package backend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fhs/gompd/v2/mpd"
)

// FakeDialer is a Dialer for tests. It hands out connections to one shared
// FakeServer.
type FakeDialer struct {
	Server *FakeServer

	mu      sync.Mutex
	errs    []error // consumed one per Dial
	delay   time.Duration
	dials   atomic.Int64
	lastArg Address
}

// NewFakeDialer returns a dialer backed by a fresh FakeServer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{Server: NewFakeServer()}
}

// FailNext makes the next len(errs) dials fail with errs in order.
func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// SetDelay delays every dial by delay, honoring the context.
func (d *FakeDialer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Dials returns how many times Dial was invoked.
func (d *FakeDialer) Dials() int {
	return int(d.dials.Load())
}

// LastAddress returns the address of the last Dial.
func (d *FakeDialer) LastAddress() Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastArg
}

func (d *FakeDialer) Dial(ctx context.Context, addr Address) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.lastArg = addr
	delay := d.delay
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w: %w", addr.Addr, ErrTimeout, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return &FakeConn{srv: d.Server, partition: addr.Partition}, nil
}

// FakeServer is the in-memory state behind FakeConns.
type FakeServer struct {
	mu         sync.Mutex
	calls      []string
	failNext   error
	block      chan struct{}
	status     Attrs
	volume     int
	outputs    []Attrs
	queue      []Attrs
	library    []Attrs
	stickers   map[string]map[string]string
	partitions []string
	commands   []string
}

// NewFakeServer returns a server with two outputs, a small library and the
// default partition.
func NewFakeServer() *FakeServer {
	return &FakeServer{
		status: Attrs{"state": "stop", "volume": "50", "random": "0", "repeat": "0", "consume": "0", "single": "0"},
		volume: 50,
		outputs: []Attrs{
			{"outputid": "0", "outputname": "alsa", "outputenabled": "1", "plugin": "alsa"},
			{"outputid": "1", "outputname": "http", "outputenabled": "0", "plugin": "httpd"},
		},
		library: []Attrs{
			{"file": "a/1.flac", "Album": "Blue", "AlbumArtist": "Joni", "Title": "All I Want", "duration": "213.5", "Disc": "1"},
			{"file": "a/2.flac", "Album": "Blue", "AlbumArtist": "Joni", "Title": "My Old Man", "duration": "215.0", "Disc": "1"},
			{"file": "b/1.flac", "Album": "Kind of Blue", "AlbumArtist": "Miles", "Title": "So What", "duration": "545.0", "Disc": "1"},
		},
		stickers:   map[string]map[string]string{"a/1.flac": {"playCount": "3", "like": "2"}},
		partitions: []string{"default"},
		commands:   []string{"commands", "ping", "status", "sticker", "partition", "newpartition", "delpartition", "listpartitions", "outputset"},
	}
}

// Calls returns the commands seen so far.
func (s *FakeServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// FailNext makes the next call on any connection fail with err.
func (s *FakeServer) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Block makes calls wait until the returned func is invoked.
func (s *FakeServer) Block() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.block = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.block = nil
			s.mu.Unlock()
			close(ch)
		})
	}
}

// SetCommands replaces the command list reported during negotiation.
func (s *FakeServer) SetCommands(cmds ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = cmds
}

// SetQueue replaces the play queue.
func (s *FakeServer) SetQueue(songs ...Attrs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = songs
}

// Sticker returns a sticker value as stored on the server.
func (s *FakeServer) Sticker(uri, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stickers[uri][name]
}

// FakeConn is a connection to a FakeServer.
type FakeConn struct {
	srv       *FakeServer
	partition string
	closed    atomic.Bool
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	return c.closed.Load()
}

// enter records the call and returns an injected failure. It waits while the
// server is blocked.
func (c *FakeConn) enter(name string) error {
	c.srv.mu.Lock()
	block := c.srv.block
	c.srv.mu.Unlock()
	if block != nil {
		<-block
	}

	c.srv.mu.Lock()
	c.srv.calls = append(c.srv.calls, name)
	err := c.srv.failNext
	c.srv.failNext = nil
	c.srv.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	return err
}

func (c *FakeConn) Ping() error { return c.enter("ping") }

func (c *FakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *FakeConn) Commands() ([]string, error) {
	if err := c.enter("commands"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return append([]string(nil), c.srv.commands...), nil
}

func (c *FakeConn) ListPartitions() ([]string, error) {
	if err := c.enter("listpartitions"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return append([]string(nil), c.srv.partitions...), nil
}

func (c *FakeConn) NewPartition(name string) error {
	if err := c.enter("newpartition"); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for _, p := range c.srv.partitions {
		if p == name {
			return mpd.Error{Code: mpd.ErrorExist, CommandName: "newpartition", Message: "name already exists"}
		}
	}
	c.srv.partitions = append(c.srv.partitions, name)
	return nil
}

func (c *FakeConn) DeletePartition(name string) error {
	if err := c.enter("delpartition"); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for i, p := range c.srv.partitions {
		if p == name {
			c.srv.partitions = append(c.srv.partitions[:i], c.srv.partitions[i+1:]...)
			return nil
		}
	}
	return mpd.Error{Code: mpd.ErrorNoExist, CommandName: "delpartition", Message: "no such partition"}
}

func (c *FakeConn) Status() (Attrs, error) {
	if err := c.enter("status"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	out := make(Attrs, len(c.srv.status))
	for k, v := range c.srv.status {
		out[k] = v
	}
	out["volume"] = strconv.Itoa(c.srv.volume)
	out["playlistlength"] = strconv.Itoa(len(c.srv.queue))
	return out, nil
}

func (c *FakeConn) CurrentSong() (Attrs, error) {
	if err := c.enter("currentsong"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if len(c.srv.queue) == 0 {
		return Attrs{}, nil
	}
	return c.srv.queue[0], nil
}

func (c *FakeConn) setState(name, state string) error {
	if err := c.enter(name); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.status["state"] = state
	return nil
}

func (c *FakeConn) Play(pos int) error { return c.setState("play", "play") }

func (c *FakeConn) Pause(pause bool) error {
	if pause {
		return c.setState("pause", "pause")
	}
	return c.setState("pause", "play")
}

func (c *FakeConn) Stop() error     { return c.setState("stop", "stop") }
func (c *FakeConn) Next() error     { return c.setState("next", "play") }
func (c *FakeConn) Previous() error { return c.setState("previous", "play") }

func (c *FakeConn) SetVolume(volume int) error {
	if err := c.enter("setvol"); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.volume = volume
	return nil
}

func (c *FakeConn) SetOption(name string, on bool) error {
	if err := c.enter(name); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if on {
		c.srv.status[name] = "1"
	} else {
		c.srv.status[name] = "0"
	}
	return nil
}

func (c *FakeConn) ListOutputs() ([]Attrs, error) {
	if err := c.enter("outputs"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	out := make([]Attrs, len(c.srv.outputs))
	for i, o := range c.srv.outputs {
		cp := make(Attrs, len(o))
		for k, v := range o {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func (c *FakeConn) setOutput(name string, id int, key, value string) error {
	if err := c.enter(name); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if id < 0 || id >= len(c.srv.outputs) {
		return mpd.Error{Code: mpd.ErrorNoExist, CommandName: name, Message: "No such audio output"}
	}
	c.srv.outputs[id][key] = value
	return nil
}

func (c *FakeConn) EnableOutput(id int) error {
	return c.setOutput("enableoutput", id, "outputenabled", "1")
}

func (c *FakeConn) DisableOutput(id int) error {
	return c.setOutput("disableoutput", id, "outputenabled", "0")
}

func (c *FakeConn) SetOutputAttribute(id int, name, value string) error {
	return c.setOutput("outputset", id, "attribute:"+name, value)
}

func (c *FakeConn) PlaylistInfo(start, end int) ([]Attrs, error) {
	if err := c.enter("playlistinfo"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	q := c.srv.queue
	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(q) {
		end = len(q)
	}
	if start > end {
		start = end
	}
	return append([]Attrs(nil), q[start:end]...), nil
}

func (c *FakeConn) ListAllInfo(uri string) ([]Attrs, error) {
	if err := c.enter("listallinfo"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return append([]Attrs(nil), c.srv.library...), nil
}

func (c *FakeConn) SongInfo(uri string) (Attrs, error) {
	if err := c.enter("lsinfo"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	dir := false
	for _, s := range c.srv.library {
		if s["file"] == uri {
			return s, nil
		}
		dir = dir || strings.HasPrefix(s["file"], uri+"/")
	}
	if dir {
		return nil, fmt.Errorf("lsinfo %s: %w", uri, ErrNotFound)
	}
	return nil, mpd.Error{Code: mpd.ErrorNoExist, CommandName: "lsinfo", Message: "No such song"}
}

func (c *FakeConn) StickerFind(name string) (map[string]string, error) {
	if err := c.enter("sticker find"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	out := make(map[string]string)
	for uri, st := range c.srv.stickers {
		if v, ok := st[name]; ok {
			out[uri] = v
		}
	}
	return out, nil
}

func (c *FakeConn) StickerList(uri string) (map[string]string, error) {
	if err := c.enter("sticker list"); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	out := make(map[string]string)
	for k, v := range c.srv.stickers[uri] {
		out[k] = v
	}
	return out, nil
}

func (c *FakeConn) StickerSet(uri, name, value string) error {
	if err := c.enter("sticker set"); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.stickers[uri] == nil {
		c.srv.stickers[uri] = make(map[string]string)
	}
	c.srv.stickers[uri][name] = value
	return nil
}

// Partitions returns the partitions known to the server, sorted.
func (s *FakeServer) Partitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.partitions...)
	sort.Strings(out)
	return out
}
