package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/go-logr/logr"

	"mympdgo/internal/logging"
)

// MPDDialer dials MPD servers with gompd.
type MPDDialer struct {
	// CommandTimeout bounds every call on the returned connections.
	CommandTimeout time.Duration
	Logger         logr.Logger
}

type dialResult struct {
	c   *mpd.Client
	err error
}

// Dial connects to addr, authenticates and selects the partition. The gompd
// dial itself is not cancellable, so it runs on its own goroutine and a late
// client is closed as soon as it arrives.
func (d *MPDDialer) Dial(ctx context.Context, addr Address) (Conn, error) {
	ch := make(chan dialResult, 1)
	go func() {
		ch <- dialMPD(addr)
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", addr.Network, addr.Addr, r.err)
		}
		d.Logger.V(logging.VERBOSE).Info("MPD connection established", "addr", addr.Addr, "partition", addr.Partition, "version", r.c.Version())
		return &mpdConn{c: r.c, timeout: d.CommandTimeout}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, fmt.Errorf("dial %s %s: %w: %w", addr.Network, addr.Addr, ErrTimeout, ctx.Err())
	}
}

func dialMPD(addr Address) dialResult {
	c, err := mpd.Dial(addr.Network, addr.Addr)
	if err != nil {
		return dialResult{err: err}
	}
	if addr.Password != "" {
		if err := c.Command("password %s", addr.Password).OK(); err != nil {
			c.Close()
			return dialResult{err: fmt.Errorf("password: %w", err)}
		}
	}
	if addr.Partition != "" && addr.Partition != "default" {
		if err := c.Partition(addr.Partition); err != nil {
			c.Close()
			return dialResult{err: fmt.Errorf("select partition %s: %w", addr.Partition, err)}
		}
	}
	return dialResult{c: c}
}

// mpdConn adapts *mpd.Client to Conn. Every call is bounded by timeout; a call
// that runs over marks the connection closed.
type mpdConn struct {
	c       *mpd.Client
	timeout time.Duration
	closed  bool
}

type callResult[T any] struct {
	v   T
	err error
}

// call runs fn on the client within the command timeout. The values of fn
// travel through the channel only, so an abandoned call shares nothing with
// the caller.
func call[T any](m *mpdConn, name string, fn func(c *mpd.Client) (T, error)) (T, error) {
	var zero T
	if m.closed {
		return zero, ErrClosed
	}
	if m.timeout <= 0 {
		return fn(m.c)
	}
	done := make(chan callResult[T], 1)
	go func() {
		v, err := fn(m.c)
		done <- callResult[T]{v: v, err: err}
	}()
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		// gompd must not be closed underneath a running command
		m.closed = true
		c := m.c
		go func() {
			<-done
			c.Close()
		}()
		return zero, fmt.Errorf("%s: %w", name, ErrTimeout)
	}
}

func (m *mpdConn) do(name string, fn func(c *mpd.Client) error) error {
	_, err := call(m, name, func(c *mpd.Client) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

func (m *mpdConn) Ping() error {
	return m.do("ping", func(c *mpd.Client) error { return c.Ping() })
}

func (m *mpdConn) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.c.Close()
}

func (m *mpdConn) Commands() ([]string, error) {
	return call(m, "commands", func(c *mpd.Client) ([]string, error) {
		return c.Command("commands").Strings("command")
	})
}

func (m *mpdConn) ListPartitions() ([]string, error) {
	return call(m, "listpartitions", func(c *mpd.Client) ([]string, error) {
		list, err := c.ListPartitions()
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a["partition"])
		}
		return out, nil
	})
}

func (m *mpdConn) NewPartition(name string) error {
	return m.do("newpartition", func(c *mpd.Client) error { return c.NewPartition(name) })
}

func (m *mpdConn) DeletePartition(name string) error {
	return m.do("delpartition", func(c *mpd.Client) error { return c.DelPartition(name) })
}

func (m *mpdConn) Status() (Attrs, error) {
	return call(m, "status", func(c *mpd.Client) (Attrs, error) {
		a, err := c.Status()
		return Attrs(a), err
	})
}

func (m *mpdConn) CurrentSong() (Attrs, error) {
	return call(m, "currentsong", func(c *mpd.Client) (Attrs, error) {
		a, err := c.CurrentSong()
		return Attrs(a), err
	})
}

func (m *mpdConn) Play(pos int) error {
	return m.do("play", func(c *mpd.Client) error { return c.Play(pos) })
}

func (m *mpdConn) Pause(pause bool) error {
	return m.do("pause", func(c *mpd.Client) error { return c.Pause(pause) })
}

func (m *mpdConn) Stop() error {
	return m.do("stop", func(c *mpd.Client) error { return c.Stop() })
}

func (m *mpdConn) Next() error {
	return m.do("next", func(c *mpd.Client) error { return c.Next() })
}

func (m *mpdConn) Previous() error {
	return m.do("previous", func(c *mpd.Client) error { return c.Previous() })
}

func (m *mpdConn) SetVolume(volume int) error {
	return m.do("setvol", func(c *mpd.Client) error { return c.SetVolume(volume) })
}

// SetOption toggles one of random, repeat, consume or single.
func (m *mpdConn) SetOption(name string, on bool) error {
	var set func(c *mpd.Client) error
	switch name {
	case "random":
		set = func(c *mpd.Client) error { return c.Random(on) }
	case "repeat":
		set = func(c *mpd.Client) error { return c.Repeat(on) }
	case "consume":
		set = func(c *mpd.Client) error { return c.Consume(on) }
	case "single":
		set = func(c *mpd.Client) error { return c.Single(on) }
	default:
		return fmt.Errorf("unknown option %q: %w", name, ErrUnsupported)
	}
	return m.do(name, set)
}

func (m *mpdConn) ListOutputs() ([]Attrs, error) {
	return call(m, "outputs", func(c *mpd.Client) ([]Attrs, error) {
		list, err := c.ListOutputs()
		return toAttrsList(list), err
	})
}

func (m *mpdConn) EnableOutput(id int) error {
	return m.do("enableoutput", func(c *mpd.Client) error { return c.EnableOutput(id) })
}

func (m *mpdConn) DisableOutput(id int) error {
	return m.do("disableoutput", func(c *mpd.Client) error { return c.DisableOutput(id) })
}

func (m *mpdConn) SetOutputAttribute(id int, name, value string) error {
	return m.do("outputset", func(c *mpd.Client) error {
		return c.Command("outputset %d %s %s", id, name, value).OK()
	})
}

func (m *mpdConn) PlaylistInfo(start, end int) ([]Attrs, error) {
	return call(m, "playlistinfo", func(c *mpd.Client) ([]Attrs, error) {
		list, err := c.PlaylistInfo(start, end)
		return toAttrsList(list), err
	})
}

func (m *mpdConn) ListAllInfo(uri string) ([]Attrs, error) {
	return call(m, "listallinfo", func(c *mpd.Client) ([]Attrs, error) {
		list, err := c.ListAllInfo(uri)
		return toAttrsList(list), err
	})
}

// SongInfo returns the tags of one song. A uri naming a directory or a
// playlist yields ErrNotFound.
func (m *mpdConn) SongInfo(uri string) (Attrs, error) {
	return call(m, "lsinfo", func(c *mpd.Client) (Attrs, error) {
		// lsinfo of a directory lists its entries under the same keys
		a, err := c.Command("lsinfo %s", uri).Attrs()
		if err != nil {
			return nil, err
		}
		if a["file"] != uri {
			return nil, fmt.Errorf("lsinfo %s: %w", uri, ErrNotFound)
		}
		return Attrs(a), nil
	})
}

// StickerFind returns uri -> value for every song carrying sticker name.
func (m *mpdConn) StickerFind(name string) (map[string]string, error) {
	return call(m, "sticker find", func(c *mpd.Client) (map[string]string, error) {
		files, stickers, err := c.StickerFind("", name)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(files))
		for i, f := range files {
			out[f] = stickers[i].Value
		}
		return out, nil
	})
}

func (m *mpdConn) StickerList(uri string) (map[string]string, error) {
	return call(m, "sticker list", func(c *mpd.Client) (map[string]string, error) {
		list, err := c.StickerList(uri)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(list))
		for _, st := range list {
			out[st.Name] = st.Value
		}
		return out, nil
	})
}

func (m *mpdConn) StickerSet(uri, name, value string) error {
	return m.do("sticker set", func(c *mpd.Client) error {
		return c.Command("sticker set song %s %s %s", uri, name, value).OK()
	})
}

func toAttrsList(in []mpd.Attrs) []Attrs {
	out := make([]Attrs, len(in))
	for i, a := range in {
		out[i] = Attrs(a)
	}
	return out
}
