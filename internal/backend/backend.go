// Package backend is the boundary to the MPD server. Workers talk to it only
// through the Conn and Dialer interfaces.
package backend

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fhs/gompd/v2/mpd"
)

// Attrs is one record of an MPD response.
type Attrs map[string]string

// Address tells a Dialer where to connect.
type Address struct {
	Network   string // "tcp" or "unix"
	Addr      string
	Password  string
	Partition string
}

// Dialer opens backend connections.
type Dialer interface {
	// Dial connects, authenticates and selects the partition. It must give up
	// when ctx is done.
	Dial(ctx context.Context, addr Address) (Conn, error)
}

// Conn is an open backend connection. Calls are blocking and not safe for
// concurrent use; a partition worker owns exactly one Conn.
type Conn interface {
	Ping() error
	Close() error
	Commands() ([]string, error)

	ListPartitions() ([]string, error)
	NewPartition(name string) error
	DeletePartition(name string) error

	Status() (Attrs, error)
	CurrentSong() (Attrs, error)
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Next() error
	Previous() error
	SetVolume(volume int) error
	SetOption(name string, on bool) error

	ListOutputs() ([]Attrs, error)
	EnableOutput(id int) error
	DisableOutput(id int) error
	SetOutputAttribute(id int, name, value string) error

	PlaylistInfo(start, end int) ([]Attrs, error)
	ListAllInfo(uri string) ([]Attrs, error)
	SongInfo(uri string) (Attrs, error)

	StickerFind(name string) (map[string]string, error)
	StickerList(uri string) (map[string]string, error)
	StickerSet(uri, name, value string) error
}

var (
	// ErrTimeout is returned when a dial or a command exceeds its deadline.
	ErrTimeout = errors.New("backend: timeout")
	// ErrClosed is returned by calls on a closed connection.
	ErrClosed = errors.New("backend: connection closed")
	// ErrUnsupported is returned when the server lacks a required command.
	ErrUnsupported = errors.New("backend: command not supported")
	// ErrNotFound is returned when a lookup matched nothing. The connection
	// stays usable.
	ErrNotFound = errors.New("backend: not found")
)

// IsProtocolError reports whether err is an ACK sent by the server. The
// connection is still usable after such an error.
func IsProtocolError(err error) bool {
	var ack mpd.Error
	return errors.As(err, &ack)
}

// IsPermanent reports whether retrying the same connection settings cannot
// succeed, e.g. a rejected password.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnsupported) {
		return true
	}
	var ack mpd.Error
	if !errors.As(err, &ack) {
		return false
	}
	return ack.Code == mpd.ErrorPassword || ack.Code == mpd.ErrorPermission
}

// IsConnectionError reports whether err means the connection is gone and
// must be redialed.
func IsConnectionError(err error) bool {
	if err == nil || IsProtocolError(err) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupported) {
		return false
	}
	switch {
	case errors.Is(err, ErrClosed), errors.Is(err, ErrTimeout),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// a malformed response leaves the rest of it unread on the stream
	var syncErr textproto.ProtocolError
	return errors.As(err, &syncErr)
}

// Features are the capabilities negotiated during the last handshake.
type Features struct {
	Commands   map[string]bool
	Negotiated time.Time
}

// Has reports whether the server accepts cmd.
func (f *Features) Has(cmd string) bool {
	return f != nil && f.Commands[cmd]
}

// Shared holds backend state common to all partitions of one server.
type Shared struct {
	features atomic.Pointer[Features]
}

// NewShared returns an empty Shared.
func NewShared() *Shared {
	return &Shared{}
}

// SetFeatures publishes freshly negotiated features.
func (s *Shared) SetFeatures(cmds []string) *Features {
	f := &Features{Commands: make(map[string]bool, len(cmds)), Negotiated: time.Now()}
	for _, c := range cmds {
		f.Commands[c] = true
	}
	s.features.Store(f)
	return f
}

// Features returns the last negotiated features, nil before the first
// handshake.
func (s *Shared) Features() *Features {
	return s.features.Load()
}
