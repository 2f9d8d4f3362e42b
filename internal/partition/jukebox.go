package partition

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"strconv"

	"mympdgo/internal/api"
	"mympdgo/internal/backend"
	"mympdgo/internal/logging"
)

// Jukebox modes.
const (
	JukeboxOff   = "off"
	JukeboxSong  = "song"
	JukeboxAlbum = "album"
)

// state store keys
const (
	keyJukeboxMode   = "jukebox_mode"
	keyJukeboxLength = "jukebox_queue_length"
	keyJukeboxQueue  = "jukebox_queue"
)

// jukebox is the per partition list of songs waiting to be added to the
// backend queue. It works without a backend connection.
type jukebox struct {
	Mode   string
	Length int
	URIs   []string
}

func newJukebox() jukebox {
	return jukebox{Mode: JukeboxOff, Length: 1}
}

func validJukeboxMode(m string) bool {
	switch m {
	case JukeboxOff, JukeboxSong, JukeboxAlbum:
		return true
	}
	return false
}

func (j *jukebox) settings() map[string]string {
	return map[string]string{
		keyJukeboxMode:   j.Mode,
		keyJukeboxLength: strconv.Itoa(j.Length),
	}
}

func (j *jukebox) state() map[string]string {
	st := j.settings()
	b, _ := json.Marshal(j.URIs)
	st[keyJukeboxQueue] = string(b)
	return st
}

func (j *jukebox) load(stored map[string]string) {
	if m := stored[keyJukeboxMode]; validJukeboxMode(m) {
		j.Mode = m
	}
	if n, err := strconv.Atoi(stored[keyJukeboxLength]); err == nil && n > 0 {
		j.Length = n
	}
	if q, ok := stored[keyJukeboxQueue]; ok {
		var uris []string
		if json.Unmarshal([]byte(q), &uris) == nil {
			j.URIs = uris
		}
	}
}

func (w *Worker) jukeboxList(_ context.Context, req *api.Request) (any, error) {
	var p window
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	start, end := p.bounds(len(w.jukebox.URIs))
	return list[string]{
		Data:            append([]string{}, w.jukebox.URIs[start:end]...),
		Offset:          start,
		ReturnedEntries: end - start,
		TotalEntities:   len(w.jukebox.URIs),
	}, nil
}

func (w *Worker) jukeboxAppend(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		URIs []string `json:"uris"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if len(p.URIs) == 0 {
		return nil, invalid("uris are required")
	}
	for _, u := range p.URIs {
		if u == "" {
			return nil, invalid("empty uri")
		}
	}
	w.jukebox.URIs = append(w.jukebox.URIs, p.URIs...)
	w.notify(NotifyJukebox, nil)
	return nil, nil
}

func (w *Worker) jukeboxRemove(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		Positions []int `json:"positions"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if len(p.Positions) == 0 {
		return nil, invalid("positions are required")
	}
	n := len(w.jukebox.URIs)
	pos := append([]int(nil), p.Positions...)
	sort.Sort(sort.Reverse(sort.IntSlice(pos)))
	for i, v := range pos {
		if v < 0 || v >= n || (i > 0 && pos[i-1] == v) {
			return nil, invalid("invalid position %d", v)
		}
	}
	for _, v := range pos {
		w.jukebox.URIs = append(w.jukebox.URIs[:v], w.jukebox.URIs[v+1:]...)
	}
	w.notify(NotifyJukebox, nil)
	return nil, nil
}

func (w *Worker) jukeboxClear(_ context.Context, _ *api.Request) (any, error) {
	w.jukebox.URIs = nil
	w.notify(NotifyJukebox, nil)
	return nil, nil
}

// persist writes values to the state store of this partition.
func (w *Worker) persist(ctx context.Context, values map[string]string) error {
	if w.opts.Store == nil {
		return api.Errorf(api.Internal, "state store is not configured")
	}
	if err := w.opts.Store.PutAll(ctx, w.opts.Name, values); err != nil {
		return api.Errorf(api.Internal, "%v", err)
	}
	return nil
}

// persistKey writes a single value to the state store of this partition.
func (w *Worker) persistKey(ctx context.Context, key, value string) error {
	if w.opts.Store == nil {
		return api.Errorf(api.Internal, "state store is not configured")
	}
	if err := w.opts.Store.Put(ctx, w.opts.Name, key, value); err != nil {
		return api.Errorf(api.Internal, "%v", err)
	}
	return nil
}

func (w *Worker) loadState(ctx context.Context) {
	if w.opts.Store == nil {
		return
	}
	stored, err := w.opts.Store.List(ctx, w.opts.Name)
	if err != nil {
		w.logger.Error(err, "Reading partition state failed")
		return
	}
	w.jukebox.load(stored)
	w.logger.V(logging.DEBUG).Info("Partition state loaded", "jukebox", len(w.jukebox.URIs))

	if w.opts.Name == api.DefaultPartition && w.opts.Levels != nil {
		w.restoreLoglevel(ctx)
	}
}

func (w *Worker) restoreLoglevel(ctx context.Context) {
	v, ok, err := w.opts.Store.Get(ctx, api.DefaultPartition, loglevelKey)
	if err != nil || !ok {
		return
	}
	level, err := strconv.Atoi(v)
	if err != nil || level < 0 || level > 7 {
		w.logger.V(logging.DEBUG).Info("Ignoring stored log level", "loglevel", v)
		return
	}
	w.opts.Levels.SetLevel(level)
	w.logger.V(logging.VERBOSE).Info("Log level restored", "loglevel", level)
}

func (w *Worker) saveState(ctx context.Context) {
	if w.opts.Store == nil {
		return
	}
	if err := w.persist(ctx, w.jukebox.state()); err != nil {
		w.logger.Error(err, "Saving partition state failed")
	}
}

func splitHostPort(a backend.Address) (string, int, bool) {
	if a.Network != "tcp" {
		return "localhost", 6600, false
	}
	host, port, err := net.SplitHostPort(a.Addr)
	if err != nil {
		return a.Addr, 6600, false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return host, 6600, false
	}
	return host, n, true
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
