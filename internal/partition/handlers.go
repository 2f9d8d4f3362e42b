package partition

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"mympdgo/internal/api"
	"mympdgo/internal/backend"
	"mympdgo/internal/cache"
	"mympdgo/internal/logging"
)

type handlerFunc func(w *Worker, ctx context.Context, req *api.Request) (any, error)

var handlers = map[api.CmdID]handlerFunc{
	api.MYMPD_API_CONNECTION_SAVE: (*Worker).connectionSave,
	api.MYMPD_API_SETTINGS_GET:    (*Worker).settingsGet,
	api.MYMPD_API_SETTINGS_SET:    (*Worker).settingsSet,
	api.MYMPD_API_VIEW_SAVE:       (*Worker).viewSave,
	api.MYMPD_API_LOGLEVEL:        (*Worker).loglevel,

	api.MYMPD_API_PLAYER_STATE:                 (*Worker).playerState,
	api.MYMPD_API_PLAYER_PLAY:                  (*Worker).playerPlay,
	api.MYMPD_API_PLAYER_PAUSE:                 simple(func(c backend.Conn) error { return c.Pause(true) }),
	api.MYMPD_API_PLAYER_STOP:                  simple(backend.Conn.Stop),
	api.MYMPD_API_PLAYER_NEXT:                  simple(backend.Conn.Next),
	api.MYMPD_API_PLAYER_PREV:                  simple(backend.Conn.Previous),
	api.MYMPD_API_PLAYER_VOLUME_GET:            (*Worker).volumeGet,
	api.MYMPD_API_PLAYER_VOLUME_SET:            (*Worker).volumeSet,
	api.MYMPD_API_PLAYER_VOLUME_CHANGE:         (*Worker).volumeChange,
	api.MYMPD_API_PLAYER_OUTPUT_LIST:           (*Worker).outputList,
	api.MYMPD_API_PLAYER_OUTPUT_TOGGLE:         (*Worker).outputToggle,
	api.MYMPD_API_PLAYER_OUTPUT_ATTRIBUTES_SET: (*Worker).outputAttributesSet,

	api.MYMPD_API_QUEUE_LIST:          (*Worker).queueList,
	api.MYMPD_API_JUKEBOX_LIST:        (*Worker).jukeboxList,
	api.MYMPD_API_JUKEBOX_APPEND_URIS: (*Worker).jukeboxAppend,
	api.MYMPD_API_JUKEBOX_RM:          (*Worker).jukeboxRemove,
	api.MYMPD_API_JUKEBOX_CLEAR:       (*Worker).jukeboxClear,

	api.MYMPD_API_ALBUM_LIST:    (*Worker).albumList,
	api.MYMPD_API_ALBUM_DETAIL:  (*Worker).albumDetail,
	api.MYMPD_API_SONG_DETAILS:  (*Worker).songDetails,
	api.MYMPD_API_LIKE:          (*Worker).like,
	api.MYMPD_API_CACHES_CREATE: (*Worker).cachesCreate,

	api.MYMPD_API_PARTITION_LIST: (*Worker).partitionList,
	api.MYMPD_API_PARTITION_NEW:  (*Worker).partitionNew,
	api.MYMPD_API_PARTITION_RM:   (*Worker).partitionRemove,

	api.INTERNAL_API_STATE_SAVE: (*Worker).stateSave,
	api.INTERNAL_API_CONNECT:    (*Worker).internalConnect,
	api.INTERNAL_API_DISCONNECT: (*Worker).internalDisconnect,
}

// simple wraps a parameterless player command.
func simple(call func(backend.Conn) error) handlerFunc {
	return func(w *Worker, _ context.Context, _ *api.Request) (any, error) {
		if err := call(w.conn); err != nil {
			return nil, w.backendErr(err)
		}
		w.notify(NotifyState, nil)
		return nil, nil
	}
}

// list is the envelope of every list result.
type list[T any] struct {
	Data            []T    `json:"data"`
	Offset          int    `json:"offset"`
	ReturnedEntries int    `json:"returnedEntities"`
	TotalEntities   int    `json:"totalEntities"`
	Generation      uint64 `json:"cacheGeneration,omitempty"`
}

type window struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// bounds clips the window to n entries. A non-positive limit means all.
func (p window) bounds(n int) (int, int) {
	start := min(max(p.Offset, 0), n)
	end := n
	if p.Limit > 0 {
		end = min(start+p.Limit, n)
	}
	return start, end
}

func invalid(format string, args ...any) error {
	return api.Errorf(api.InvalidParams, format, args...)
}

// connection and settings

type connectionParams struct {
	Host     *string `json:"mpdHost"`
	Port     *int    `json:"mpdPort"`
	Socket   *string `json:"mpdSocket"`
	Password *string `json:"mpdPass"`
}

func (w *Worker) connectionSave(ctx context.Context, req *api.Request) (any, error) {
	var p connectionParams
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	host, port, _ := splitHostPort(w.addr)
	if p.Host != nil {
		host = *p.Host
	}
	if p.Port != nil {
		if *p.Port <= 0 || *p.Port > 65535 {
			return nil, invalid("invalid port %d", *p.Port)
		}
		port = *p.Port
	}
	if p.Password != nil {
		w.addr.Password = *p.Password
	}
	switch {
	case p.Socket != nil && *p.Socket != "":
		w.addr.Network, w.addr.Addr = "unix", *p.Socket
	default:
		w.addr.Network, w.addr.Addr = "tcp", joinHostPort(host, port)
	}
	w.logger.V(logging.DEFAULT).Info("Connection settings changed", "addr", w.addr.Addr)

	w.disconnect()
	w.permErr = nil
	w.backoff.Reset()
	w.connect(ctx)
	if w.permErr != nil {
		err := w.permErr
		w.permErr = nil
		return nil, api.Errorf(api.BackendError, "connection failed: %v", err)
	}
	return nil, nil
}

type settings struct {
	Partition   string         `json:"partition"`
	State       string         `json:"connectionState"`
	Network     string         `json:"mpdNetwork"`
	Addr        string         `json:"mpdAddr"`
	LastError   string         `json:"lastError,omitempty"`
	Features    []string       `json:"features"`
	JukeboxMode string         `json:"jukeboxMode"`
	JukeboxLen  int            `json:"jukeboxQueueLength"`
	LogLevel    *int           `json:"loglevel,omitempty"`
	StartupTime int64          `json:"startupTime,omitempty"`
	Views       map[string]any `json:"views,omitempty"`
	Status      backend.Attrs  `json:"status,omitempty"`
}

func (w *Worker) settingsGet(ctx context.Context, _ *api.Request) (any, error) {
	s := settings{
		Partition:   w.opts.Name,
		State:       w.State().String(),
		Network:     w.addr.Network,
		Addr:        w.addr.Addr,
		Features:    []string{},
		JukeboxMode: w.jukebox.Mode,
		JukeboxLen:  w.jukebox.Length,
	}
	if t := w.opts.Config.StartupTime; !t.IsZero() {
		s.StartupTime = t.Unix()
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	if f := w.opts.Shared.Features(); f != nil {
		for c := range f.Commands {
			s.Features = append(s.Features, c)
		}
		sort.Strings(s.Features)
	}
	if w.opts.Levels != nil {
		l := w.opts.Levels.Level()
		s.LogLevel = &l
	}
	if w.opts.Store != nil {
		stored, err := w.opts.Store.List(ctx, w.opts.Name)
		if err != nil {
			return nil, api.Errorf(api.Internal, "%v", err)
		}
		for k, v := range stored {
			name, ok := strings.CutPrefix(k, viewPrefix)
			if !ok {
				continue
			}
			if s.Views == nil {
				s.Views = make(map[string]any)
			}
			var fields []string
			if json.Unmarshal([]byte(v), &fields) == nil {
				s.Views[name] = fields
			}
		}
	}
	if w.State() == Connected {
		if st, err := w.conn.Status(); err == nil {
			s.Status = st
		} else {
			_ = w.backendErr(err)
		}
	}
	return s, nil
}

type settingsParams struct {
	Random             *bool   `json:"random"`
	Repeat             *bool   `json:"repeat"`
	Consume            *bool   `json:"consume"`
	Single             *bool   `json:"single"`
	JukeboxMode        *string `json:"jukeboxMode"`
	JukeboxQueueLength *int    `json:"jukeboxQueueLength"`
}

func (w *Worker) settingsSet(ctx context.Context, req *api.Request) (any, error) {
	var p settingsParams
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.JukeboxMode != nil && !validJukeboxMode(*p.JukeboxMode) {
		return nil, invalid("invalid jukebox mode %q", *p.JukeboxMode)
	}
	if p.JukeboxQueueLength != nil && (*p.JukeboxQueueLength < 1 || *p.JukeboxQueueLength > 999) {
		return nil, invalid("jukebox queue length out of range: %d", *p.JukeboxQueueLength)
	}
	for _, opt := range []struct {
		name string
		on   *bool
	}{{"random", p.Random}, {"repeat", p.Repeat}, {"consume", p.Consume}, {"single", p.Single}} {
		if opt.on == nil {
			continue
		}
		if err := w.conn.SetOption(opt.name, *opt.on); err != nil {
			return nil, w.backendErr(err)
		}
	}
	if p.JukeboxMode != nil {
		w.jukebox.Mode = *p.JukeboxMode
	}
	if p.JukeboxQueueLength != nil {
		w.jukebox.Length = *p.JukeboxQueueLength
	}
	if err := w.persist(ctx, w.jukebox.settings()); err != nil {
		return nil, err
	}
	w.notify(NotifyState, nil)
	return nil, nil
}

const viewPrefix = "view_"

type viewParams struct {
	View   string   `json:"view"`
	Fields []string `json:"fields"`
}

func (w *Worker) viewSave(ctx context.Context, req *api.Request) (any, error) {
	var p viewParams
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.View == "" {
		return nil, invalid("view name is required")
	}
	if p.Fields == nil {
		p.Fields = []string{}
	}
	b, err := json.Marshal(p.Fields)
	if err != nil {
		return nil, invalid("%v", err)
	}
	return nil, w.persistKey(ctx, viewPrefix+p.View, string(b))
}

const loglevelKey = "loglevel"

func (w *Worker) loglevel(ctx context.Context, req *api.Request) (any, error) {
	var p struct {
		Level *int `json:"loglevel"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.Level == nil || *p.Level < 0 || *p.Level > 7 {
		return nil, invalid("loglevel must be between 0 and 7")
	}
	if w.opts.Levels == nil {
		return nil, api.Errorf(api.Internal, "log level is not adjustable")
	}
	w.opts.Levels.SetLevel(*p.Level)
	w.logger.Info("Log level changed", "loglevel", *p.Level)
	if w.opts.Store == nil {
		return nil, nil
	}
	// the level is process wide and restored by the default partition
	if err := w.opts.Store.Put(ctx, api.DefaultPartition, loglevelKey, strconv.Itoa(*p.Level)); err != nil {
		return nil, api.Errorf(api.Internal, "%v", err)
	}
	return nil, nil
}

// player

type playerState struct {
	State          string          `json:"state"`
	Volume         int             `json:"volume"`
	SongPos        int             `json:"songPos"`
	Elapsed        float64         `json:"elapsedTime"`
	Duration       float64         `json:"totalTime"`
	QueueLength    int             `json:"queueLength"`
	Random         bool            `json:"random"`
	Repeat         bool            `json:"repeat"`
	Consume        bool            `json:"consume"`
	Single         bool            `json:"single"`
	CurrentSong    backend.Attrs   `json:"currentSong,omitempty"`
	CurrentSticker *cache.Stickers `json:"stickers,omitempty"`
}

func (w *Worker) playerState(_ context.Context, _ *api.Request) (any, error) {
	st, err := w.conn.Status()
	if err != nil {
		return nil, w.backendErr(err)
	}
	song, err := w.conn.CurrentSong()
	if err != nil {
		return nil, w.backendErr(err)
	}
	ps := playerState{
		State:       st["state"],
		Volume:      atoi(st["volume"], -1),
		SongPos:     atoi(st["song"], -1),
		Elapsed:     atof(st["elapsed"]),
		Duration:    atof(st["duration"]),
		QueueLength: atoi(st["playlistlength"], 0),
		Random:      st["random"] == "1",
		Repeat:      st["repeat"] == "1",
		Consume:     st["consume"] == "1",
		Single:      st["single"] == "1",
	}
	if len(song) > 0 {
		ps.CurrentSong = song
		_ = w.opts.Stickers.View(func(g *cache.Generation[string, cache.Stickers]) error {
			if s, ok := g.Get(song["file"]); ok {
				ps.CurrentSticker = &s
			}
			return nil
		})
	}
	return ps, nil
}

func (w *Worker) playerPlay(_ context.Context, req *api.Request) (any, error) {
	p := struct {
		SongPos int `json:"songPos"`
	}{SongPos: -1}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if err := w.conn.Play(p.SongPos); err != nil {
		return nil, w.backendErr(err)
	}
	w.notify(NotifyState, nil)
	return nil, nil
}

func (w *Worker) volumeGet(_ context.Context, _ *api.Request) (any, error) {
	st, err := w.conn.Status()
	if err != nil {
		return nil, w.backendErr(err)
	}
	return map[string]int{"volume": atoi(st["volume"], -1)}, nil
}

type volumeParams struct {
	Volume *int `json:"volume"`
}

func (w *Worker) volumeSet(_ context.Context, req *api.Request) (any, error) {
	var p volumeParams
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.Volume == nil || *p.Volume < 0 || *p.Volume > 100 {
		return nil, invalid("volume must be between 0 and 100")
	}
	return w.setVolume(*p.Volume)
}

func (w *Worker) volumeChange(_ context.Context, req *api.Request) (any, error) {
	var p volumeParams
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.Volume == nil || *p.Volume < -100 || *p.Volume > 100 {
		return nil, invalid("volume change must be between -100 and 100")
	}
	st, err := w.conn.Status()
	if err != nil {
		return nil, w.backendErr(err)
	}
	cur := atoi(st["volume"], -1)
	if cur < 0 {
		return nil, api.Errorf(api.BackendError, "volume is not controllable")
	}
	return w.setVolume(min(max(cur+*p.Volume, 0), 100))
}

func (w *Worker) setVolume(v int) (any, error) {
	if err := w.conn.SetVolume(v); err != nil {
		return nil, w.backendErr(err)
	}
	w.notify(NotifyState, map[string]int{"volume": v})
	return map[string]int{"volume": v}, nil
}

type output struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	Enabled    bool              `json:"state"`
	Plugin     string            `json:"plugin"`
	Attributes map[string]string `json:"attributes"`
}

func (w *Worker) outputList(_ context.Context, _ *api.Request) (any, error) {
	outs, err := w.conn.ListOutputs()
	if err != nil {
		return nil, w.backendErr(err)
	}
	res := list[output]{Data: make([]output, 0, len(outs))}
	for _, o := range outs {
		out := output{
			ID:         atoi(o["outputid"], -1),
			Name:       o["outputname"],
			Enabled:    o["outputenabled"] == "1",
			Plugin:     o["plugin"],
			Attributes: map[string]string{},
		}
		for k, v := range o {
			if name, ok := strings.CutPrefix(k, "attribute:"); ok {
				out.Attributes[name] = v
			}
		}
		res.Data = append(res.Data, out)
	}
	res.ReturnedEntries = len(res.Data)
	res.TotalEntities = len(res.Data)
	return res, nil
}

func (w *Worker) outputToggle(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		ID    *int `json:"outputId"`
		State int  `json:"state"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.ID == nil || *p.ID < 0 {
		return nil, invalid("outputId is required")
	}
	var err error
	if p.State == 1 {
		err = w.conn.EnableOutput(*p.ID)
	} else {
		err = w.conn.DisableOutput(*p.ID)
	}
	if err != nil {
		return nil, w.backendErr(err)
	}
	w.notify(NotifyState, nil)
	return nil, nil
}

func (w *Worker) outputAttributesSet(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		ID         *int              `json:"outputId"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.ID == nil || *p.ID < 0 {
		return nil, invalid("outputId is required")
	}
	if !w.opts.Shared.Features().Has("outputset") {
		return nil, api.Errorf(api.BackendError, "outputset: %v", backend.ErrUnsupported)
	}
	names := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.conn.SetOutputAttribute(*p.ID, name, p.Attributes[name]); err != nil {
			return nil, w.backendErr(err)
		}
	}
	return nil, nil
}

// queue

func (w *Worker) queueList(_ context.Context, req *api.Request) (any, error) {
	var p window
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	st, err := w.conn.Status()
	if err != nil {
		return nil, w.backendErr(err)
	}
	total := atoi(st["playlistlength"], 0)
	start, end := p.bounds(total)
	songs, err := w.conn.PlaylistInfo(start, end)
	if err != nil {
		return nil, w.backendErr(err)
	}
	return list[backend.Attrs]{
		Data:            songs,
		Offset:          start,
		ReturnedEntries: len(songs),
		TotalEntities:   total,
	}, nil
}

// albums, songs and stickers

func (w *Worker) albumList(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		window
		Search string `json:"searchstr"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	search := strings.ToLower(p.Search)
	var res list[cache.Album]
	err := w.opts.Albums.View(func(g *cache.Generation[string, cache.Album]) error {
		all := make([]cache.Album, 0, g.Len())
		g.Range(func(_ string, a cache.Album) bool {
			if search == "" || strings.Contains(strings.ToLower(a.Name), search) ||
				strings.Contains(strings.ToLower(a.Artist), search) {
				all = append(all, a)
			}
			return true
		})
		sort.Slice(all, func(i, j int) bool {
			if all[i].Artist != all[j].Artist {
				return all[i].Artist < all[j].Artist
			}
			return all[i].Name < all[j].Name
		})
		start, end := p.bounds(len(all))
		res = list[cache.Album]{
			Data:            all[start:end],
			Offset:          start,
			ReturnedEntries: end - start,
			TotalEntities:   len(all),
			Generation:      g.Seq,
		}
		return nil
	})
	return res, err
}

type albumDetail struct {
	cache.Album
	Songs []string `json:"songs"`
}

func (w *Worker) albumDetail(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		Artist string `json:"albumartist"`
		Album  string `json:"album"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	var res albumDetail
	err := w.opts.Albums.View(func(g *cache.Generation[string, cache.Album]) error {
		a, ok := g.Get(cache.AlbumKey(p.Artist, p.Album))
		if !ok {
			return invalid("album %q by %q not found", p.Album, p.Artist)
		}
		res = albumDetail{Album: a, Songs: append([]string(nil), a.URIs...)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type songDetails struct {
	Song     backend.Attrs  `json:"song"`
	Stickers cache.Stickers `json:"stickers"`
}

func (w *Worker) songDetails(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, invalid("uri is required")
	}
	song, err := w.conn.SongInfo(p.URI)
	if err != nil {
		return nil, w.backendErr(err)
	}
	res := songDetails{Song: song, Stickers: cache.NewStickers()}
	cached := false
	_ = w.opts.Stickers.View(func(g *cache.Generation[string, cache.Stickers]) error {
		res.Stickers, cached = g.Get(p.URI)
		if !cached {
			res.Stickers = cache.NewStickers()
		}
		return nil
	})
	if cached || !w.opts.Shared.Features().Has("sticker") {
		return res, nil
	}
	stored, err := w.conn.StickerList(p.URI)
	switch {
	case backend.IsProtocolError(err):
		// a song without stickers
	case err != nil:
		return nil, w.backendErr(err)
	default:
		for name, value := range stored {
			if err := res.Stickers.Set(name, value); err != nil {
				w.logger.V(logging.DEBUG).Info("Ignoring sticker", "uri", p.URI, "err", err.Error())
			}
		}
	}
	return res, nil
}

func (w *Worker) like(_ context.Context, req *api.Request) (any, error) {
	var p struct {
		URI  string `json:"uri"`
		Like *int   `json:"like"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.URI == "" || p.Like == nil || *p.Like < cache.LikeHate || *p.Like > cache.LikeLove {
		return nil, invalid("uri and like (0-2) are required")
	}
	if !w.opts.Shared.Features().Has("sticker") {
		return nil, api.Errorf(api.BackendError, "sticker: %v", backend.ErrUnsupported)
	}
	value := strconv.Itoa(*p.Like)
	if err := w.conn.StickerSet(p.URI, cache.StickerLike, value); err != nil {
		return nil, w.backendErr(err)
	}
	w.refreshSticker(p.URI, cache.StickerLike, value)
	return nil, nil
}

// refreshSticker publishes a sticker change as a new generation of the
// sticker cache. Nothing happens before the first build or while a rebuild
// is running; the rebuild reads the new value from the server.
func (w *Worker) refreshSticker(uri, name, value string) {
	if w.opts.Stickers.Seq() == 0 {
		return
	}
	r, err := w.opts.Stickers.BeginRebuild()
	if err != nil {
		w.logger.V(logging.DEBUG).Info("Sticker cache busy, not updated", "uri", uri)
		return
	}
	g := w.opts.Stickers.Acquire()
	entries := make(map[string]cache.Stickers, g.Len()+1)
	g.Range(func(k string, v cache.Stickers) bool {
		entries[k] = v
		return true
	})
	g.Release()

	st, ok := entries[uri]
	if !ok {
		st = cache.NewStickers()
	}
	if err := st.Set(name, value); err != nil {
		r.Abort()
		return
	}
	entries[uri] = st
	r.Commit(entries)
}

// cachesCreate rebuilds the album cache and, when the backend supports
// stickers, the sticker cache. Both writer slots are claimed before anything
// is read so that either both caches advance or neither does.
func (w *Worker) cachesCreate(_ context.Context, _ *api.Request) (any, error) {
	albums, err := w.opts.Albums.BeginRebuild()
	if err != nil {
		return nil, err
	}
	var stickers *cache.Rebuild[string, cache.Stickers]
	if w.opts.Shared.Features().Has("sticker") {
		if stickers, err = w.opts.Stickers.BeginRebuild(); err != nil {
			albums.Abort()
			return nil, err
		}
	}
	abort := func() {
		albums.Abort()
		if stickers != nil {
			stickers.Abort()
		}
	}

	albumEntries, err := cache.PopulateAlbums(w.conn)
	if err != nil {
		abort()
		return nil, w.backendErr(err)
	}
	var stickerEntries map[string]cache.Stickers
	if stickers != nil {
		if stickerEntries, err = cache.PopulateStickers(w.conn); err != nil {
			abort()
			return nil, w.backendErr(err)
		}
	}

	ag := albums.Commit(albumEntries)
	res := map[string]uint64{"album": ag.Seq}
	if stickers != nil {
		res["sticker"] = stickers.Commit(stickerEntries).Seq
	}
	w.logger.V(logging.VERBOSE).Info("Caches rebuilt", "albums", ag.Len())
	w.notify(NotifyCache, res)
	return res, nil
}

// partitions

type partitionEntry struct {
	Name string `json:"name"`
}

func (w *Worker) partitionList(_ context.Context, _ *api.Request) (any, error) {
	names, err := w.conn.ListPartitions()
	if err != nil {
		return nil, w.backendErr(err)
	}
	sort.Strings(names)
	res := list[partitionEntry]{Data: make([]partitionEntry, 0, len(names))}
	for _, n := range names {
		res.Data = append(res.Data, partitionEntry{Name: n})
	}
	res.ReturnedEntries = len(res.Data)
	res.TotalEntities = len(res.Data)
	return res, nil
}

func partitionName(req *api.Request) (string, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := req.DecodeParams(&p); err != nil {
		return "", err
	}
	if p.Name == "" || strings.ContainsAny(p.Name, " /\t\n") {
		return "", invalid("invalid partition name %q", p.Name)
	}
	return p.Name, nil
}

func (w *Worker) partitionNew(ctx context.Context, req *api.Request) (any, error) {
	name, err := partitionName(req)
	if err != nil {
		return nil, err
	}
	if err := w.conn.NewPartition(name); err != nil {
		return nil, w.backendErr(err)
	}
	if w.opts.Registrar != nil {
		if err := w.opts.Registrar.AddPartition(ctx, name); err != nil {
			return nil, api.Errorf(api.Internal, "start worker for %s: %v", name, err)
		}
	}
	return nil, nil
}

func (w *Worker) partitionRemove(ctx context.Context, req *api.Request) (any, error) {
	name, err := partitionName(req)
	if err != nil {
		return nil, err
	}
	if name == api.DefaultPartition || name == w.opts.Name {
		return nil, invalid("partition %s can not be removed here", name)
	}
	if w.opts.Registrar != nil {
		if err := w.opts.Registrar.RemovePartition(name); err != nil {
			return nil, api.Errorf(api.UnknownPartition, "%v", err)
		}
	}
	if err := w.conn.DeletePartition(name); err != nil {
		return nil, w.backendErr(err)
	}
	if w.opts.Store != nil {
		if err := w.opts.Store.DeletePartition(ctx, name); err != nil {
			return nil, api.Errorf(api.Internal, "%v", err)
		}
	}
	return nil, nil
}

// internal

func (w *Worker) stateSave(ctx context.Context, _ *api.Request) (any, error) {
	return nil, w.persist(ctx, w.jukebox.state())
}

func (w *Worker) internalConnect(ctx context.Context, _ *api.Request) (any, error) {
	w.permErr = nil
	w.backoff.Reset()
	w.connect(ctx)
	if w.State() != Connected {
		return nil, api.Errorf(api.BackendUnavailable, "connect: %v", w.lastErr)
	}
	return nil, nil
}

func (w *Worker) internalDisconnect(_ context.Context, _ *api.Request) (any, error) {
	w.disconnect()
	return nil, nil
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
