package cache

import (
	"fmt"
	"strconv"

	"mympdgo/internal/backend"
)

// Album is the aggregate stored in the album cache.
type Album struct {
	Name     string   `json:"Album"`
	Artist   string   `json:"AlbumArtist"`
	Songs    int      `json:"SongCount"`
	Duration float64  `json:"Duration"`
	Discs    int      `json:"Discs"`
	FirstURI string   `json:"uri"`
	URIs     []string `json:"-"`
}

// AlbumCache maps an album key to its aggregate.
type AlbumCache = Cache[string, Album]

// NewAlbumCache returns an empty album cache.
func NewAlbumCache() *AlbumCache {
	return New[string, Album]("album")
}

// AlbumKey builds the cache key of an album.
func AlbumKey(artist, album string) string {
	return artist + "::" + album
}

// LibraryLister lists song metadata below a path; "" lists everything.
type LibraryLister interface {
	ListAllInfo(uri string) ([]backend.Attrs, error)
}

// PopulateAlbums builds a full album generation from the backend library.
// Songs without an album tag are skipped; AlbumArtist falls back to Artist.
func PopulateAlbums(src LibraryLister) (map[string]Album, error) {
	songs, err := src.ListAllInfo("")
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	out := make(map[string]Album)
	for _, s := range songs {
		uri, name := s["file"], s["Album"]
		if uri == "" || name == "" {
			continue
		}
		artist := s["AlbumArtist"]
		if artist == "" {
			artist = s["Artist"]
		}
		key := AlbumKey(artist, name)
		a, ok := out[key]
		if !ok {
			a = Album{Name: name, Artist: artist, FirstURI: uri, Discs: 1}
		}
		a.Songs++
		a.URIs = append(a.URIs, uri)
		if d, err := strconv.ParseFloat(s["duration"], 64); err == nil {
			a.Duration += d
		}
		if disc, err := strconv.Atoi(s["Disc"]); err == nil && disc > a.Discs {
			a.Discs = disc
		}
		out[key] = a
	}
	return out, nil
}
