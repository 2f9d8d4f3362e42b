package cache

import (
	"fmt"
	"strconv"
)

// Sticker names maintained by the service.
const (
	StickerPlayCount   = "playCount"
	StickerSkipCount   = "skipCount"
	StickerLike        = "like"
	StickerLastPlayed  = "lastPlayed"
	StickerLastSkipped = "lastSkipped"
	StickerElapsed     = "elapsed"
)

// StickerNames lists the stickers loaded into the sticker cache.
var StickerNames = []string{
	StickerPlayCount,
	StickerSkipCount,
	StickerLike,
	StickerLastPlayed,
	StickerLastSkipped,
	StickerElapsed,
}

// Like values.
const (
	LikeHate    = 0
	LikeNeutral = 1
	LikeLove    = 2
)

// Stickers are the parsed stickers of one song.
type Stickers struct {
	PlayCount   int   `json:"playCount"`
	SkipCount   int   `json:"skipCount"`
	Like        int   `json:"like"`
	LastPlayed  int64 `json:"lastPlayed"`
	LastSkipped int64 `json:"lastSkipped"`
	Elapsed     int   `json:"elapsed"`
}

// NewStickers returns the stickers of a song that has none.
func NewStickers() Stickers {
	return Stickers{Like: LikeNeutral}
}

// Set parses value into the field for name. Unknown names are ignored.
func (s *Stickers) Set(name, value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("sticker %s: %w", name, err)
	}
	switch name {
	case StickerPlayCount:
		s.PlayCount = int(n)
	case StickerSkipCount:
		s.SkipCount = int(n)
	case StickerLike:
		s.Like = int(n)
	case StickerLastPlayed:
		s.LastPlayed = n
	case StickerLastSkipped:
		s.LastSkipped = n
	case StickerElapsed:
		s.Elapsed = int(n)
	}
	return nil
}

// StickerCache maps a song uri to its stickers.
type StickerCache = Cache[string, Stickers]

// NewStickerCache returns an empty sticker cache.
func NewStickerCache() *StickerCache {
	return New[string, Stickers]("sticker")
}

// StickerFinder returns uri -> value for every song carrying a sticker.
type StickerFinder interface {
	StickerFind(name string) (map[string]string, error)
}

// PopulateStickers builds a full sticker generation from the backend.
// Unparsable values are skipped.
func PopulateStickers(src StickerFinder) (map[string]Stickers, error) {
	out := make(map[string]Stickers)
	for _, name := range StickerNames {
		found, err := src.StickerFind(name)
		if err != nil {
			return nil, fmt.Errorf("find sticker %s: %w", name, err)
		}
		for uri, value := range found {
			st, ok := out[uri]
			if !ok {
				st = NewStickers()
			}
			if st.Set(name, value) == nil {
				out[uri] = st
			}
		}
	}
	return out, nil
}
