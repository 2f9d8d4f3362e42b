// Package api holds the command registry and the request/response envelopes
// exchanged between the transport, the dispatcher and the partition workers.
package api

import "strconv"

// CmdID identifies one API method.
type CmdID int

// Command identifiers. The zero value is reserved for "unknown".
const (
	CmdUnknown CmdID = iota

	// connection and settings
	MYMPD_API_CONNECTION_SAVE
	MYMPD_API_SETTINGS_GET
	MYMPD_API_SETTINGS_SET
	MYMPD_API_VIEW_SAVE
	MYMPD_API_LOGLEVEL

	// player
	MYMPD_API_PLAYER_STATE
	MYMPD_API_PLAYER_PLAY
	MYMPD_API_PLAYER_PAUSE
	MYMPD_API_PLAYER_STOP
	MYMPD_API_PLAYER_NEXT
	MYMPD_API_PLAYER_PREV
	MYMPD_API_PLAYER_VOLUME_GET
	MYMPD_API_PLAYER_VOLUME_SET
	MYMPD_API_PLAYER_VOLUME_CHANGE
	MYMPD_API_PLAYER_OUTPUT_LIST
	MYMPD_API_PLAYER_OUTPUT_TOGGLE
	MYMPD_API_PLAYER_OUTPUT_ATTRIBUTES_SET

	// queue and jukebox
	MYMPD_API_QUEUE_LIST
	MYMPD_API_JUKEBOX_LIST
	MYMPD_API_JUKEBOX_APPEND_URIS
	MYMPD_API_JUKEBOX_RM
	MYMPD_API_JUKEBOX_CLEAR

	// library, caches and stickers
	MYMPD_API_ALBUM_LIST
	MYMPD_API_ALBUM_DETAIL
	MYMPD_API_SONG_DETAILS
	MYMPD_API_LIKE
	MYMPD_API_CACHES_CREATE

	// partitions
	MYMPD_API_PARTITION_LIST
	MYMPD_API_PARTITION_NEW
	MYMPD_API_PARTITION_RM

	// internal signaling, never part of the documented surface
	INTERNAL_API_STATE_SAVE
	INTERNAL_API_CONNECT
	INTERNAL_API_DISCONNECT
)

// cmdDef is one row of the registry table.
type cmdDef struct {
	id           CmdID
	name         string
	protected    bool
	public       bool
	disconnected bool
}

// cmdTable is the declarative source of the registry. Each identifier appears
// exactly once.
var cmdTable = []cmdDef{
	{MYMPD_API_CONNECTION_SAVE, "MYMPD_API_CONNECTION_SAVE", true, true, true},
	{MYMPD_API_SETTINGS_GET, "MYMPD_API_SETTINGS_GET", false, true, true},
	{MYMPD_API_SETTINGS_SET, "MYMPD_API_SETTINGS_SET", true, true, false},
	{MYMPD_API_VIEW_SAVE, "MYMPD_API_VIEW_SAVE", false, true, true},
	{MYMPD_API_LOGLEVEL, "MYMPD_API_LOGLEVEL", true, true, true},

	{MYMPD_API_PLAYER_STATE, "MYMPD_API_PLAYER_STATE", false, true, false},
	{MYMPD_API_PLAYER_PLAY, "MYMPD_API_PLAYER_PLAY", false, true, false},
	{MYMPD_API_PLAYER_PAUSE, "MYMPD_API_PLAYER_PAUSE", false, true, false},
	{MYMPD_API_PLAYER_STOP, "MYMPD_API_PLAYER_STOP", false, true, false},
	{MYMPD_API_PLAYER_NEXT, "MYMPD_API_PLAYER_NEXT", false, true, false},
	{MYMPD_API_PLAYER_PREV, "MYMPD_API_PLAYER_PREV", false, true, false},
	{MYMPD_API_PLAYER_VOLUME_GET, "MYMPD_API_PLAYER_VOLUME_GET", false, true, false},
	{MYMPD_API_PLAYER_VOLUME_SET, "MYMPD_API_PLAYER_VOLUME_SET", false, true, false},
	{MYMPD_API_PLAYER_VOLUME_CHANGE, "MYMPD_API_PLAYER_VOLUME_CHANGE", false, true, false},
	{MYMPD_API_PLAYER_OUTPUT_LIST, "MYMPD_API_PLAYER_OUTPUT_LIST", false, true, false},
	{MYMPD_API_PLAYER_OUTPUT_TOGGLE, "MYMPD_API_PLAYER_OUTPUT_TOGGLE", false, true, false},
	{MYMPD_API_PLAYER_OUTPUT_ATTRIBUTES_SET, "MYMPD_API_PLAYER_OUTPUT_ATTRIBUTES_SET", false, true, false},

	{MYMPD_API_QUEUE_LIST, "MYMPD_API_QUEUE_LIST", false, true, false},
	{MYMPD_API_JUKEBOX_LIST, "MYMPD_API_JUKEBOX_LIST", false, true, true},
	{MYMPD_API_JUKEBOX_APPEND_URIS, "MYMPD_API_JUKEBOX_APPEND_URIS", false, true, true},
	{MYMPD_API_JUKEBOX_RM, "MYMPD_API_JUKEBOX_RM", false, true, true},
	{MYMPD_API_JUKEBOX_CLEAR, "MYMPD_API_JUKEBOX_CLEAR", false, true, true},

	{MYMPD_API_ALBUM_LIST, "MYMPD_API_ALBUM_LIST", false, true, false},
	{MYMPD_API_ALBUM_DETAIL, "MYMPD_API_ALBUM_DETAIL", false, true, false},
	{MYMPD_API_SONG_DETAILS, "MYMPD_API_SONG_DETAILS", false, true, false},
	{MYMPD_API_LIKE, "MYMPD_API_LIKE", false, true, false},
	{MYMPD_API_CACHES_CREATE, "MYMPD_API_CACHES_CREATE", false, true, false},

	{MYMPD_API_PARTITION_LIST, "MYMPD_API_PARTITION_LIST", false, true, false},
	{MYMPD_API_PARTITION_NEW, "MYMPD_API_PARTITION_NEW", true, true, false},
	{MYMPD_API_PARTITION_RM, "MYMPD_API_PARTITION_RM", true, true, false},

	{INTERNAL_API_STATE_SAVE, "INTERNAL_API_STATE_SAVE", true, false, true},
	{INTERNAL_API_CONNECT, "INTERNAL_API_CONNECT", true, false, true},
	{INTERNAL_API_DISCONNECT, "INTERNAL_API_DISCONNECT", true, false, true},
}

var (
	byID   map[CmdID]cmdDef
	byName map[string]CmdID
	order  []CmdID
)

func init() {
	byID = make(map[CmdID]cmdDef, len(cmdTable))
	byName = make(map[string]CmdID, len(cmdTable))
	order = make([]CmdID, 0, len(cmdTable))
	for _, d := range cmdTable {
		if _, dup := byID[d.id]; dup {
			panic("api: duplicate command id " + d.name)
		}
		if _, dup := byName[d.name]; dup {
			panic("api: duplicate command name " + d.name)
		}
		byID[d.id] = d
		byName[d.name] = d.id
		order = append(order, d.id)
	}
}

// Lookup returns the identifier registered under name.
func Lookup(name string) (CmdID, bool) {
	id, ok := byName[name]
	return id, ok
}

// Name returns the canonical method name of id, or "" if id is not registered.
func Name(id CmdID) string {
	return byID[id].name
}

// String implements fmt.Stringer.
func (id CmdID) String() string {
	if d, ok := byID[id]; ok {
		return d.name
	}
	return "CmdID(" + strconv.Itoa(int(id)) + ")"
}

// IsProtected reports whether id may alter server-wide state and therefore
// requires a privileged caller.
func IsProtected(id CmdID) bool {
	return byID[id].protected
}

// IsPublic reports whether id belongs to the documented API surface.
func IsPublic(id CmdID) bool {
	return byID[id].public
}

// UsableWhileDisconnected reports whether id can be served without a backend
// connection.
func UsableWhileDisconnected(id CmdID) bool {
	return byID[id].disconnected
}

// Commands returns all registered identifiers in table order.
func Commands() []CmdID {
	out := make([]CmdID, len(order))
	copy(out, order)
	return out
}
