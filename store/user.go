package store

import "sync/atomic"

// User is keyed by its 32-character passkey in the Store's Users map.
// Leeching/Seeding are live counters kept in sync with the peer maps across
// every torrent: incremented/decremented exactly when a peer referencing
// this user is inserted into or removed from a torrent's Seeders/Leechers
// map, or when a live peer's owning user is rekeyed (see announce.go
// ownership-transfer handling).
//
// Grounded on chihaya's atomic-field User (database/types/user.go),
// generalized with the passkey, leech/protect flags, live counters and
// tombstone this lineage's data model requires but chihaya's
// freeleech-multiplier scheme does not carry.
type User struct {
	ID atomic.Uint32
	Passkey string

	Leech atomic.Bool
	Protect atomic.Bool

	Leeching atomic.Int32
	Seeding atomic.Int32

	Deleted atomic.Bool
}

func NewUser(id uint32, passkey string, leech, protect bool) *User {
	u := &User{Passkey: passkey}
	u.ID.Store(id)
	u.Leech.Store(leech)
	u.Protect.Store(protect)

	return u
}

type UserTorrentPair struct {
	UserID uint32
	TorrentID uint32
}
