package store

import (
	"sync"
	"sync/atomic"
)

type FreeleechVariant uint8

const (
	FreeleechNormal FreeleechVariant = iota
	FreeleechFree
	FreeleechNeutral
)

// Torrent is keyed by its InfoHash in the Store's Torrents map. PeerLock
// guards Seeders, Leechers, LastSelectedSeeder and TokenedUsers; it is
// always acquired inside an already-held Store.TorrentsMutex, never on its
// own, matching the "announce holds torrent_list for its entire
// read-modify-write window" rule in.
//
// Grounded on chihaya's atomic-field Torrent (database/types/torrent.go),
// generalized to this lineage's signed-balance/freeleech-variant/token data
// model in place of chihaya's multiplier-based freeleech scheme.
type Torrent struct {
	InfoHash TorrentHash

	ID atomic.Uint32
	Completed atomic.Uint32
	Balance atomic.Int64
	Freeleech atomic.Uint32 // FreeleechVariant

	LastFlushed atomic.Int64

	peerLock sync.Mutex

	Seeders *PeerMap
	Leechers *PeerMap

	LastSelectedSeeder PeerKey
	TokenedUsers map[uint32]struct{}
}

func NewTorrent(id uint32, hash TorrentHash, freeleech FreeleechVariant) *Torrent {
	t := &Torrent{
		InfoHash: hash,
		Seeders: NewPeerMap(),
		Leechers: NewPeerMap(),
		TokenedUsers: make(map[uint32]struct{}),
	}
	t.ID.Store(id)
	t.Freeleech.Store(uint32(freeleech))

	return t
}

func (t *Torrent) PeerLock() { t.peerLock.Lock() }
func (t *Torrent) PeerUnlock() { t.peerLock.Unlock() }

func (t *Torrent) FreeleechVariant() FreeleechVariant {
	return FreeleechVariant(t.Freeleech.Load())
}

// HasToken reports whether userID currently holds a freeleech token for
// this torrent. Caller must hold PeerLock.
func (t *Torrent) HasToken(userID uint32) bool {
	_, ok := t.TokenedUsers[userID]
	return ok
}
