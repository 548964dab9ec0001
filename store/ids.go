// Package store is the in-memory swarm-state engine (C1): torrents, users,
// whitelist and del-reason maps, and the ordered per-torrent peer sets.
package store

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
)

// TorrentHash is the 20-byte SHA-1 info-hash identifying a torrent.
type TorrentHash [20]byte

const TorrentHashSize = 20

var errWrongTorrentHashSize = errors.New("store: wrong info_hash size")

func TorrentHashFromBytes(b []byte) (h TorrentHash) {
	copy(h[:], b)
	return h
}

//goland:noinspection GoMixedReceiverTypes
func (h TorrentHash) MarshalText() ([]byte, error) {
	buf := make([]byte, TorrentHashSize*2)
	hex.Encode(buf, h[:])

	return buf, nil
}

//goland:noinspection GoMixedReceiverTypes
func (h *TorrentHash) UnmarshalText(b []byte) error {
	if len(b) != TorrentHashSize*2 {
		return errWrongTorrentHashSize
	}

	_, err := hex.Decode(h[:], b)

	return err
}

//goland:noinspection GoMixedReceiverTypes
func (h *TorrentHash) Scan(src any) error {
	buf, ok := src.([]byte)
	if !ok {
		return errors.New("store: info_hash scan source is not []byte")
	}

	if len(buf) != TorrentHashSize {
		return errWrongTorrentHashSize
	}

	copy(h[:], buf)

	return nil
}

//goland:noinspection GoMixedReceiverTypes
func (h TorrentHash) Value() (driver.Value, error) {
	return h[:], nil
}

// PeerID is the 20-byte client-chosen BEP-0020 identifier.
type PeerID [20]byte

func PeerIDFromRawString(s string) (id PeerID, ok bool) {
	if len(s) != 20 {
		return id, false
	}

	copy(id[:], s)

	return id, true
}

// PeerKey de-duplicates a PeerID per-user and per-torrent-bucket, per the
// announce engine's peer key formula: a torrent-derived byte (to split
// clients reusing a peer-id across torrents) followed by the user id and
// the raw peer id.
type PeerKey [1 + 4 + 20]byte

func NewPeerKey(torrentID uint32, userID uint32, peerID PeerID) (k PeerKey) {
	k[0] = peerID[12+(torrentID&7)]
	k[1] = byte(userID)
	k[2] = byte(userID >> 8)
	k[3] = byte(userID >> 16)
	k[4] = byte(userID >> 24)
	copy(k[5:], peerID[:])

	return k
}

//goland:noinspection GoMixedReceiverTypes
func (k PeerKey) PeerID() (id PeerID) {
	copy(id[:], k[5:])
	return id
}

// PeerAddress is the compact IPv4||port form (6 bytes, big-endian port)
// returned verbatim in peer-list projections.
const PeerAddressSize = 4 + 2

type PeerAddress [PeerAddressSize]byte

func NewPeerAddressFromIPv4Port(ip4 [4]byte, port uint16) PeerAddress {
	var a PeerAddress

	copy(a[:4], ip4[:])
	a[4] = byte(port >> 8)
	a[5] = byte(port)

	return a
}

//goland:noinspection GoMixedReceiverTypes
func (a PeerAddress) Port() uint16 {
	return uint16(a[4])<<8 | uint16(a[5])
}

//goland:noinspection GoMixedReceiverTypes
func (a PeerAddress) IsZero() bool {
	return a == PeerAddress{}
}
