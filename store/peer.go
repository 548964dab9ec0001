package store

// Peer lives inside exactly one torrent's Seeders or Leechers map; it is
// never globally indexed. UserID is a lookup key into the owning Store's
// Users map, never a lifetime-extending reference (DESIGN NOTES: "a
// lookup relationship, not ownership").
type Peer struct {
	ID PeerID

	Uploaded uint64
	Downloaded uint64
	Corrupt uint64
	Left uint64

	FirstAnnounced int64
	LastAnnounced int64
	Announces uint32

	Port uint16
	IP string
	IPPort PeerAddress

	InvalidIP bool
	Visible bool

	UserID uint32
	TorrentID uint32
}

// VisibleFor recomputes Visible: a peer is eligible for peer-list
// projection once it has finished (left==0), or its owner may download, and
// its address is representable.
func (p *Peer) VisibleFor(userMayLeech bool) bool {
	return (p.Left == 0 || userMayLeech) && !p.InvalidIP
}
