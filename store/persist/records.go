package persist

// UserRecord is an additive upload/download delta for one user, flushed
// with `Uploaded = Uploaded + VALUES(Uploaded)` semantics so batches apply
// commutatively regardless of arrival order.
type UserRecord struct {
	UserID uint32
	UpDelta int64
	DownDelta int64
}

// TorrentRecord carries a torrent's latest absolute seeder/leecher counts
// plus an additive snatch delta and absolute balance.
type TorrentRecord struct {
	TorrentID uint32
	Seeders int
	Leechers int
	SnatchDelta uint8
	Balance int64
	Flushed int64 // unix seconds; last_action of a newly inserted row (an existing row takes NOW() when Seeders > 0)
}

// SnatchRecord is a plain insert, one per completed-transition.
type SnatchRecord struct {
	UserID uint32
	TorrentID uint32
	At int64
	IP string
}

// TokenRecord is a plain insert into users_freeleeches, one per
// token-masked download credit.
type TokenRecord struct {
	UserID uint32
	TorrentID uint32
	Downloaded uint64
}

// PeerRecordKind replaces the source's tuple-arity sniffing with an
// explicit tag: PeerLight when no field the database tracks changed since
// the last announce, PeerHeavy when anything did.
type PeerRecordKind uint8

const (
	PeerLight PeerRecordKind = iota
	PeerHeavy
)

// PeerRecord is a point-in-time snapshot of one peer's persisted row,
// upserted on the (UserID, TorrentID, PeerID) key.
type PeerRecord struct {
	Kind PeerRecordKind

	UserID uint32
	TorrentID uint32
	PeerID [20]byte

	Active bool
	Uploaded uint64
	Downloaded uint64
	Upspeed uint64
	Downspeed uint64
	Remaining uint64
	Corrupt uint64
	Timespent int64
	Announced uint32
	IP string
	UserAgent string
	Mtime int64
}
