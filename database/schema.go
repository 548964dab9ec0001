// Package database opens the MySQL connection pool every other package
// scans or writes through with plain database/sql, and documents the
// columns those hand-written queries rely on. Grounded on chihaya's
// database.Open (database/database.go) for the DSN/sql.Open/Ping shape,
// generalized onto this port's config.MySQL instead of chihaya's own
// ini-section reader.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"privateer/config"
	"privateer/log"
)

// Open connects to cfg's MySQL instance and verifies it with a Ping,
// matching the teacher's fail-fast-at-startup behavior.
func Open(cfg config.MySQL) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	log.Info.Printf("database: connected to %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)

	return db, nil
}

// User documents the columns store.Store.Reload's reloadUsers scans from
// the users_main table.
type User struct {
	ID uint32 `db:"ID"`
	Passkey string `db:"torrent_pass"`
	CanLeech bool `db:"can_leech"`
	Visible bool `db:"Visible"`
	IP string `db:"ip"`
}

// Torrent documents the columns reloadTorrents scans from the torrents
// table.
type Torrent struct {
	ID uint32 `db:"ID"`
	InfoHash []byte `db:"info_hash"`
	Snatched int64 `db:"Snatched"`
	Balance int64 `db:"Balance"`
	FreeTorrent string `db:"FreeTorrent"`
}

// Whitelist documents the single column reloadWhitelist scans from the
// xbt_client_whitelist table.
type Whitelist struct {
	Peer string `db:"peer_id"`
}

// Token documents the columns reloadTokens scans from the
// users_freeleeches table.
type Token struct {
	UserID uint32 `db:"UserID"`
	TorrentID uint32 `db:"TorrentID"`
}

// Snatch documents the columns flushSnatches inserts into xbt_snatched.
type Snatch struct {
	UserID uint32 `db:"uid"`
	TorrentID uint32 `db:"fid"`
	Timestamp int64 `db:"tstamp"`
	IP string `db:"IP"`
}

// Peer documents the columns flushLightPeers/flushHeavyPeers write into
// xbt_files_users, light rows touching only the timestamp/announce columns
// and heavy rows additionally touching transfer/visibility columns.
type Peer struct {
	UserID uint32 `db:"uid"`
	TorrentID uint32 `db:"fid"`
	PeerID string `db:"peer_id"`
	Active bool `db:"active"`
	Uploaded uint64 `db:"uploaded"`
	Downloaded uint64 `db:"downloaded"`
	Remaining uint64 `db:"remaining"`
	Corrupt uint64 `db:"corrupt"`
	UpSpeed uint64 `db:"upspeed"`
	DownSpeed uint64 `db:"downspeed"`
	Timespent int64 `db:"timespent"`
	Announced int64 `db:"announced"`
	IP string `db:"ip"`
	UserAgent string `db:"useragent"`
	MTime int64 `db:"mtime"`
}
