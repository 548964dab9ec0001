package store

import (
	"database/sql"

	"privateer/log"
)

// Reload rebuilds the Store from the database using the survivors-diff
// algorithm of: for each row, if the key is already present, update
// the existing object in place and remove it from a "survivors" set seeded
// with the current keys; otherwise insert a new one. After the scan, every
// key left in survivors was removed upstream and is evicted, decrementing
// global and per-user counters by its peer-map sizes.
//
// The store is held at StatusPaused for the whole call so concurrent
// announces see "temporarily unavailable" rather than a half-reloaded map
// ("a reload signal flips status to PAUSED... and flips back to OPEN").
//
// Grounded on chihaya's database/reload.go load* functions and
// original_source/margay/database.py's load_torrents/load_users, which both
// implement this same cur_keys/survivors pattern; this port actually
// deletes the leftover survivors (chihaya's snapshot swaps the whole map
// instead, which happens to have the same effect for users/torrents but
// would silently skip whitelist/token reconciliation).
func (s *Store) Reload(db *sql.DB) error {
	s.SetStatus(StatusPaused)
	defer s.SetStatus(StatusOpen)

	if err := s.reloadUsers(db); err != nil {
		return err
	}

	if err := s.reloadTorrents(db); err != nil {
		return err
	}

	if err := s.reloadWhitelist(db); err != nil {
		return err
	}

	if err := s.reloadTokens(db); err != nil {
		return err
	}

	return nil
}

// reloadUsers implements the users_main survivors-diff: Enabled='1' rows
// are upserted, protect is derived as (Visible='0' OR IP='127.0.0.1'),
// and every user left in survivors is tombstoned.
func (s *Store) reloadUsers(db *sql.DB) error {
	rows, err := db.Query(
		"SELECT ID, torrent_pass, can_leech, Visible, IP FROM users_main WHERE Enabled = '1'")
	if err != nil {
		return err
	}
	defer rows.Close()

	s.UsersMutex.Lock()
	defer s.UsersMutex.Unlock()

	survivors := make(map[string]struct{}, len(s.Users))
	for passkey := range s.Users {
		survivors[passkey] = struct{}{}
	}

	for rows.Next() {
		var (
			id uint32
			passkey string
			canLeech string
			visible string
			ip string
		)

		if err := rows.Scan(&id, &passkey, &canLeech, &visible, &ip); err != nil {
			log.Warning.Printf("store: skipping malformed users_main row: %s", err)
			continue
		}

		protect := visible == "0" || ip == "127.0.0.1"

		if existing, ok := s.Users[passkey]; ok {
			delete(s.usersByID, existing.ID.Load())
			existing.ID.Store(id)
			existing.Leech.Store(canLeech == "1")
			existing.Protect.Store(protect)
			existing.Deleted.Store(false)
			s.usersByID[id] = existing
			delete(survivors, passkey)
		} else {
			u := NewUser(id, passkey, canLeech == "1", protect)
			s.Users[passkey] = u
			s.usersByID[id] = u
		}
	}

	for passkey := range survivors {
		if u, ok := s.Users[passkey]; ok {
			u.Deleted.Store(true)
			delete(s.usersByID, u.ID.Load())
		}

		delete(s.Users, passkey)
	}

	return rows.Err()
}

// reloadTorrents mirrors users: torrents disappeared from the database are
// evicted, decrementing the global leecher/seeder stats by the size of
// their peer maps ("decrement global leechers/seeders by its peer-map
// sizes").
func (s *Store) reloadTorrents(db *sql.DB) error {
	rows, err := db.Query("SELECT ID, info_hash, Snatched, Balance, FreeTorrent FROM torrents")
	if err != nil {
		return err
	}
	defer rows.Close()

	// Lock order: users before torrents. A read lock suffices here
	// since only usersByID is consulted, never mutated.
	s.UsersMutex.RLock()
	defer s.UsersMutex.RUnlock()

	s.TorrentsMutex.Lock()
	defer s.TorrentsMutex.Unlock()

	survivors := make(map[TorrentHash]struct{}, len(s.Torrents))
	for hash := range s.Torrents {
		survivors[hash] = struct{}{}
	}

	for rows.Next() {
		var (
			id uint32
			infoHash []byte
			completed uint32
			balance int64
			freeleechDB uint8
		)

		if err := rows.Scan(&id, &infoHash, &completed, &balance, &freeleechDB); err != nil {
			log.Warning.Printf("store: skipping malformed torrents row: %s", err)
			continue
		}

		if len(infoHash) != TorrentHashSize {
			log.Warning.Printf("store: skipping torrent %d with malformed info_hash", id)
			continue
		}

		freeleech := FreeleechVariant(freeleechDB)
		if freeleech > FreeleechNeutral {
			log.Warning.Printf("store: unknown freeleech code %d for torrent %d, defaulting to Normal", freeleechDB, id)
			freeleech = FreeleechNormal
		}

		hash := TorrentHashFromBytes(infoHash)

		if existing, ok := s.Torrents[hash]; ok {
			existing.ID.Store(id)
			existing.Completed.Store(completed)
			existing.Balance.Store(balance)
			existing.Freeleech.Store(uint32(freeleech))
			delete(survivors, hash)
		} else {
			s.Torrents[hash] = NewTorrent(id, hash, freeleech)
		}
	}

	for hash := range survivors {
		t, ok := s.Torrents[hash]
		if !ok {
			continue
		}

		t.PeerLock()
		s.evictTorrentPeersLocked(t)
		t.PeerUnlock()

		delete(s.Torrents, hash)
	}

	return rows.Err()
}

// evictTorrentPeersLocked decrements global and per-user counters for every
// peer in t's maps. Caller must hold t.peerLock and at least a read lock on
// s.UsersMutex (reloadTorrents and DeleteTorrent both hold it for read).
func (s *Store) evictTorrentPeersLocked(t *Torrent) {
	t.Seeders.ForEach(func(_ PeerKey, p *Peer) bool {
		s.Stats.Seeders.Add(-1)
		if u := s.usersByID[p.UserID]; u != nil {
			u.Seeding.Add(-1)
		}
		return true
	})
	t.Leechers.ForEach(func(_ PeerKey, p *Peer) bool {
		s.Stats.Leechers.Add(-1)
		if u := s.usersByID[p.UserID]; u != nil {
			u.Leeching.Add(-1)
		}
		return true
	})
}

// reloadWhitelist replaces the whitelist wholesale: it is a short ordered
// list, not worth diffing.
func (s *Store) reloadWhitelist(db *sql.DB) error {
	rows, err := db.Query("SELECT peer_id FROM xbt_client_whitelist")
	if err != nil {
		return err
	}
	defer rows.Close()

	var list []string

	for rows.Next() {
		var prefix string
		if err := rows.Scan(&prefix); err != nil {
			log.Warning.Printf("store: skipping malformed whitelist row: %s", err)
			continue
		}

		list = append(list, prefix)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	s.WhitelistMutex.Lock()
	s.Whitelist = list
	s.WhitelistMutex.Unlock()

	return nil
}

// reloadTokens re-populates each torrent's tokened-user set from
// users_freeleeches rows that haven't expired yet.
func (s *Store) reloadTokens(db *sql.DB) error {
	rows, err := db.Query("SELECT UserID, TorrentID FROM users_freeleeches WHERE Expired = '0'")
	if err != nil {
		return err
	}
	defer rows.Close()

	byTorrentID := make(map[uint32][]uint32)

	for rows.Next() {
		var userID, torrentID uint32
		if err := rows.Scan(&userID, &torrentID); err != nil {
			log.Warning.Printf("store: skipping malformed users_freeleeches row: %s", err)
			continue
		}

		byTorrentID[torrentID] = append(byTorrentID[torrentID], userID)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	s.TorrentsMutex.RLock()
	defer s.TorrentsMutex.RUnlock()

	for _, t := range s.Torrents {
		t.PeerLock()

		if users, ok := byTorrentID[t.ID.Load()]; ok {
			t.TokenedUsers = make(map[uint32]struct{}, len(users))
			for _, uid := range users {
				t.TokenedUsers[uid] = struct{}{}
			}
		} else {
			t.TokenedUsers = make(map[uint32]struct{})
		}

		t.PeerUnlock()
	}

	return nil
}
