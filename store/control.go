package store

import (
	"time"

	"privateer/log"
)

// AddOrUpdateTorrent inserts a new torrent or updates an existing one's
// freeleech variant (add_torrent/update_torrent), returning false if
// update-only and no torrent with that hash exists.
func (s *Store) AddOrUpdateTorrent(id uint32, hash TorrentHash, freeleech FreeleechVariant, updateOnly bool) bool {
	s.TorrentsMutex.Lock()
	defer s.TorrentsMutex.Unlock()

	existing, ok := s.Torrents[hash]
	if !ok {
		if updateOnly {
			return false
		}

		s.Torrents[hash] = NewTorrent(id, hash, freeleech)

		return true
	}

	existing.Freeleech.Store(uint32(freeleech))

	return true
}

// DeleteTorrent removes a torrent, decrementing global and per-user
// counters by its peer-map sizes and stashing the removal reason.
func (s *Store) DeleteTorrent(hash TorrentHash, reason ErrorCode, now time.Time) bool {
	s.UsersMutex.RLock()
	defer s.UsersMutex.RUnlock()

	s.TorrentsMutex.Lock()
	defer s.TorrentsMutex.Unlock()

	t, ok := s.Torrents[hash]
	if !ok {
		return false
	}

	t.PeerLock()
	s.evictTorrentPeersLocked(t)
	t.PeerUnlock()

	delete(s.Torrents, hash)

	s.DelReasonsMutex.Lock()
	s.DelReasons[hash] = DelReasonEntry{Code: reason, At: now.Unix()}
	s.DelReasonsMutex.Unlock()

	return true
}

// AddToken and RemoveToken adjust a torrent's tokened-users set.
// Caller must hold no locks; PeerLock is taken
// internally since TokenedUsers lives alongside the peer maps.
func (s *Store) AddToken(hash TorrentHash, userID uint32) bool {
	t := s.LookupTorrent(hash)
	if t == nil {
		return false
	}

	t.PeerLock()
	t.TokenedUsers[userID] = struct{}{}
	t.PeerUnlock()

	return true
}

func (s *Store) RemoveToken(hash TorrentHash, userID uint32) bool {
	t := s.LookupTorrent(hash)
	if t == nil {
		return false
	}

	t.PeerLock()
	delete(t.TokenedUsers, userID)
	t.PeerUnlock()

	return true
}

// ChangePasskey rekeys a user entry in the passkey-indexed map.
// Returns false if oldPasskey is unknown.
func (s *Store) ChangePasskey(oldPasskey, newPasskey string) bool {
	s.UsersMutex.Lock()
	defer s.UsersMutex.Unlock()

	u, ok := s.Users[oldPasskey]
	if !ok {
		return false
	}

	u.Passkey = newPasskey
	s.Users[newPasskey] = u
	delete(s.Users, oldPasskey)

	return true
}

// AddUser inserts a new user under an unknown passkey and returns true. If
// the passkey is already known it logs a warning, tombstones the existing
// entry, inserts nothing and returns false.
func (s *Store) AddUser(id uint32, passkey string, leech, protect bool) bool {
	s.UsersMutex.Lock()
	defer s.UsersMutex.Unlock()

	if existing, ok := s.Users[passkey]; ok {
		log.Warning.Printf("store: add_user for already-known passkey %q (id %d); tombstoning", passkey, existing.ID.Load())
		existing.Deleted.Store(true)

		return false
	}

	u := NewUser(id, passkey, leech, protect)
	s.Users[passkey] = u
	s.usersByID[id] = u

	return true
}

// RemoveUser tombstones and evicts a user entry (remove_user).
func (s *Store) RemoveUser(passkey string) bool {
	s.UsersMutex.Lock()
	defer s.UsersMutex.Unlock()

	u, ok := s.Users[passkey]
	if !ok {
		return false
	}

	u.Deleted.Store(true)
	delete(s.Users, passkey)
	delete(s.usersByID, u.ID.Load())

	return true
}

// UpdateUser changes a live user's leech/protect flags (update_user).
func (s *Store) UpdateUser(passkey string, canLeech, protect bool) bool {
	s.UsersMutex.RLock()
	defer s.UsersMutex.RUnlock()

	u, ok := s.Users[passkey]
	if !ok {
		return false
	}

	u.Leech.Store(canLeech)
	u.Protect.Store(protect)

	return true
}

// AddWhitelist, RemoveWhitelist and EditWhitelist mutate the ordered
// peer-id-prefix list (add_whitelist/remove_whitelist/edit_whitelist).
func (s *Store) AddWhitelist(prefix string) {
	s.WhitelistMutex.Lock()
	s.Whitelist = append(s.Whitelist, prefix)
	s.WhitelistMutex.Unlock()
}

func (s *Store) RemoveWhitelist(prefix string) bool {
	s.WhitelistMutex.Lock()
	defer s.WhitelistMutex.Unlock()

	for i, p := range s.Whitelist {
		if p == prefix {
			s.Whitelist = append(s.Whitelist[:i], s.Whitelist[i+1:]...)
			return true
		}
	}

	return false
}

func (s *Store) EditWhitelist(oldPrefix, newPrefix string) {
	s.WhitelistMutex.Lock()
	defer s.WhitelistMutex.Unlock()

	for i, p := range s.Whitelist {
		if p == oldPrefix {
			s.Whitelist = append(s.Whitelist[:i], s.Whitelist[i+1:]...)
			break
		}
	}

	s.Whitelist = append(s.Whitelist, newPrefix)
}
