package store

import "time"

// ReapPeers sweeps stale peers: for every torrent, for every peer in
// each of its maps, remove it if its last announce is older than
// peersTimeout, decrementing the owning user's counter and the global
// stats. emptiedTorrents counts the torrents whose peer maps became empty
// after at least one peer was reaped from them; no torrent row is recorded
// for them here or by the caller.
//
// Grounded on original_source/margay/worker.py's reap_peers, generalized
// from a single global dict scan to the per-torrent PeerMap walk this
// lineage's data model uses.
func ReapPeers(s *Store, peersTimeout time.Duration, now time.Time) (reaped int, emptiedTorrents int) {
	deadline := now.Add(-peersTimeout).Unix()

	s.TorrentsMutex.RLock()
	torrents := make([]*Torrent, 0, len(s.Torrents))
	for _, t := range s.Torrents {
		torrents = append(torrents, t)
	}
	s.TorrentsMutex.RUnlock()

	for _, t := range torrents {
		t.PeerLock()

		reapedHere := reapMapLocked(s, t, t.Seeders, deadline, false)
		reapedHere += reapMapLocked(s, t, t.Leechers, deadline, true)

		becameEmpty := reapedHere > 0 && t.Seeders.Len() == 0 && t.Leechers.Len() == 0

		t.PeerUnlock()

		reaped += reapedHere

		if becameEmpty {
			emptiedTorrents++
		}
	}

	return reaped, emptiedTorrents
}

func reapMapLocked(s *Store, t *Torrent, m *PeerMap, deadline int64, isLeecherMap bool) int {
	var stale []PeerKey

	m.ForEach(func(key PeerKey, p *Peer) bool {
		if p.LastAnnounced < deadline {
			stale = append(stale, key)
		}

		return true
	})

	for _, key := range stale {
		p, ok := m.Delete(key)
		if !ok {
			continue
		}

		if isLeecherMap {
			s.Stats.Leechers.Add(-1)
		} else {
			s.Stats.Seeders.Add(-1)
		}

		if u := s.LookupUserByID(p.UserID); u != nil {
			if isLeecherMap {
				u.Leeching.Add(-1)
			} else {
				u.Seeding.Add(-1)
			}
		}
	}

	return len(stale)
}
