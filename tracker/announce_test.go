package tracker

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"privateer/siteclient"
	"privateer/store"
	"privateer/store/persist"
	"privateer/tracker/params"
)

func newTestEngine() (*Engine, *store.Store) {
	s := store.New()
	s.SetStatus(store.StatusOpen)

	p := persist.New(nil, func() bool { return false })
	site := siteclient.New("example.org", "tools.php", "sitepw", func() bool { return false })

	e := New(s, p, site, 1800, 50, 7200, "reportpw", "sitepw")

	return e, s
}

func addUser(s *store.Store, id uint32, passkey string, leech bool) *store.User {
	s.AddUser(id, passkey, leech, false)
	return s.LookupUser(passkey)
}

func addTorrent(s *store.Store, id uint32, hash store.TorrentHash, fl store.FreeleechVariant) *store.Torrent {
	s.AddOrUpdateTorrent(id, hash, fl, false)
	return s.LookupTorrent(hash)
}

func mustParse(t *testing.T, query string) *params.QueryParam {
	t.Helper()

	qp, err := params.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery: %s", err)
	}

	return qp
}

func announceOK(t *testing.T, resp *bytes.Buffer) {
	t.Helper()

	if strings.Contains(resp.String(), "failure reason") {
		t.Fatalf("unexpected failure response: %s", resp.String())
	}
}

// Scenario 1: fresh leecher arrives.
func TestAnnounceFreshLeecherArrives(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNormal)

	qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer

	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)

	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)

	torrent.PeerLock()
	leechers := torrent.Leechers.Len()
	torrent.PeerUnlock()

	if leechers != 1 {
		t.Fatalf("expected 1 leecher, got %d", leechers)
	}

	if s.Stats.Leechers.Load() != 1 {
		t.Fatalf("expected global leechers=1, got %d", s.Stats.Leechers.Load())
	}

	body := resp.String()
	if !strings.Contains(body, "10:incompletei1e") {
		t.Fatalf("expected incomplete=1 in response: %s", body)
	}

	if !strings.Contains(body, "8:completei0e") {
		t.Fatalf("expected complete=0 in response: %s", body)
	}

	if !strings.Contains(body, "8:intervali1800e") {
		t.Fatalf("expected interval=1800 in response: %s", body)
	}

	if !strings.Contains(body, "5:peers0:") {
		t.Fatalf("expected an empty peers string: %s", body)
	}
}

// Scenario 2: completion credits a snatch exactly once.
func TestAnnounceCompletionCreditsSnatchOnce(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNormal)

	start := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", start, http.Header{}, "203.0.113.9:1234", &resp)

	resp.Reset()

	complete := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=1024&left=0&corrupt=0&compact=1&event=completed")

	e.Announce("P", complete, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)

	if torrent.Completed.Load() != 1 {
		t.Fatalf("expected completed=1, got %d", torrent.Completed.Load())
	}

	torrent.PeerLock()
	leechers := torrent.Leechers.Len()
	seeders := torrent.Seeders.Len()
	torrent.PeerUnlock()

	if leechers != 0 || seeders != 1 {
		t.Fatalf("expected 0 leechers/1 seeder, got %d/%d", leechers, seeders)
	}

	snatches := e.Persist.Snatches.Buffered()
	if len(snatches) != 1 {
		t.Fatalf("expected exactly one snatch row, got %d", len(snatches))
	}
}

// Scenario 3: freeleech masks download credit but not upload credit; no
// token-use row is recorded for a Free (not tokened) torrent.
func TestAnnounceFreeleechMasksDownloadCredit(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechFree)

	// The first announce only establishes the cumulative baseline and
	// credits nothing; the second reports real deltas.
	start := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", start, http.Header{}, "203.0.113.9:1234", &resp)
	resp.Reset()

	qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=1000000&downloaded=2000000&left=1024&corrupt=0&compact=1")

	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)
	if torrent.Balance.Load() != 1000000 {
		t.Fatalf("expected balance += 1,000,000 (no subtract), got %d", torrent.Balance.Load())
	}

	users := e.Persist.Users.Buffered()
	if len(users) != 1 || users[0].UpDelta != 1000000 || users[0].DownDelta != 0 {
		t.Fatalf("expected user-delta (U, 1000000, 0), got %+v", users)
	}

	if tokens := e.Persist.Tokens.Buffered(); len(tokens) != 0 {
		t.Fatalf("expected no token-use row for a Free torrent, got %+v", tokens)
	}
}

// Scenario 4: a tokened user's download is masked, a token-use row is
// recorded with the raw download delta, and completing in the same
// announce expires the token both in the store and via the site client.
func TestAnnounceTokenUseExpiresOnCompletion(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	torrent := addTorrent(s, 1, hash, store.FreeleechNormal)
	torrent.TokenedUsers[7] = struct{}{}

	start := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=500000&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", start, http.Header{}, "203.0.113.9:1234", &resp)
	resp.Reset()

	qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=10000&downloaded=500000&left=0&corrupt=0&compact=1&event=completed")

	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	users := e.Persist.Users.Buffered()
	if len(users) != 1 || users[0].UpDelta != 10000 || users[0].DownDelta != 0 {
		t.Fatalf("expected user-delta (U, up, 0), got %+v", users)
	}

	tokens := e.Persist.Tokens.Buffered()
	if len(tokens) != 1 || tokens[0].UserID != 7 || tokens[0].TorrentID != 1 || tokens[0].Downloaded != 500000 {
		t.Fatalf("expected one token-use row (7, 1, 500000), got %+v", tokens)
	}

	if torrent.HasToken(7) {
		t.Fatal("expected user to be removed from tokened_users")
	}

	if got := e.Site.Buffered(); got != "7:1" {
		t.Fatalf("expected site-client buffer %q, got %q", "7:1", got)
	}
}

// Scenario 5: a backwards cumulative resets the stored value, credits a
// zero delta, still counts the announce, and is recorded as a heavy row.
func TestAnnounceBackwardsCumulativeResets(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNormal)

	first := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=1000&downloaded=0&left=0&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", first, http.Header{}, "203.0.113.9:1234", &resp)
	resp.Reset()

	second := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=500&downloaded=0&left=0&corrupt=0&compact=1")

	e.Announce("P", second, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)

	torrent.PeerLock()
	var stored uint64
	torrent.Seeders.ForEach(func(_ store.PeerKey, p *store.Peer) bool {
		stored = p.Uploaded
		return false
	})
	torrent.PeerUnlock()

	if stored != 500 {
		t.Fatalf("expected stored uploaded to become 500, got %d", stored)
	}

	peers := e.Persist.Peers.Buffered()
	if len(peers) != 2 {
		t.Fatalf("expected 2 peer rows (one per announce), got %d", len(peers))
	}

	if peers[1].Kind != persist.PeerHeavy {
		t.Fatalf("expected the second row to be heavy, got %v", peers[1].Kind)
	}
}

// Scenario 6: a leecher's numwant=2 request rotates through the seeder
// list in insertion order and advances the cursor to the last one used.
func TestAnnounceLeecherRotatesThroughSeeders(t *testing.T) {
	e, s := newTestEngine()
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNormal)

	seedIDs := []uint32{101, 102, 103}
	for i, id := range seedIDs {
		passkey := string(rune('a' + i))
		addUser(s, id, passkey, true)

		peerID := strings.Repeat(string(rune('0'+i)), 20)
		qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id="+peerID+
			"&port=6881&uploaded=0&downloaded=0&left=0&corrupt=0&compact=1&event=started")

		var resp bytes.Buffer
		e.Announce(passkey, qp, http.Header{}, "203.0.113.1:6881", &resp)
	}

	addUser(s, 7, "leecher", true)

	requestQP := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=ZZZZZZZZZZZZZZZZZZZZ"+
		"&port=6881&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&numwant=2&event=started")

	var resp bytes.Buffer
	e.Announce("leecher", requestQP, http.Header{}, "203.0.113.2:6881", &resp)
	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)
	if torrent.Seeders.Len() != 3 {
		t.Fatalf("expected 3 seeders, got %d", torrent.Seeders.Len())
	}

	body := resp.String()
	if !strings.Contains(body, "5:peers12:") {
		t.Fatalf("expected a 12-byte (2-peer) compact peers string: %s", body)
	}
}

func TestAnnounceRejectsUnknownTorrentBeforeDereference(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)

	qp := mustParse(t, "info_hash=ZZZZZZZZZZZZZZZZZZZZ&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=6881&uploaded=0&downloaded=0&left=0&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)

	if !strings.Contains(resp.String(), "This torrent does not exist") {
		t.Fatalf("expected an unknown-torrent failure, got %s", resp.String())
	}
}

func TestAnnounceStoppedEventRemovesPeerAndDecrementsStats(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNormal)

	start := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", start, http.Header{}, "203.0.113.9:1234", &resp)

	stop := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=stopped")

	resp.Reset()
	e.Announce("P", stop, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)

	torrent.PeerLock()
	leechers := torrent.Leechers.Len()
	torrent.PeerUnlock()

	if leechers != 0 {
		t.Fatalf("expected the stopped peer to be removed, got %d leechers", leechers)
	}

	if s.Stats.Leechers.Load() != 0 {
		t.Fatalf("expected global leechers=0, got %d", s.Stats.Leechers.Load())
	}
}

// Scenario 7: a live peer whose stored owner has drifted from the
// authenticating user (a passkey rotated onto a different account under
// the hood) transfers exactly one unit of Leeching from the stale owner to
// the new one, instead of leaving both counters permanently desynced.
func TestAnnounceOwnerChangeTransfersLeechingCounter(t *testing.T) {
	e, s := newTestEngine()
	newOwner := addUser(s, 7, "P", true)
	oldOwner := addUser(s, 999, "old", true)
	oldOwner.Leeching.Add(1)

	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	torrent := addTorrent(s, 1, hash, store.FreeleechNormal)

	peerID, _ := store.PeerIDFromRawString("AAAAAAAAAAAAAAAAAAAA")
	key := store.NewPeerKey(torrent.ID.Load(), newOwner.ID.Load(), peerID)

	torrent.PeerLock()
	torrent.Leechers.Put(key, &store.Peer{ID: peerID, UserID: oldOwner.ID.Load(), Left: 1024, Visible: true})
	torrent.PeerUnlock()

	qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1")

	var resp bytes.Buffer
	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	if newOwner.Leeching.Load() != 1 {
		t.Fatalf("expected new owner leeching=1, got %d", newOwner.Leeching.Load())
	}

	if oldOwner.Leeching.Load() != 0 {
		t.Fatalf("expected stale owner leeching=0, got %d", oldOwner.Leeching.Load())
	}

	torrent.PeerLock()
	p, _ := torrent.Leechers.Get(key)
	torrent.PeerUnlock()

	if p.UserID != newOwner.ID.Load() {
		t.Fatalf("expected the peer to be re-owned by the new user, got UserID=%d", p.UserID)
	}
}

// Scenario 8: a Neutral-freeleech torrent masks both upload and download
// credit, but the peer row persisted must still be heavy (real bytes moved)
// rather than light, since peer_changed is derived from the unmasked deltas.
func TestAnnounceNeutralFreeleechStillRecordsHeavyRow(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", true)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNeutral)

	start := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", start, http.Header{}, "203.0.113.9:1234", &resp)
	resp.Reset()

	qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=1000&downloaded=2000&left=1024&corrupt=0&compact=1")

	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)
	announceOK(t, &resp)

	torrent := s.LookupTorrent(hash)
	if torrent.Balance.Load() != 0 {
		t.Fatalf("expected balance unchanged by a masked neutral torrent, got %d", torrent.Balance.Load())
	}

	peers := e.Persist.Peers.Buffered()
	if len(peers) != 2 {
		t.Fatalf("expected 2 peer rows, got %d", len(peers))
	}

	if peers[1].Kind != persist.PeerHeavy {
		t.Fatalf("expected the second row to be heavy despite freeleech masking, got %v", peers[1].Kind)
	}
}

func TestAnnounceLeechingForbiddenStillAccountsButFailsResponse(t *testing.T) {
	e, s := newTestEngine()
	addUser(s, 7, "P", false)
	hash := store.TorrentHash{}
	copy(hash[:], "HHHHHHHHHHHHHHHHHHHH")
	addTorrent(s, 1, hash, store.FreeleechNormal)

	qp := mustParse(t, "info_hash=HHHHHHHHHHHHHHHHHHHH&peer_id=AAAAAAAAAAAAAAAAAAAA"+
		"&port=51413&uploaded=0&downloaded=0&left=1024&corrupt=0&compact=1&event=started")

	var resp bytes.Buffer
	e.Announce("P", qp, http.Header{}, "203.0.113.9:1234", &resp)

	if !strings.Contains(resp.String(), "leeching forbidden") {
		t.Fatalf("expected a leeching-forbidden failure, got %s", resp.String())
	}

	torrent := s.LookupTorrent(hash)

	torrent.PeerLock()
	leechers := torrent.Leechers.Len()
	torrent.PeerUnlock()

	if leechers != 1 {
		t.Fatalf("expected accounting to still register the leecher, got %d", leechers)
	}
}
