package tracker

import (
	"bytes"
	"net"
	"net/http"
	"strings"
	"time"

	"privateer/bencenc"
	"privateer/store"
	"privateer/store/persist"
	"privateer/tracker/params"
	"privateer/util"
)

const torrentFlushInterval = time.Hour

// Announce handles one GET /{passkey}/announce request, writing a bencoded
// response (success or failure) to w. Grounded on chihaya's
// server/announce.go request shape, generalized to this lineage's
// balance/freeleech/token/ordered-peer-map data model.
func (e *Engine) Announce(passkey string, qp *params.QueryParam, header http.Header, remoteAddr string, w *bytes.Buffer) {
	start := w.Len()
	defer func() {
		if bytes.HasPrefix(w.Bytes()[start:], []byte("d14:failure reason")) {
			e.Store.Stats.AnnouncesFailed.Add(1)
		} else {
			e.Store.Stats.AnnouncesOK.Add(1)
		}
	}()

	if e.Store.Status() != store.StatusOpen {
		bencenc.Failure(w, "Temporarily unavailable", failureIntervalSeconds*time.Second)
		return
	}

	user := e.Store.LookupUser(passkey)
	if user == nil || user.Deleted.Load() {
		bencenc.Failure(w, "Your passkey is invalid", failureIntervalSeconds*time.Second)
		return
	}

	infoHashes := qp.InfoHashes()
	if len(infoHashes) != 1 {
		bencenc.Failure(w, "Malformed request - missing info_hash", failureIntervalSeconds*time.Second)
		return
	}

	peerIDStr, _ := qp.Get("peer_id")

	peerID, ok := store.PeerIDFromRawString(peerIDStr)
	if !ok {
		bencenc.Failure(w, "Invalid peer ID", failureIntervalSeconds*time.Second)
		return
	}

	if !e.Store.IsWhitelisted(peerID) {
		bencenc.Failure(w, "Your client is not whitelisted", failureIntervalSeconds*time.Second)
		return
	}

	compact, _ := qp.Get("compact")
	if compact != "1" {
		bencenc.Failure(w, "Malformed request - compact support required", failureIntervalSeconds*time.Second)
		return
	}

	port, portOK := qp.GetUint16("port")
	uploaded, uploadedOK := qp.GetUint64("uploaded")
	downloaded, downloadedOK := qp.GetUint64("downloaded")
	left, leftOK := qp.GetUint64("left")
	corrupt, _ := qp.GetUint64("corrupt")

	if !portOK {
		bencenc.Failure(w, "Malformed request - missing port", failureIntervalSeconds*time.Second)
		return
	}

	if !uploadedOK {
		bencenc.Failure(w, "Malformed request - missing uploaded", failureIntervalSeconds*time.Second)
		return
	}

	if !downloadedOK {
		bencenc.Failure(w, "Malformed request - missing downloaded", failureIntervalSeconds*time.Second)
		return
	}

	if !leftOK {
		bencenc.Failure(w, "Malformed request - missing left", failureIntervalSeconds*time.Second)
		return
	}

	torrent := e.Store.LookupTorrent(infoHashes[0])
	if torrent == nil {
		bencenc.Failure(w, "This torrent does not exist", failureIntervalSeconds*time.Second)
		return
	}

	event, _ := qp.Get("event")

	ipStr, warnInvalidIP := e.resolveAnnounceIP(qp, header, remoteAddr)

	now := time.Now().Unix()
	key := store.NewPeerKey(torrent.ID.Load(), user.ID.Load(), peerID)

	torrent.PeerLock()

	c := classifyPeer(torrent, key, left, event)

	// A leeching-forbidden policy denial still applies accounting and
	// only changes the response written at the end of this handler.
	applyMembership(torrent, key, c)

	ip4, invalidIP := classifyIPv4(ipStr)
	invalidIP = invalidIP || warnInvalidIP

	var ipPort store.PeerAddress
	if !invalidIP {
		ipPort = store.NewPeerAddressFromIPv4Port(ip4, port)
	}

	lastAnnounced := c.peer.LastAnnounced

	uploadedChange, downloadChange, corruptChange, backward := accountCumulatives(c.peer, uploaded, downloaded, corrupt, c.newPeer || event == "started")

	rawUploadedChange, rawDownloadChange := uploadedChange, downloadChange

	tokenUsed := false

	switch torrent.FreeleechVariant() {
	case store.FreeleechNeutral:
		uploadedChange, downloadChange = 0, 0
	case store.FreeleechFree:
		downloadChange = 0
	default:
		if torrent.HasToken(user.ID.Load()) && rawDownloadChange > 0 {
			downloadChange = 0
			tokenUsed = true
		}
	}

	torrent.Balance.Add(uploadedChange - downloadChange - corruptChange)

	var upspeed, downspeed uint64

	if lastAnnounced > 0 {
		dt := now - lastAnnounced
		if dt > 0 {
			if rawUploadedChange > 0 {
				upspeed = uint64(rawUploadedChange) / uint64(dt)
			}

			if rawDownloadChange > 0 {
				downspeed = uint64(rawDownloadChange) / uint64(dt)
			}
		}
	}

	oldOwnerID := c.peer.UserID
	ownerChanged := !c.newPeer && oldOwnerID != 0 && oldOwnerID != user.ID.Load()

	c.peer.Left = left
	c.peer.Corrupt = corrupt
	c.peer.IP = ipStr
	c.peer.IPPort = ipPort
	c.peer.InvalidIP = invalidIP
	c.peer.Port = port
	c.peer.UserID = user.ID.Load()
	c.peer.TorrentID = torrent.ID.Load()
	c.peer.Visible = c.peer.VisibleFor(user.Leech.Load())

	if tokenUsed && event == "completed" {
		delete(torrent.TokenedUsers, user.ID.Load())
	}

	if c.creditSnatch {
		torrent.Completed.Add(1)
	}

	seedCount := torrent.Seeders.Len()
	leechCount := torrent.Leechers.Len()
	snatchCount := torrent.Completed.Load()

	numWant := e.resolveNumwant(qp, event, user.Leech.Load(), left)

	var peerBytes [][]byte

	if numWant > 0 {
		if c.seeding {
			// Seeders never need other seeders.
			peerBytes = collectLeechers(e.Store, torrent, numWant, user.ID.Load())
		} else {
			seederPeers, newCursor := projectSeeders(e.Store, torrent, torrent.LastSelectedSeeder, numWant, user.ID.Load())
			torrent.LastSelectedSeeder = newCursor
			peerBytes = seederPeers

			if len(peerBytes) < numWant {
				peerBytes = append(peerBytes, collectLeechers(e.Store, torrent, numWant-len(peerBytes), user.ID.Load())...)
			}
		}
	}

	c.peer.LastAnnounced = now

	updateTorrentRow := c.incL || c.incS || c.decL || c.decS || c.creditSnatch || event == "stopped" ||
		now-torrent.LastFlushed.Load() > int64(torrentFlushInterval.Seconds())

	torrent.PeerUnlock()

	deltaUser := user
	if ownerChanged {
		if owner := e.Store.LookupUserByID(oldOwnerID); owner != nil {
			deltaUser = owner
		}
	}

	e.applyCounterDeltas(deltaUser, c)

	// A live peer rekeyed to a different passkey mid-swarm (ownerChanged)
	// transfers exactly one unit of Leeching/Seeding from its previous
	// owner to the newly authenticated user, unless it's leaving for good.
	if ownerChanged && event != "stopped" {
		if left > 0 {
			user.Leeching.Add(1)
			deltaUser.Leeching.Add(-1)
		} else {
			user.Seeding.Add(1)
			deltaUser.Seeding.Add(-1)
		}
	}

	if updateTorrentRow {
		torrent.LastFlushed.Store(now)
		e.Persist.Torrents.Append(persist.TorrentRecord{
			TorrentID: torrent.ID.Load(),
			Seeders: seedCount,
			Leechers: leechCount,
			SnatchDelta: boolToSnatchDelta(c.creditSnatch),
			Balance: torrent.Balance.Load(),
			Flushed: now,
		})
	}

	if c.creditSnatch {
		e.Persist.Snatches.Append(persist.SnatchRecord{
			UserID: user.ID.Load(),
			TorrentID: torrent.ID.Load(),
			At: now,
			IP: ipStr,
		})
	}

	if uploadedChange != 0 || downloadChange != 0 {
		e.Persist.Users.Append(persist.UserRecord{
			UserID: user.ID.Load(),
			UpDelta: uploadedChange,
			DownDelta: downloadChange,
		})
	}

	if tokenUsed {
		e.Persist.Tokens.Append(persist.TokenRecord{
			UserID: user.ID.Load(),
			TorrentID: torrent.ID.Load(),
			Downloaded: uint64(rawDownloadChange),
		})

		if event == "completed" && e.Site != nil {
			e.Site.ExpireToken(user.ID.Load(), torrent.ID.Load())
		}
	}

	peerChanged := c.newPeer || backward || c.decL || c.decS || rawUploadedChange != 0 || rawDownloadChange != 0 ||
		corruptChange != 0 || event == "stopped"

	e.recordPeerRow(user.ID.Load(), torrent.ID.Load(), peerID, peerChanged, event != "stopped",
		c.peer, upspeed, downspeed, now, ipStr)

	e.writeAnnounceResponse(w, seedCount, leechCount, snatchCount, invalidIP, peerBytes, left, user.Leech.Load())
}

func boolToSnatchDelta(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

func (e *Engine) resolveNumwant(qp *params.QueryParam, event string, userMayLeech bool, left uint64) int {
	if event == "stopped" {
		return 0
	}

	if !userMayLeech && left > 0 {
		return 0
	}

	numwant, exists := qp.GetUint16("numwant")
	if !exists {
		return e.NumwantLimit
	}

	if int(numwant) > e.NumwantLimit {
		return e.NumwantLimit
	}

	return int(numwant)
}

func (e *Engine) writeAnnounceResponse(w *bytes.Buffer, seedCount, leechCount int, snatchCount uint32,
	invalidIP bool, peerBytes [][]byte, left uint64, userMayLeech bool) {
	if left > 0 && !userMayLeech {
		bencenc.Failure(w, "Access denied, leeching forbidden", failureIntervalSeconds*time.Second)
		return
	}

	warning := ""
	if invalidIP {
		warning = "Illegal character in IP, IPv6 not supported"
	}

	base := e.AnnounceInterval()
	interval := base + util.Min(600, seedCount)

	bencenc.AnnounceHeader(w, int64(seedCount), int64(leechCount), int64(snatchCount),
		interval, base, warning)
	bencenc.AnnouncePeers(w, peerBytes)
	bencenc.AnnounceFooter(w)
}

// resolveAnnounceIP picks the client-visible IP: trust an explicit
// ip/ipv4 query param, else the first X-Forwarded-For entry, else the
// socket's remote address.
func (e *Engine) resolveAnnounceIP(qp *params.QueryParam, header http.Header, remoteAddr string) (string, bool) {
	if ipv4, exists := qp.Get("ipv4"); exists && ipv4 != "" {
		return ipv4, false
	}

	if ip, exists := qp.Get("ip"); exists && ip != "" {
		return ip, false
	}

	if xff := header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first, false
		}
	}

	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		return remoteAddr[:idx], false
	}

	return remoteAddr, false
}

func classifyIPv4(ipStr string) (ip4 [4]byte, invalid bool) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ip4, true
	}

	v4 := ip.To4()
	if v4 == nil {
		return ip4, true
	}

	if isReservedIPv4(v4) {
		return ip4, true
	}

	copy(ip4[:], v4)

	return ip4, false
}

// peerClassification captures the state-classification table's
// outcome for a single announce.
type peerClassification struct {
	peer *store.Peer

	seeding bool
	newPeer bool
	incL, incS bool
	decL, decS bool
	removeLeecher bool
	removeSeeder bool
	creditSnatch bool
}

// classifyPeer decides, per the state table, which map the peer
// belongs to after this announce and whether membership changes. A stopped
// event always removes the peer outright rather than migrating it between
// maps. Caller must hold torrent.PeerLock().
func classifyPeer(t *store.Torrent, key store.PeerKey, left uint64, event string) peerClassification {
	existingLeecher, wasLeecher := t.Leechers.Get(key)
	existingSeeder, wasSeeder := t.Seeders.Get(key)

	if event == "stopped" {
		switch {
		case wasLeecher:
			return peerClassification{peer: existingLeecher, seeding: false, removeLeecher: true}
		case wasSeeder:
			return peerClassification{peer: existingSeeder, seeding: true, removeSeeder: true}
		default:
			return peerClassification{peer: &store.Peer{}, seeding: left == 0}
		}
	}

	if left > 0 {
		switch {
		case wasLeecher:
			return peerClassification{peer: existingLeecher, seeding: false}
		case wasSeeder:
			// A seeder reporting left>0 again (e.g. re-checked data) demotes
			// back to leeching rather than living in both maps at once.
			return peerClassification{peer: existingSeeder, seeding: false, decS: true, incL: true}
		default:
			return peerClassification{peer: &store.Peer{}, seeding: false, newPeer: true, incL: true}
		}
	}

	if event == "completed" {
		switch {
		case wasLeecher:
			return peerClassification{peer: existingLeecher, seeding: true, decL: true, incS: true, creditSnatch: true}
		case wasSeeder:
			return peerClassification{peer: existingSeeder, seeding: true}
		default:
			return peerClassification{peer: &store.Peer{}, seeding: true, newPeer: true, incS: true}
		}
	}

	switch {
	case wasSeeder:
		return peerClassification{peer: existingSeeder, seeding: true}
	case wasLeecher:
		return peerClassification{peer: existingLeecher, seeding: true, decL: true, incS: true}
	default:
		return peerClassification{peer: &store.Peer{}, seeding: true, newPeer: true, incS: true}
	}
}

// applyMembership mutates the torrent's peer maps to match the
// classification. Caller must hold torrent.PeerLock().
func applyMembership(t *store.Torrent, key store.PeerKey, c peerClassification) {
	switch {
	case c.newPeer:
		if c.seeding {
			t.Seeders.Put(key, c.peer)
		} else {
			t.Leechers.Put(key, c.peer)
		}
	case c.decL:
		t.Leechers.Delete(key)
		t.Seeders.Put(key, c.peer)
	case c.decS:
		t.Seeders.Delete(key)
		t.Leechers.Put(key, c.peer)
	case c.removeLeecher:
		t.Leechers.Delete(key)
	case c.removeSeeder:
		t.Seeders.Delete(key)
	}
}

// accountCumulatives applies the counter-accounting rules, returning
// the non-negative byte deltas to credit (zero on a fresh/started reset or
// on a backwards-going cumulative) and whether this was a backwards reset.
func accountCumulatives(p *store.Peer, uploaded, downloaded, corrupt uint64, reset bool) (uploadedChange, downloadChange, corruptChange int64, backward bool) {
	now := time.Now().Unix()

	if reset {
		p.Uploaded = uploaded
		p.Downloaded = downloaded
		p.Corrupt = corrupt
		p.FirstAnnounced = now
		p.LastAnnounced = 0
		p.Announces = 1

		return 0, 0, 0, false
	}

	p.Announces++

	if uploaded < p.Uploaded || downloaded < p.Downloaded {
		p.Uploaded = uploaded
		p.Downloaded = downloaded
		p.Corrupt = corrupt

		return 0, 0, 0, true
	}

	uploadedChange = int64(uploaded - p.Uploaded)
	downloadChange = int64(downloaded - p.Downloaded)

	if corrupt >= p.Corrupt {
		corruptChange = int64(corrupt - p.Corrupt)
	}

	p.Uploaded = uploaded
	p.Downloaded = downloaded
	p.Corrupt = corrupt

	return uploadedChange, downloadChange, corruptChange, false
}

// applyCounterDeltas adjusts global and per-user live counters from the
// membership transition ("Counter reconciliation").
func (e *Engine) applyCounterDeltas(user *store.User, c peerClassification) {
	if c.incL {
		e.Store.Stats.Leechers.Add(1)
		user.Leeching.Add(1)
	}

	if c.incS {
		e.Store.Stats.Seeders.Add(1)
		user.Seeding.Add(1)
	}

	if c.decL {
		e.Store.Stats.Leechers.Add(-1)
		user.Leeching.Add(-1)
	}

	if c.decS {
		e.Store.Stats.Seeders.Add(-1)
		user.Seeding.Add(-1)
	}

	if c.removeLeecher {
		e.Store.Stats.Leechers.Add(-1)
		user.Leeching.Add(-1)
	}

	if c.removeSeeder {
		e.Store.Stats.Seeders.Add(-1)
		user.Seeding.Add(-1)
	}
}

// projectSeeders implements the fairness-critical leecher-requester
// seeder walk: rotate from the torrent's cursor, skipping the
// requester's own user, deleted users, and invisible peers.
func projectSeeders(s *store.Store, t *store.Torrent, cursor store.PeerKey, limit int, requesterUserID uint32) ([][]byte, store.PeerKey) {
	var out [][]byte

	newCursor, _ := t.Seeders.RotateFrom(cursor, limit, func(_ store.PeerKey, p *store.Peer) bool {
		if p.UserID == requesterUserID || !p.Visible {
			return false
		}

		if u := s.LookupUserByID(p.UserID); u == nil || u.Deleted.Load() {
			return false
		}

		addr := p.IPPort
		out = append(out, addr[:])

		return true
	})

	return out, newCursor
}

// collectLeechers implements the leecher-list projection shared by both a
// seeding requester (leechers only) and a leeching requester's fallback
// once the seeder walk is exhausted.
func collectLeechers(s *store.Store, t *store.Torrent, limit int, requesterUserID uint32) [][]byte {
	var out [][]byte

	t.Leechers.ForEach(func(_ store.PeerKey, p *store.Peer) bool {
		if len(out) >= limit {
			return false
		}

		if p.UserID == requesterUserID || !p.Visible {
			return true
		}

		if u := s.LookupUserByID(p.UserID); u == nil || u.Deleted.Load() {
			return true
		}

		addr := p.IPPort
		out = append(out, addr[:])

		return true
	})

	return out
}

// recordPeerRow enqueues exactly one persistence row per announce, heavy
// when any tracked field changed, light otherwise (resolving the
// source's tuple-arity-sniffing open question with an explicit
// persist.PeerRecordKind tag).
func (e *Engine) recordPeerRow(userID, torrentID uint32, peerID store.PeerID, heavy, active bool,
	p *store.Peer, upspeed, downspeed uint64, now int64, ip string) {
	timespent := now - p.FirstAnnounced
	if timespent < 0 {
		timespent = 0
	}

	if !heavy {
		e.Persist.Peers.Append(persist.PeerRecord{
			Kind: persist.PeerLight,
			UserID: userID,
			TorrentID: torrentID,
			PeerID: peerID,
			Timespent: timespent,
			Announced: p.Announces,
			Mtime: now,
		})

		return
	}

	e.Persist.Peers.Append(persist.PeerRecord{
		Kind: persist.PeerHeavy,
		UserID: userID,
		TorrentID: torrentID,
		PeerID: peerID,
		Active: active,
		Uploaded: p.Uploaded,
		Downloaded: p.Downloaded,
		Upspeed: upspeed,
		Downspeed: downspeed,
		Remaining: p.Left,
		Corrupt: p.Corrupt,
		Timespent: timespent,
		Announced: p.Announces,
		IP: ip,
		UserAgent: "",
		Mtime: now,
	})
}
