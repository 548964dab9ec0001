package tracker

import (
	"strconv"
	"time"

	"privateer/log"
	"privateer/store"
	"privateer/tracker/params"
)

// controlTorrentHashSize/controlPasskeySize are the fixed widths the packed
// list actions (update_torrents/remove_users) slice their raw query value
// into.
const (
	controlTorrentHashSize = 20
	controlPasskeySize = 32
)

// Control dispatches one control-plane action. Every action, known
// or not, returns the literal "success"; an unknown action only logs a
// warning.
func (e *Engine) Control(qp *params.QueryParam) string {
	action, _ := qp.Get("action")

	switch action {
	case "change_passkey":
		e.controlChangePasskey(qp)
	case "add_torrent":
		e.controlAddTorrent(qp, false)
	case "update_torrent":
		e.controlAddTorrent(qp, true)
	case "update_torrents":
		e.controlUpdateTorrents(qp)
	case "add_token":
		// Mirrors the source's add_token/remove_token inversion: this
		// branch removes from the tokened-users set, matching the
		// upstream action's actual (not nominal) effect.
		e.controlRemoveToken(qp)
	case "remove_token":
		e.controlRemoveToken(qp)
	case "delete_torrent":
		e.controlDeleteTorrent(qp)
	case "add_user":
		e.controlAddUser(qp)
	case "remove_user":
		e.controlRemoveUser(qp)
	case "remove_users":
		e.controlRemoveUsers(qp)
	case "update_user":
		e.controlUpdateUser(qp)
	case "add_whitelist":
		e.controlAddWhitelist(qp)
	case "remove_whitelist":
		e.controlRemoveWhitelist(qp)
	case "edit_whitelist":
		e.controlEditWhitelist(qp)
	case "update_announce_interval":
		e.controlUpdateAnnounceInterval(qp)
	case "info_torrent":
		e.controlInfoTorrent(qp)
	default:
		log.Warning.Printf("tracker: unknown control action %q", action)
	}

	return "success"
}

func parseFreeleech(qp *params.QueryParam) store.FreeleechVariant {
	v, _ := qp.Get("freetorrent")

	switch v {
	case "0":
		return store.FreeleechNormal
	case "1":
		return store.FreeleechFree
	default:
		return store.FreeleechNeutral
	}
}

func (e *Engine) controlChangePasskey(qp *params.QueryParam) {
	oldKey, _ := qp.Get("oldpasskey")
	newKey, _ := qp.Get("newpasskey")

	if !e.Store.ChangePasskey(oldKey, newKey) {
		log.Warning.Printf("tracker: no user with passkey %q to rekey to %q", oldKey, newKey)
	}
}

func (e *Engine) controlAddTorrent(qp *params.QueryParam, updateOnly bool) {
	hashes := qp.InfoHashes()
	if len(hashes) != 1 {
		log.Warning.Printf("tracker: %s missing info_hash", actionLabel(updateOnly))
		return
	}

	id, _ := qp.GetUint64("id")
	freeleech := parseFreeleech(qp)

	if !e.Store.AddOrUpdateTorrent(uint32(id), hashes[0], freeleech, updateOnly) {
		log.Warning.Printf("tracker: failed to find torrent to update freeleech to %d", freeleech)
	}
}

func actionLabel(updateOnly bool) string {
	if updateOnly {
		return "update_torrent"
	}

	return "add_torrent"
}

func (e *Engine) controlUpdateTorrents(qp *params.QueryParam) {
	raw, _ := qp.Get("info_hashes")
	freeleech := parseFreeleech(qp)

	for pos := 0; pos+controlTorrentHashSize <= len(raw); pos += controlTorrentHashSize {
		hash := store.TorrentHashFromBytes([]byte(raw[pos: pos+controlTorrentHashSize]))
		if !e.Store.AddOrUpdateTorrent(0, hash, freeleech, true) {
			log.Warning.Printf("tracker: failed to find torrent in packed update_torrents list")
		}
	}
}

func (e *Engine) controlRemoveToken(qp *params.QueryParam) {
	hashes := qp.InfoHashes()
	if len(hashes) != 1 {
		log.Warning.Printf("tracker: remove_token missing info_hash")
		return
	}

	userID, _ := qp.GetUint64("userid")

	if !e.Store.RemoveToken(hashes[0], uint32(userID)) {
		log.Warning.Printf("tracker: failed to find torrent to remove token for user %d", userID)
	}
}

func (e *Engine) controlDeleteTorrent(qp *params.QueryParam) {
	hashes := qp.InfoHashes()
	if len(hashes) != 1 {
		log.Warning.Printf("tracker: delete_torrent missing info_hash")
		return
	}

	reason := store.ErrorCodeOther

	if raw, ok := qp.Get("reason"); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			reason = store.ErrorCode(n)
		}
	}

	if !e.Store.DeleteTorrent(hashes[0], reason, time.Now()) {
		log.Warning.Printf("tracker: failed to find torrent to delete")
	}
}

func (e *Engine) controlAddUser(qp *params.QueryParam) {
	passkey, _ := qp.Get("passkey")
	id, _ := qp.GetUint64("id")
	visible, _ := qp.Get("visible")

	e.Store.AddUser(uint32(id), passkey, true, visible == "0")
}

func (e *Engine) controlRemoveUser(qp *params.QueryParam) {
	passkey, _ := qp.Get("passkey")
	e.Store.RemoveUser(passkey)
}

func (e *Engine) controlRemoveUsers(qp *params.QueryParam) {
	raw, _ := qp.Get("passkeys")

	for pos := 0; pos+controlPasskeySize <= len(raw); pos += controlPasskeySize {
		e.Store.RemoveUser(raw[pos: pos+controlPasskeySize])
	}
}

func (e *Engine) controlUpdateUser(qp *params.QueryParam) {
	passkey, _ := qp.Get("passkey")
	canLeech, _ := qp.Get("can_leech")
	visible, _ := qp.Get("visible")

	if !e.Store.UpdateUser(passkey, canLeech != "0", visible == "0") {
		log.Warning.Printf("tracker: no user with passkey %q found to update", passkey)
	}
}

func (e *Engine) controlAddWhitelist(qp *params.QueryParam) {
	peerID, _ := qp.Get("peer_id")
	e.Store.AddWhitelist(peerID)
}

func (e *Engine) controlRemoveWhitelist(qp *params.QueryParam) {
	peerID, _ := qp.Get("peer_id")
	e.Store.RemoveWhitelist(peerID)
}

func (e *Engine) controlEditWhitelist(qp *params.QueryParam) {
	oldID, _ := qp.Get("old_peer_id")
	newID, _ := qp.Get("new_peer_id")
	e.Store.EditWhitelist(oldID, newID)
}

func (e *Engine) controlUpdateAnnounceInterval(qp *params.QueryParam) {
	raw, ok := qp.GetUint64("announce_interval")
	if !ok {
		return
	}

	e.SetAnnounceInterval(int(raw))
}

func (e *Engine) controlInfoTorrent(qp *params.QueryParam) {
	hashes := qp.InfoHashes()
	if len(hashes) != 1 {
		log.Warning.Printf("tracker: info_torrent missing info_hash")
		return
	}

	t := e.Store.LookupTorrent(hashes[0])
	if t == nil {
		log.Warning.Printf("tracker: info_torrent could not find torrent")
		return
	}

	t.PeerLock()
	seeders, leechers := t.Seeders.Len(), t.Leechers.Len()
	t.PeerUnlock()

	log.Info.Printf("tracker: torrent %d freetorrent=%d balance=%d seeders=%d leechers=%d",
		t.ID.Load(), t.FreeleechVariant(), t.Balance.Load(), seeders, leechers)
}
