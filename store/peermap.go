package store

import "container/list"

// PeerMap is an insertion-ordered map of PeerKey to *Peer. Ordering is
// required by the announce engine's seeder rotation: the fairness
// cursor walks the map in the order peers first joined it, and an
// update-in-place (a reused leecher or seeder re-announcing) must not move
// its position, only a fresh insertion appends at the back.
//
// Grounded on chihaya's atomic-counted peer maps (database/types/torrent.go),
// generalized with a container/list backing since plain Go maps do not
// preserve iteration order.
type PeerMap struct {
	order *list.List // of *peerMapEntry
	index map[PeerKey]*list.Element
}

type peerMapEntry struct {
	key PeerKey
	peer *Peer
}

func NewPeerMap() *PeerMap {
	return &PeerMap{
		order: list.New(),
		index: make(map[PeerKey]*list.Element),
	}
}

func (m *PeerMap) Len() int {
	return len(m.index)
}

func (m *PeerMap) Get(key PeerKey) (*Peer, bool) {
	el, ok := m.index[key]
	if !ok {
		return nil, false
	}

	return el.Value.(*peerMapEntry).peer, true
}

func (m *PeerMap) Has(key PeerKey) bool {
	_, ok := m.index[key]
	return ok
}

// Put inserts peer at the back if key is new, or updates the value of an
// existing entry in place without moving it. Returns true if this was a
// fresh insertion.
func (m *PeerMap) Put(key PeerKey, peer *Peer) (inserted bool) {
	if el, ok := m.index[key]; ok {
		el.Value.(*peerMapEntry).peer = peer
		return false
	}

	el := m.order.PushBack(&peerMapEntry{key: key, peer: peer})
	m.index[key] = el

	return true
}

func (m *PeerMap) Delete(key PeerKey) (*Peer, bool) {
	el, ok := m.index[key]
	if !ok {
		return nil, false
	}

	m.order.Remove(el)
	delete(m.index, key)

	return el.Value.(*peerMapEntry).peer, true
}

// ForEach walks the map in insertion order, stopping early if visit returns false.
func (m *PeerMap) ForEach(visit func(key PeerKey, p *Peer) bool) {
	for el := m.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*peerMapEntry)
		if !visit(entry.key, entry.peer) {
			return
		}
	}
}

// RotateFrom walks the map starting immediately after `after` (wrapping
// around, and starting from the front if `after` is not present), visiting
// at most one full rotation's worth of entries. For each entry it calls
// accept; an accepted entry counts toward limit and updates the returned
// cursor. Stops once limit accepted entries have been emitted or a full
// rotation completes, whichever comes first.
//
// This implements the seeder fairness walk in: "walk the torrent's
// seeders starting immediately after last_selected_seeder (wrap around),
// stopping one short of that cursor (full rotation)".
func (m *PeerMap) RotateFrom(after PeerKey, limit int, accept func(key PeerKey, p *Peer) bool) (newCursor PeerKey, accepted int) {
	newCursor = after

	if m.order.Len() == 0 || limit <= 0 {
		return newCursor, 0
	}

	start := m.order.Front()

	if el, ok := m.index[after]; ok {
		start = el.Next()
		if start == nil {
			start = m.order.Front()
		}
	}

	el := start
	visited := 0
	total := m.order.Len()

	for visited < total && accepted < limit {
		entry := el.Value.(*peerMapEntry)

		if accept(entry.key, entry.peer) {
			newCursor = entry.key
			accepted++
		}

		visited++

		el = el.Next()
		if el == nil {
			el = m.order.Front()
		}
	}

	return newCursor, accepted
}
