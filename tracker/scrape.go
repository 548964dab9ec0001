package tracker

import (
	"bytes"

	"privateer/bencenc"
	"privateer/tracker/params"
)

// Scrape handles one GET /{passkey}/scrape request: for each info_hash
// present in the query, emit that torrent's complete/incomplete/downloaded
// counts; hashes with no matching torrent are silently omitted.
//
// Grounded on chihaya's server/scrape.go response shape, generalized
// to emit the hash as the raw 20-byte dictionary key the original emits
// rather than chihaya's hex-keyed response.
func (e *Engine) Scrape(qp *params.QueryParam, w *bytes.Buffer) {
	hashes := qp.InfoHashes()

	e.Store.Stats.Scrapes.Add(1)

	bencenc.ScrapeHeader(w)

	for _, hash := range hashes {
		torrent := e.Store.LookupTorrent(hash)
		if torrent == nil {
			continue
		}

		torrent.PeerLock()
		seeders := torrent.Seeders.Len()
		leechers := torrent.Leechers.Len()
		torrent.PeerUnlock()

		bencenc.ScrapeTorrent(w, string(hash[:]),
			int64(seeders), int64(torrent.Completed.Load()), int64(leechers))
	}

	bencenc.ScrapeFooter(w)
}
