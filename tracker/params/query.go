// Package params parses the announce/scrape/control/report query string.
//
// Grounded on chihaya's server/params/query.go (same hand-rolled
// split-on-&-then-= parser, percent-decoding every key and value while
// parsing), adapted to
// collect every info_hash the caller sent rather than chihaya's bespoke
// first-is-an-error rule, and built on store.TorrentHash/store.PeerID
// instead of chihaya's cdb types.
package params

import (
	"net/url"
	"strconv"
	"strings"

	"privateer/store"
)

type QueryParam struct {
	query string
	params map[string]string
	infoHashes []store.TorrentHash
}

func ParseQuery(query string) (*QueryParam, error) {
	qp := &QueryParam{
		query: query,
		params: make(map[string]string),
	}

	for query != "" {
		key := query
		if i := strings.Index(key, "&"); i >= 0 {
			key, query = key[:i], key[i+1:]
		} else {
			query = ""
		}

		if key == "" {
			continue
		}

		value := ""
		if i := strings.Index(key, "="); i >= 0 {
			key, value = key[:i], key[i+1:]
		}

		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}

		if decodedKey == "info_hash" {
			if len(decodedValue) == store.TorrentHashSize {
				qp.infoHashes = append(qp.infoHashes, store.TorrentHashFromBytes([]byte(decodedValue)))
			}
		} else {
			qp.params[strings.ToLower(decodedKey)] = decodedValue
		}
	}

	return qp, nil
}

func (qp *QueryParam) getUint(which string, bitSize int) (ret uint64, exists bool) {
	str, exists := qp.params[which]
	if exists {
		var err error

		ret, err = strconv.ParseUint(str, 10, bitSize)
		if err != nil {
			exists = false
		}
	}

	return
}

func (qp *QueryParam) Get(which string) (string, bool) {
	v, ok := qp.params[which]
	return v, ok
}

func (qp *QueryParam) GetUint64(which string) (uint64, bool) {
	return qp.getUint(which, 64)
}

func (qp *QueryParam) GetUint16(which string) (uint16, bool) {
	v, ok := qp.getUint(which, 16)
	return uint16(v), ok
}

func (qp *QueryParam) InfoHashes() []store.TorrentHash {
	return qp.infoHashes
}

func (qp *QueryParam) RawQuery() string {
	return qp.query
}
