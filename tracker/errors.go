// Package tracker implements the announce engine, scrape, control plane and
// report endpoints (C4/C4b/C5/C5b) against a *store.Store.
package tracker

import "errors"

// ErrClientProtocol covers bad/missing fields, wrong peer-id length,
// non-compact requests, non-whitelisted clients and unknown passkeys:
// surfaced to the client as a bencoded failure reason with a 5400-second
// interval; the tracker otherwise continues normally.
var ErrClientProtocol = errors.New("tracker: client protocol error")

// ErrPolicy covers policy denials (e.g. leeching forbidden) that are
// reported only after accounting has already been applied.
var ErrPolicy = errors.New("tracker: policy error")

// failureIntervalSeconds is the interval/min-interval pair returned alongside
// every bencoded failure reason ("with interval and min interval both
// 5400").
const failureIntervalSeconds = 5400
