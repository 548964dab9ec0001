// Package bencenc is a direct-to-buffer streaming bencode writer for the
// tracker's response bodies. Bencoding is an external concern ("the
// response builder produces a dictionary value; the codec is swappable");
// this keeps chihaya's hand-rolled streaming approach (util/bencode.go)
// rather than building an intermediate map[string]any and handing it to a
// general-purpose codec, since the hot path (announce/scrape) never needs
// to represent a dict as a Go value, only to emit one.
package bencenc

import (
	"bytes"
	"strconv"
	"time"
)

func writeInt64[T ~int64 | ~int](buf *bytes.Buffer, v T) {
	var lenBuf [20]byte
	buf.Write(strconv.AppendInt(lenBuf[:0], int64(v), 10))
}

func writeString[T ~string | ~[]byte](buf *bytes.Buffer, v T) {
	writeInt64(buf, len(v))
	buf.WriteByte(':')
	buf.Write([]byte(v))
}

func writeNumber[T ~int64 | ~int](buf *bytes.Buffer, v T) {
	buf.WriteByte('i')
	writeInt64(buf, v)
	buf.WriteByte('e')
}

// Failure writes a bencoded `{failure reason, interval, min interval}`
// dict, the universal envelope for ClientProtocolError/PolicyError per.
func Failure(buf *bytes.Buffer, reason string, interval time.Duration) {
	buf.WriteByte('d')

	writeString(buf, "failure reason")
	writeString(buf, reason)

	writeString(buf, "interval")
	writeNumber(buf, interval/time.Second)

	writeString(buf, "min interval")
	writeNumber(buf, interval/time.Second)

	buf.WriteByte('e')
}

// ScrapeHeader/ScrapeTorrent/ScrapeFooter together write
// `{files: {hash: {complete, downloaded, incomplete},...}}` per.
func ScrapeHeader(buf *bytes.Buffer) {
	buf.WriteByte('d')
	writeString(buf, "files")
	buf.WriteByte('d')
}

func ScrapeTorrent(buf *bytes.Buffer, infoHashHex string, complete, downloaded, incomplete int64) {
	writeString(buf, infoHashHex)

	buf.WriteByte('d')

	writeString(buf, "complete")
	writeNumber(buf, complete)

	writeString(buf, "downloaded")
	writeNumber(buf, downloaded)

	writeString(buf, "incomplete")
	writeNumber(buf, incomplete)

	buf.WriteByte('e')
}

func ScrapeFooter(buf *bytes.Buffer) {
	buf.WriteByte('e') // close files
	buf.WriteByte('e') // close root dict
}

// AnnounceHeader/AnnouncePeers/AnnounceFooter write the response dict.
func AnnounceHeader(buf *bytes.Buffer, complete, incomplete, downloaded int64, interval, minInterval int, warning string) {
	buf.WriteByte('d')

	writeString(buf, "complete")
	writeNumber(buf, complete)

	writeString(buf, "downloaded")
	writeNumber(buf, downloaded)

	writeString(buf, "incomplete")
	writeNumber(buf, incomplete)

	writeString(buf, "interval")
	writeNumber(buf, interval)

	writeString(buf, "min interval")
	writeNumber(buf, minInterval)

	if warning != "" {
		writeString(buf, "warning message")
		writeString(buf, warning)
	}
}

// AnnouncePeers writes the `peers` key as a single concatenated binary
// string of 6-byte compact entries ("Compact peer list").
func AnnouncePeers(buf *bytes.Buffer, peers [][]byte) {
	writeString(buf, "peers")

	total := 0
	for _, p := range peers {
		total += len(p)
	}

	writeInt64(buf, total)
	buf.WriteByte(':')

	for _, p := range peers {
		buf.Write(p)
	}
}

func AnnounceFooter(buf *bytes.Buffer) {
	buf.WriteByte('e')
}
