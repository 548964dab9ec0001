package tracker

import (
	"fmt"
	"strings"

	"privateer/tracker/params"
)

// Report handles one GET /{passkey}/report request: `get=stats`
// renders an uptime-plus-counters snapshot, `get=user&key=<passkey>`
// renders that user's live leeching/seeding, anything else is rejected.
//
// Grounded on chihaya's server/alive.go /check endpoint shape,
// generalized to the source's human-readable multi-line report text
// (original_source/margay/worker.py handle_report) rather than chihaya's
// JSON health body.
func (e *Engine) Report(qp *params.QueryParam) string {
	get, _ := qp.Get("get")

	switch get {
	case "stats":
		return e.reportStats()
	case "user":
		key, ok := qp.Get("key")
		if !ok || key == "" {
			return "Invalid action\n"
		}

		return e.reportUser(key)
	default:
		return "Invalid action\n"
	}
}

func (e *Engine) reportStats() string {
	stats := e.Store.Stats

	uptime := stats.Uptime()
	days := int64(uptime.Hours()) / 24
	hours := int64(uptime.Hours()) % 24
	minutes := int64(uptime.Minutes()) % 60
	seconds := int64(uptime.Seconds()) % 60

	var b strings.Builder

	fmt.Fprintf(&b, "Uptime %d days, %02d:%02d:%02d\n", days, hours, minutes, seconds)
	fmt.Fprintf(&b, "%d requests handled\n", stats.Requests.Load())
	fmt.Fprintf(&b, "%d successful announcements\n", stats.AnnouncesOK.Load())
	fmt.Fprintf(&b, "%d failed announcements\n", stats.AnnouncesFailed.Load())
	fmt.Fprintf(&b, "%d scrapes\n", stats.Scrapes.Load())
	fmt.Fprintf(&b, "%d leechers tracked\n", stats.Leechers.Load())
	fmt.Fprintf(&b, "%d seeders tracked\n", stats.Seeders.Load())
	fmt.Fprintf(&b, "%d bytes read\n", stats.BytesIn.Load())
	fmt.Fprintf(&b, "%d bytes written\n", stats.BytesOut.Load())

	return b.String()
}

func (e *Engine) reportUser(passkey string) string {
	u := e.Store.LookupUser(passkey)
	if u == nil {
		return ""
	}

	return fmt.Sprintf("%d leeching\n%d seeding\n", u.Leeching.Load(), u.Seeding.Load())
}
