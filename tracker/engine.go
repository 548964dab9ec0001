package tracker

import (
	"net"
	"sync/atomic"

	"privateer/siteclient"
	"privateer/store"
	"privateer/store/persist"
)

// Engine bundles the swarm store with its persistence and site-notification
// sinks and the handful of tunables the announce/scrape/control/report
// handlers need. One Engine is shared by every HTTP handler
// goroutine; all its mutation paths go through *store.Store's own locking.
type Engine struct {
	Store *store.Store
	Persist *persist.Pipeline
	Site *siteclient.Client

	announceIntervalSeconds atomic.Int32 // mutated by update_announce_interval
	NumwantLimit int
	PeerInactivitySeconds int64

	ReportPassword string
	SitePassword string
}

// New builds an Engine with its runtime-reconfigurable announce interval
// seeded from announceIntervalSeconds.
func New(s *store.Store, p *persist.Pipeline, site *siteclient.Client, announceIntervalSeconds, numwantLimit int, peerInactivitySeconds int64, reportPassword, sitePassword string) *Engine {
	e := &Engine{
		Store: s,
		Persist: p,
		Site: site,
		NumwantLimit: numwantLimit,
		PeerInactivitySeconds: peerInactivitySeconds,
		ReportPassword: reportPassword,
		SitePassword: sitePassword,
	}
	e.announceIntervalSeconds.Store(int32(announceIntervalSeconds))

	return e
}

func (e *Engine) AnnounceInterval() int {
	return int(e.announceIntervalSeconds.Load())
}

func (e *Engine) SetAnnounceInterval(seconds int) {
	e.announceIntervalSeconds.Store(int32(seconds))
}

// reservedIPv4Blocks mirrors chihaya's private-block list
// (server/announce.go init) used to flag addresses that must not be
// advertised to other peers.
var reservedIPv4Blocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"0.0.0.0/8",
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil {
			reservedIPv4Blocks = append(reservedIPv4Blocks, block)
		}
	}
}

func isReservedIPv4(ip net.IP) bool {
	for _, block := range reservedIPv4Blocks {
		if block.Contains(ip) {
			return true
		}
	}

	return false
}
