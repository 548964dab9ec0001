// Package metrics exposes the tracker's live counters to Prometheus:
// process-wide request/peer/torrent/user counts from store.Stats and
// persistence/site-notification queue depths, so an operator can watch
// backpressure build up on any of the five persistence lanes or the
// site-notification queue before it starts dropping batches.
//
// Grounded on chihaya's collectors package (collectors/normal.go,
// collectors/admin.go): one prometheus.Collector computing a Desc/
// MustNewConstMetric pair per gauge/counter on every scrape, rather than
// maintaining package-level vars updated out of band.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"privateer/siteclient"
	"privateer/store"
	"privateer/store/persist"
)

// Collector reads straight through to the live Store/Pipeline/Client on
// every Collect call; there is nothing to update out of band.
type Collector struct {
	store *store.Store
	pipeline *persist.Pipeline
	site *siteclient.Client

	uptime *prometheus.Desc
	requests *prometheus.Desc
	announcesOK *prometheus.Desc
	announcesFailed *prometheus.Desc
	scrapes *prometheus.Desc
	bytesIn *prometheus.Desc
	bytesOut *prometheus.Desc
	leechers *prometheus.Desc
	seeders *prometheus.Desc
	openConnections *prometheus.Desc
	totalConnections *prometheus.Desc
	users *prometheus.Desc
	torrents *prometheus.Desc

	laneQueueDepth *prometheus.Desc
	siteQueueDepth *prometheus.Desc
}

func New(s *store.Store, p *persist.Pipeline, site *siteclient.Client) *Collector {
	return &Collector{
		store: s,
		pipeline: p,
		site: site,

		uptime: prometheus.NewDesc("privateer_uptime_seconds", "Tracker process uptime in seconds", nil, nil),
		requests: prometheus.NewDesc("privateer_requests_total", "Total HTTP requests handled", nil, nil),
		announcesOK: prometheus.NewDesc("privateer_announces_ok_total", "Announces that produced a successful response", nil, nil),
		announcesFailed: prometheus.NewDesc("privateer_announces_failed_total", "Announces that produced a bencoded failure response", nil, nil),
		scrapes: prometheus.NewDesc("privateer_scrapes_total", "Scrape requests handled", nil, nil),
		bytesIn: prometheus.NewDesc("privateer_bytes_in_total", "Cumulative uploaded bytes reported across all announces", nil, nil),
		bytesOut: prometheus.NewDesc("privateer_bytes_out_total", "Cumulative downloaded bytes reported across all announces", nil, nil),
		leechers: prometheus.NewDesc("privateer_leechers", "Peers currently leeching", nil, nil),
		seeders: prometheus.NewDesc("privateer_seeders", "Peers currently seeding", nil, nil),
		openConnections: prometheus.NewDesc("privateer_open_connections", "HTTP connections currently being served", nil, nil),
		totalConnections: prometheus.NewDesc("privateer_connections_total", "HTTP connections accepted since start", nil, nil),
		users: prometheus.NewDesc("privateer_users", "Users currently loaded in the store", nil, nil),
		torrents: prometheus.NewDesc("privateer_torrents", "Torrents currently loaded in the store", nil, nil),

		laneQueueDepth: prometheus.NewDesc("privateer_persist_queue_depth",
			"Number of unflushed batches queued on a persistence lane", []string{"lane"}, nil),
		siteQueueDepth: prometheus.NewDesc("privateer_site_queue_depth",
			"Number of pending token-expiry notifications queued for the site", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.requests
	ch <- c.announcesOK
	ch <- c.announcesFailed
	ch <- c.scrapes
	ch <- c.bytesIn
	ch <- c.bytesOut
	ch <- c.leechers
	ch <- c.seeders
	ch <- c.openConnections
	ch <- c.totalConnections
	ch <- c.users
	ch <- c.torrents
	ch <- c.laneQueueDepth
	ch <- c.siteQueueDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.store.Stats

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, stats.Uptime().Seconds())
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(stats.Requests.Load()))
	ch <- prometheus.MustNewConstMetric(c.announcesOK, prometheus.CounterValue, float64(stats.AnnouncesOK.Load()))
	ch <- prometheus.MustNewConstMetric(c.announcesFailed, prometheus.CounterValue, float64(stats.AnnouncesFailed.Load()))
	ch <- prometheus.MustNewConstMetric(c.scrapes, prometheus.CounterValue, float64(stats.Scrapes.Load()))
	ch <- prometheus.MustNewConstMetric(c.bytesIn, prometheus.CounterValue, float64(stats.BytesIn.Load()))
	ch <- prometheus.MustNewConstMetric(c.bytesOut, prometheus.CounterValue, float64(stats.BytesOut.Load()))
	ch <- prometheus.MustNewConstMetric(c.leechers, prometheus.GaugeValue, float64(stats.Leechers.Load()))
	ch <- prometheus.MustNewConstMetric(c.seeders, prometheus.GaugeValue, float64(stats.Seeders.Load()))
	ch <- prometheus.MustNewConstMetric(c.openConnections, prometheus.GaugeValue, float64(stats.OpenConnections.Load()))
	ch <- prometheus.MustNewConstMetric(c.totalConnections, prometheus.CounterValue, float64(stats.TotalConnections.Load()))

	c.store.UsersMutex.RLock()
	userCount := len(c.store.Users)
	c.store.UsersMutex.RUnlock()
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(userCount))

	c.store.TorrentsMutex.RLock()
	torrentCount := len(c.store.Torrents)
	c.store.TorrentsMutex.RUnlock()
	ch <- prometheus.MustNewConstMetric(c.torrents, prometheus.GaugeValue, float64(torrentCount))

	if c.pipeline != nil {
		ch <- prometheus.MustNewConstMetric(c.laneQueueDepth, prometheus.GaugeValue, float64(c.pipeline.Users.QueueDepth()), "users")
		ch <- prometheus.MustNewConstMetric(c.laneQueueDepth, prometheus.GaugeValue, float64(c.pipeline.Torrents.QueueDepth()), "torrents")
		ch <- prometheus.MustNewConstMetric(c.laneQueueDepth, prometheus.GaugeValue, float64(c.pipeline.Snatches.QueueDepth()), "snatches")
		ch <- prometheus.MustNewConstMetric(c.laneQueueDepth, prometheus.GaugeValue, float64(c.pipeline.Peers.QueueDepth()), "peers")
		ch <- prometheus.MustNewConstMetric(c.laneQueueDepth, prometheus.GaugeValue, float64(c.pipeline.Tokens.QueueDepth()), "tokens")
	}

	if c.site != nil {
		ch <- prometheus.MustNewConstMetric(c.siteQueueDepth, prometheus.GaugeValue, float64(c.site.QueueDepth()))
	}
}
