// Package siteclient is the site client (C3): it notifies the upstream
// site when a freeleech token should expire, by batching `user:torrent`
// pairs into a comma-separated buffer and posting each batch as an HTTP GET
// against the site's tools.php endpoint.
//
// Grounded directly on original_source/margay/site_comm.py's SiteComm:
// same 350-char buffer threshold, same query fields
// (key/type=expiretoken/action=ocelot/tokens), same pop-on-200,
// retry-at-head-otherwise policy, same readonly short-circuit. The queue
// and buffer shape borrows persist.Lane's long-lived-writer design rather
// than Margay's respawn-on-demand threading.Thread, since the same flaw
// (a flush racing a still-running writer) applies here too.
package siteclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"privateer/log"
)

// bufferFlushThreshold is the point at which an accumulating token buffer
// is pushed to the queue and a fresh buffer starts ("~350 chars").
const bufferFlushThreshold = 350

type Client struct {
	httpClient *http.Client

	siteHost string
	sitePath string
	sitePassword string

	readonly func() bool

	mu sync.Mutex
	buffer strings.Builder
	queue [][]byte

	notify chan struct{}
}

// New constructs a site client. siteHost/sitePath/sitePassword come from the
// gazelle config section; readonly is polled at flush time so a live
// config/debug toggle takes effect without restarting the writer.
func New(siteHost, sitePath, sitePassword string, readonly func() bool) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		siteHost: siteHost,
		sitePath: sitePath,
		sitePassword: sitePassword,
		readonly: readonly,
		notify: make(chan struct{}, 1),
	}
}

// ExpireToken appends a user:torrent pair to the pending buffer, flushing
// it to the queue once it crosses bufferFlushThreshold.
func (c *Client) ExpireToken(userID, torrentID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buffer.Len() > 0 {
		c.buffer.WriteByte(',')
	}

	fmt.Fprintf(&c.buffer, "%d:%d", userID, torrentID)

	if c.buffer.Len() > bufferFlushThreshold {
		log.Info.Print("siteclient: flushing overloaded token buffer")
		c.enqueueLocked()
	}
}

// Tick pushes any partially-filled buffer to the queue; called by the
// scheduler on each flush tick alongside the persistence lanes.
func (c *Client) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readonly != nil && c.readonly() {
		c.buffer.Reset()
		return
	}

	if c.buffer.Len() == 0 {
		if len(c.queue) > 0 {
			select {
			case c.notify <- struct{}{}:
			default:
			}
		}
		return
	}

	c.enqueueLocked()
}

// enqueueLocked must be called with mu held.
func (c *Client) enqueueLocked() {
	c.queue = append(c.queue, []byte(c.buffer.String()))
	c.buffer.Reset()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// QueueDepth reports the number of un-flushed batches, for metrics.
func (c *Client) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// Buffered returns the pending (not yet ticked) buffer contents.
func (c *Client) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.buffer.String()
}

func (c *Client) peekHead() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return "", false
	}

	return string(c.queue[0]), true
}

func (c *Client) popHead() {
	c.mu.Lock()
	c.queue = c.queue[1:]
	c.mu.Unlock()
}

// Run is the client's writer task: it wakes on Tick's notify, drains the
// queue head-to-tail, and blocks again once empty. A non-200 response
// leaves the batch at the queue head, matching Margay's retry policy.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}

		for {
			tokens, ok := c.peekHead()
			if !ok {
				break
			}

			if !c.postBatch(ctx, tokens) {
				break
			}

			c.popHead()
		}
	}
}

// postBatch posts one batch and reports whether it can be popped.
func (c *Client) postBatch(ctx context.Context, tokens string) bool {
	endpoint := fmt.Sprintf("https://%s/%s", c.siteHost, strings.TrimPrefix(c.sitePath, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Error.Printf("siteclient: building request: %s", err)
		return false
	}

	q := url.Values{
		"key": {c.sitePassword},
		"type": {"expiretoken"},
		"action": {"ocelot"},
		"tokens": {tokens},
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error.Printf("siteclient: request failed: %s", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error.Printf("siteclient: response returned status %d when expiring a token batch", resp.StatusCode)
		return false
	}

	return true
}
