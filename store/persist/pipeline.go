package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Pipeline wires the five lanes to a MySQL connection pool and owns their
// writer goroutines. Startup flush (truncating live peers and
// zeroing seeder/leecher columns) is Pipeline.ResetLivePeers(), called once
// before the store begins accepting traffic, matching "Startup flush:
// before serving, truncate the live peers table and zero seeder/leecher
// columns on torrents" and
// original_source/margay/database.py's _clear_peer_data.
type Pipeline struct {
	db *sql.DB
	retrier *Retrier

	Users *Lane[UserRecord]
	Torrents *Lane[TorrentRecord]
	Snatches *Lane[SnatchRecord]
	Peers *Lane[PeerRecord]
	Tokens *Lane[TokenRecord]
}

// peerLaneMaxQueue is the backpressure ceiling from: "if the queue
// already exceeds 1000 batches, drop the oldest batch before appending the
// new one".
const peerLaneMaxQueue = 1000

func New(db *sql.DB, readonly func() bool) *Pipeline {
	p := &Pipeline{db: db, retrier: NewRetrier()}

	p.Users = NewLane[UserRecord](p.flushUsers, readonly)
	p.Torrents = NewLane[TorrentRecord](p.flushTorrents, readonly)
	p.Snatches = NewLane[SnatchRecord](p.flushSnatches, readonly)
	p.Peers = NewLane[PeerRecord](p.flushPeers, readonly).WithBackpressure(peerLaneMaxQueue)
	p.Tokens = NewLane[TokenRecord](p.flushTokens, readonly)

	return p
}

// Run starts every lane's writer goroutine; blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	go p.Users.Run(ctx)
	go p.Torrents.Run(ctx)
	go p.Snatches.Run(ctx)
	go p.Peers.Run(ctx)
	go p.Tokens.Run(ctx)

	<-ctx.Done()
}

// TickAll snapshots every lane's buffer into its queue; called by the
// scheduler on each flush tick.
func (p *Pipeline) TickAll() {
	p.Users.Tick()
	p.Torrents.Tick()
	p.Snatches.Tick()
	p.Peers.Tick()
	p.Tokens.Tick()
}

// ResetLivePeers truncates the live-peer table and zeroes the torrents
// table's seeder/leecher counts. Peer counts are rebuilt from live
// announces as they arrive.
func (p *Pipeline) ResetLivePeers(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "TRUNCATE xbt_files_users"); err != nil {
		return fmt.Errorf("persist: truncating xbt_files_users: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, "UPDATE torrents SET Seeders = 0, Leechers = 0"); err != nil {
		return fmt.Errorf("persist: zeroing torrent peer counts: %w", err)
	}

	return nil
}

func (p *Pipeline) flushUsers(batch []UserRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO users_main (ID, Uploaded, Downloaded) VALUES ")

	args := make([]any, 0, len(batch)*3)

	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString("(?,?,?)")
		args = append(args, r.UserID, r.UpDelta, r.DownDelta)
	}

	sb.WriteString(" ON DUPLICATE KEY UPDATE " +
		"Uploaded = Uploaded + VALUES(Uploaded), Downloaded = Downloaded + VALUES(Downloaded)")

	_, err := p.retrier.Exec(p.db, sb.String(), args...)

	return err
}

func (p *Pipeline) flushTorrents(batch []TorrentRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO torrents (ID, Seeders, Leechers, Snatched, Balance, last_action) VALUES ")

	args := make([]any, 0, len(batch)*6)

	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString("(?,?,?,?,?,FROM_UNIXTIME(?))")
		args = append(args, r.TorrentID, r.Seeders, r.Leechers, r.SnatchDelta, r.Balance, r.Flushed)
	}

	sb.WriteString(" ON DUPLICATE KEY UPDATE " +
		"Seeders = VALUES(Seeders), Leechers = VALUES(Leechers), " +
		"Snatched = Snatched + VALUES(Snatched), Balance = VALUES(Balance), " +
		"last_action = IF(VALUES(Seeders) > 0, NOW(), last_action)")

	if _, err := p.retrier.Exec(p.db, sb.String(), args...); err != nil {
		return err
	}

	// Garbage sweep: rows with an empty info_hash are orphaned placeholder
	// inserts from a prior bug; has the tracker keep cleaning them up
	// after every torrent batch rather than relying on a one-time fix.
	_, err := p.retrier.Exec(p.db, "DELETE FROM torrents WHERE info_hash = ''")

	return err
}

func (p *Pipeline) flushSnatches(batch []SnatchRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO xbt_snatched (uid, fid, tstamp, IP) VALUES ")

	args := make([]any, 0, len(batch)*4)

	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString("(?,?,?,?)")
		args = append(args, r.UserID, r.TorrentID, r.At, r.IP)
	}

	_, err := p.retrier.Exec(p.db, sb.String(), args...)

	return err
}

func (p *Pipeline) flushTokens(batch []TokenRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO users_freeleeches (UserID, TorrentID, Downloaded) VALUES ")

	args := make([]any, 0, len(batch)*3)

	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString("(?,?,?)")
		args = append(args, r.UserID, r.TorrentID, r.Downloaded)
	}

	_, err := p.retrier.Exec(p.db, sb.String(), args...)

	return err
}

// flushPeers dispatches each record by its explicit Kind rather than by
// tuple width: light rows reset the speed
// columns to zero and touch only timespent/announced/mtime, heavy rows
// carry the full byte/speed/corrupt/IP/useragent set. Both upsert on
// (uid, fid, peer_id).
func (p *Pipeline) flushPeers(batch []PeerRecord) error {
	light, heavy := splitPeerBatch(batch)

	if len(light) > 0 {
		if err := p.flushLightPeers(light); err != nil {
			return err
		}
	}

	if len(heavy) > 0 {
		if err := p.flushHeavyPeers(heavy); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) flushLightPeers(batch []PeerRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO xbt_files_users (uid, fid, timespent, announced, peer_id, mtime) VALUES ")

	args := make([]any, 0, len(batch)*6)

	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString("(?,?,?,?,?,?)")
		args = append(args, r.UserID, r.TorrentID, r.Timespent, r.Announced, r.PeerID[:], r.Mtime)
	}

	sb.WriteString(" ON DUPLICATE KEY UPDATE " +
		"upspeed = 0, downspeed = 0, timespent = VALUES(timespent), " +
		"announced = VALUES(announced), mtime = VALUES(mtime)")

	_, err := p.retrier.Exec(p.db, sb.String(), args...)

	return err
}

func (p *Pipeline) flushHeavyPeers(batch []PeerRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO xbt_files_users " +
		"(uid, fid, active, uploaded, downloaded, upspeed, downspeed, remaining, corrupt, " +
		"timespent, announced, ip, peer_id, useragent, mtime) VALUES ")

	args := make([]any, 0, len(batch)*15)

	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString("(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)")
		args = append(args,
			r.UserID, r.TorrentID, boolToInt(r.Active), r.Uploaded, r.Downloaded,
			r.Upspeed, r.Downspeed, r.Remaining, r.Corrupt,
			r.Timespent, r.Announced, r.IP, r.PeerID[:], r.UserAgent, r.Mtime)
	}

	sb.WriteString(" ON DUPLICATE KEY UPDATE " +
		"active = VALUES(active), uploaded = VALUES(uploaded), downloaded = VALUES(downloaded), " +
		"upspeed = VALUES(upspeed), downspeed = VALUES(downspeed), remaining = VALUES(remaining), " +
		"corrupt = VALUES(corrupt), timespent = VALUES(timespent), announced = VALUES(announced), " +
		"mtime = VALUES(mtime)")

	_, err := p.retrier.Exec(p.db, sb.String(), args...)

	return err
}

func splitPeerBatch(batch []PeerRecord) (light, heavy []PeerRecord) {
	for _, r := range batch {
		if r.Kind == PeerLight {
			light = append(light, r)
		} else {
			heavy = append(heavy, r)
		}
	}

	return light, heavy
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
