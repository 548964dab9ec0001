// Command privateer is the tracker binary: it wires config, the MySQL
// connection, the swarm store, the persistence pipeline, the site
// client, the announce/scrape/control/report engine, the HTTP front
// door and the flush/reap scheduler together, then blocks serving
// until a termination signal arrives.
//
// Grounded on chihaya's cmd/chihaya/main.go (flag parsing, GOMAXPROCS,
// SIGINT/SIGTERM shutdown shape) layered with
// original_source/margay/main.py's wider signal dispatch table
// (SIGHUP config reload, SIGUSR1 list reload).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"privateer/config"
	"privateer/database"
	"privateer/log"
	"privateer/metrics"
	"privateer/server"
	"privateer/siteclient"
	"privateer/store"
	"privateer/store/persist"
	"privateer/tracker"
)

// provided at compile-time via -ldflags
var (
	BuildDate = "0000-00-00T00:00:00+0000"
	BuildVersion = "development"
)

var (
	daemonize bool
	configPath string
	showVersion bool
)

func init() {
	flag.BoolVar(&daemonize, "daemonize", false, "Detach and run in the background")
	flag.StringVar(&configPath, "config", "", "Path to the INI configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Printf("privateer ver=%s date=%s runtime=%s\n", BuildVersion, BuildDate, runtime.Version())
		return
	}

	if daemonize {
		log.Warning.Println("main: --daemonize requested; run this binary under a process supervisor instead, it no longer forks")
	}

	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal.Fatalf("main: loading config: %s", err)
	}

	if err := run(cfg); err != nil {
		log.Fatal.Fatalf("main: %s", err)
	}
}

func run(cfg *config.Config) error {
	db, err := database.Open(cfg.MySQL)
	if err != nil {
		return err
	}
	defer db.Close()

	readonly := func() bool { return cfg.Debug.Readonly }

	pipeline := persist.New(db, readonly)

	resetCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = pipeline.ResetLivePeers(resetCtx)
	cancel()

	if err != nil {
		return fmt.Errorf("startup flush: %w", err)
	}

	s := store.New()
	if err := s.Reload(db); err != nil {
		return fmt.Errorf("initial reload: %w", err)
	}

	s.SetStatus(store.StatusOpen)

	site := siteclient.New(cfg.Gazelle.SiteHost, cfg.Gazelle.SitePath, cfg.Gazelle.SitePassword, readonly)

	e := tracker.New(s, pipeline, site,
		int(cfg.Tracker.AnnounceInterval/time.Second), cfg.Tracker.NumwantLimit,
		int64(cfg.Timers.PeersTimeout/time.Second),
		cfg.Gazelle.ReportPassword, cfg.Gazelle.SitePassword)

	sched := store.NewScheduler(s, func() {
		pipeline.TickAll()
		site.Tick()
	})
	sched.FlushInterval = cfg.Timers.ScheduleInterval
	sched.ReapInterval = cfg.Timers.ReapPeersInterval
	sched.PeersTimeout = cfg.Timers.PeersTimeout
	sched.DelReasonTTL = cfg.Timers.DelReasonLifetime

	srv := server.New(e, fmt.Sprintf(":%d", cfg.Internal.ListenPort), 512, metrics.New(s, pipeline, site))

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	go pipeline.Run(ctx)
	go site.Run(ctx)
	go sched.Run(ctx)

	go handleSignals(configPath, cfg, s, db, srv)

	log.Info.Printf("privateer ver=%s date=%s runtime=%s, listening on %s",
		BuildVersion, BuildDate, runtime.Version(), srv.Addr)

	return srv.Start()
}

// handleSignals mirrors the source's dispatch table: SIGINT/SIGTERM shut
// the server down gracefully, forcing immediate exit if a second signal
// arrives before that finishes; SIGHUP reloads the config file's tunables
// (the listener keeps running, only the in-memory Config is swapped);
// SIGUSR1 re-reads users/torrents/whitelist/tokens from the database.
func handleSignals(configPath string, cfg *config.Config, s *store.Store, db *sql.DB, srv *server.Server) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for sig := range c {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			log.Info.Println("main: caught interrupt, shutting down...")

			done := make(chan struct{})

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
				srv.Shutdown(ctx)
				cancel()
				close(done)
			}()

			select {
			case <-done:
			case <-c:
				log.Warning.Println("main: caught second interrupt, forcing exit")
				os.Exit(1)
			}

			return
		case syscall.SIGHUP:
			log.Info.Println("main: reloading config")

			reloaded, err := config.Load(configPath)
			if err != nil {
				log.Warning.Printf("main: config reload failed: %s", err)
				continue
			}

			*cfg = *reloaded
		case syscall.SIGUSR1:
			log.Info.Println("main: reloading users/torrents/whitelist/tokens from database")

			if err := s.Reload(db); err != nil {
				log.Error.Printf("main: list reload failed: %s", err)
			}
		}
	}
}
