// Package config loads the INI configuration file described in spec:
// sections internal, tracker, timers, mysql, gazelle, logging, debug, each
// with a hardcoded default so a missing or partial file still runs.
//
// Grounded on chihaya's lazy-loaded config.go (same Get/Section-by-
// section shape, same "missing file falls back to defaults and just logs a
// warning" behavior) but backed by gopkg.in/ini.v1 instead of JSON: no
// example repo in the ecosystem parses INI, and this tracker's CLI table
// requires it, so this is a named (not grounded) out-of-pack dependency;
// see DESIGN.md.
package config

import (
	"time"

	"gopkg.in/ini.v1"

	"privateer/log"
)

type Internal struct {
	ListenPort int
	MaxConnections int
}

type Tracker struct {
	AnnounceInterval time.Duration
	NumwantLimit int
}

type Timers struct {
	PeersTimeout time.Duration
	ReapPeersInterval time.Duration
	ScheduleInterval time.Duration
	DelReasonLifetime time.Duration
}

type MySQL struct {
	Host string
	Port int
	Database string
	User string
	Password string
}

type Gazelle struct {
	SiteHost string
	SitePath string
	SitePassword string
	ReportPassword string
}

type Logging struct {
	Log string
	LogLevel string
	LogConsole bool
	LogFile string
	LogPath string
}

type Debug struct {
	Readonly bool
}

type Config struct {
	Internal Internal
	Tracker Tracker
	Timers Timers
	MySQL MySQL
	Gazelle Gazelle
	Logging Logging
	Debug Debug
}

// Default returns the built-in defaults from the config table,
// matching original_source/margay/config.py's nested-dict defaults.
func Default() *Config {
	return &Config{
		Internal: Internal{
			ListenPort: 35000,
			MaxConnections: 1024,
		},
		Tracker: Tracker{
			AnnounceInterval: 1800 * time.Second,
			NumwantLimit: 50,
		},
		Timers: Timers{
			PeersTimeout: 7200 * time.Second,
			ReapPeersInterval: 1800 * time.Second,
			ScheduleInterval: 3 * time.Second,
			DelReasonLifetime: 86400 * time.Second,
		},
		MySQL: MySQL{
			Host: "127.0.0.1",
			Port: 3306,
			Database: "privateer",
			User: "privateer",
		},
		Logging: Logging{
			LogLevel: "info",
		},
	}
}

// Load reads path and overrides Default's values with whatever sections
// and keys are present; a missing file is not fatal, matching the
// teacher's readConfig falling back to defaults with a logged warning.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		log.Warning.Printf("config: unable to open %q, defaults will be used! (%s)", path, err)
		return cfg, nil
	}

	internal := file.Section("internal")
	cfg.Internal.ListenPort = internal.Key("listen_port").MustInt(cfg.Internal.ListenPort)
	cfg.Internal.MaxConnections = internal.Key("max_connections").MustInt(cfg.Internal.MaxConnections)

	tracker := file.Section("tracker")
	cfg.Tracker.AnnounceInterval = time.Duration(tracker.Key("announce_interval").
		MustInt(int(cfg.Tracker.AnnounceInterval/time.Second))) * time.Second
	cfg.Tracker.NumwantLimit = tracker.Key("numwant_limit").MustInt(cfg.Tracker.NumwantLimit)

	timers := file.Section("timers")
	cfg.Timers.PeersTimeout = time.Duration(timers.Key("peers_timeout").
		MustInt(int(cfg.Timers.PeersTimeout/time.Second))) * time.Second
	cfg.Timers.ReapPeersInterval = time.Duration(timers.Key("reap_peers_interval").
		MustInt(int(cfg.Timers.ReapPeersInterval/time.Second))) * time.Second
	cfg.Timers.ScheduleInterval = time.Duration(timers.Key("schedule_interval").
		MustInt(int(cfg.Timers.ScheduleInterval/time.Second))) * time.Second
	cfg.Timers.DelReasonLifetime = time.Duration(timers.Key("del_reason_lifetime").
		MustInt(int(cfg.Timers.DelReasonLifetime/time.Second))) * time.Second

	mysql := file.Section("mysql")
	cfg.MySQL.Host = mysql.Key("host").MustString(cfg.MySQL.Host)
	cfg.MySQL.Port = mysql.Key("port").MustInt(cfg.MySQL.Port)
	cfg.MySQL.Database = mysql.Key("db").MustString(cfg.MySQL.Database)
	cfg.MySQL.User = mysql.Key("user").MustString(cfg.MySQL.User)
	cfg.MySQL.Password = mysql.Key("passwd").MustString(cfg.MySQL.Password)

	gazelle := file.Section("gazelle")
	cfg.Gazelle.SiteHost = gazelle.Key("site_host").MustString(cfg.Gazelle.SiteHost)
	cfg.Gazelle.SitePath = gazelle.Key("site_path").MustString(cfg.Gazelle.SitePath)
	cfg.Gazelle.SitePassword = gazelle.Key("site_password").MustString(cfg.Gazelle.SitePassword)
	cfg.Gazelle.ReportPassword = gazelle.Key("report_password").MustString(cfg.Gazelle.ReportPassword)

	logging := file.Section("logging")
	cfg.Logging.Log = logging.Key("log").MustString(cfg.Logging.Log)
	cfg.Logging.LogLevel = logging.Key("log_level").MustString(cfg.Logging.LogLevel)
	cfg.Logging.LogConsole = logging.Key("log_console").MustBool(cfg.Logging.LogConsole)
	cfg.Logging.LogFile = logging.Key("log_file").MustString(cfg.Logging.LogFile)
	cfg.Logging.LogPath = logging.Key("log_path").MustString(cfg.Logging.LogPath)

	debug := file.Section("debug")
	cfg.Debug.Readonly = debug.Key("readonly").MustBool(cfg.Debug.Readonly)

	return cfg, nil
}

func (c *MySQL) DSN() string {
	return c.User + ":" + c.Password + "@tcp(" + c.Host + ":" + itoa(c.Port) + ")/" + c.Database
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf [12]byte
	i := len(buf)

	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	if neg {
		i--
		buf[i] = '-'
	}

	return string(buf[i:])
}
