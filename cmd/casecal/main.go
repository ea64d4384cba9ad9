package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"casecal/internal/backend"
	"casecal/internal/cache"
	"casecal/internal/capture"
	"casecal/internal/config"
	"casecal/internal/deadline"
	"casecal/internal/ics"
	appLog "casecal/internal/log"
	"casecal/internal/model"
	"casecal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath   string
	listen       string
	setup        bool
	snapshot     string
	snapshotView string
	snapshotDate string
	debug        bool
}

func main() {
	flags := parseFlags()

	if flags.setup {
		if err := runSetup(flags.configPath); err != nil {
			appLog.Error("setup failed", err)
			os.Exit(1)
		}
		return
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	appLog.Info("casecal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"default_view", conf.DefaultView,
		"backend", cache.RedactURL(conf.Backend.BaseURL),
		"resources", len(conf.Resources),
		"ics_count", len(conf.ICS),
		"cache_path", conf.CachePath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps := buildDeps(ctx, conf)
	defer closeDeps()

	srv := web.NewServer(deps)

	if flags.snapshot != "" {
		if err := runSnapshot(ctx, srv, conf, flags); err != nil {
			appLog.Error("snapshot failed", err)
			os.Exit(1)
		}
		return
	}

	if err := srv.Run(ctx); err != nil {
		appLog.Error("server stopped", err)
		os.Exit(1)
	}
	appLog.Info("casecal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/casecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.setup, "setup", false, "Run the interactive setup wizard and write the config file")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG snapshot of the calendar to this path and exit")
	flag.StringVar(&cfg.snapshotView, "snapshot-view", "week", "View for -snapshot: day, week or month")
	flag.StringVar(&cfg.snapshotDate, "snapshot-date", "", "Anchor date for -snapshot (YYYY-MM-DD, default today)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// buildDeps wires the backend client, body cache, ICS feeds and deadline
// service. Optional parts that fail to start are logged and left out.
func buildDeps(ctx context.Context, conf *config.Config) (web.Deps, func()) {
	loc := resolveLocationOrLocal(conf.Timezone)
	deps := web.Deps{
		Config:    conf,
		Location:  loc,
		Resources: resourcesFromConfig(conf.Resources),
	}

	var bodies cache.BodyCache
	db, err := cache.Open(ctx, conf.CachePath)
	if err != nil {
		appLog.Error("body cache unavailable; continuing without last-good fallback", err, "path", conf.CachePath)
	} else {
		deps.Cache = db
		bodies = db
	}

	if conf.Backend.BaseURL != "" {
		client := backend.New(backend.Config{
			BaseURL: conf.Backend.BaseURL,
			Token:   conf.Backend.Token,
			Timeout: time.Duration(conf.Backend.TimeoutSeconds) * time.Second,
		}, bodies)
		deps.Primary = client
		deps.Creator = client
		deps.Deadlines = deadline.NewService(client)
	} else {
		appLog.Warn("no backend configured; calendar is read-only")
		deps.Primary = noBackend{}
	}

	if feeds := feedsFromConfig(conf.ICS); len(feeds) > 0 {
		fetcher := cache.NewFetcher(&http.Client{Timeout: 30 * time.Second}, bodies, "ics")
		deps.Feeds = ics.NewFeeds(feeds, fetcher, loc)
		go func() {
			if err := deps.Feeds.Refresh(ctx); err != nil {
				appLog.Warn("initial feed refresh incomplete", "error", err.Error())
			}
		}()
	}

	return deps, func() {
		if deps.Cache != nil {
			if err := deps.Cache.Close(); err != nil {
				appLog.Error("closing body cache failed", err)
			}
		}
	}
}

func resourcesFromConfig(rcs []config.ResourceConfig) *model.Resources {
	rs := make([]model.Resource, 0, len(rcs))
	for _, rc := range rcs {
		rs = append(rs, model.Resource{ID: rc.ID, DisplayName: rc.Name, ColorToken: rc.Color})
	}
	return model.NewResources(rs)
}

func feedsFromConfig(cfgs []config.ICSConfig) []ics.Feed {
	out := make([]ics.Feed, 0, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = c.URL
		}
		out = append(out, ics.Feed{
			ID:         id,
			Name:       c.Name,
			URL:        c.URL,
			ResourceID: c.ResourceID,
			EventType:  model.ParseEventType(c.EventType),
		})
	}
	return out
}

// noBackend stands in for the events API when none is configured, so that
// ICS feeds alone still produce a calendar.
type noBackend struct{}

func (noBackend) Name() string { return "none" }

func (noBackend) Events(context.Context, model.Window) (model.Batch, error) {
	return model.Batch{}, nil
}

// runSnapshot serves the handler on an ephemeral local port and captures
// /print.
func runSnapshot(ctx context.Context, srv *web.Server, conf *config.Config, flags flagConfig) error {
	view, err := model.ParseView(flags.snapshotView)
	if err != nil {
		return err
	}
	var date model.Date
	if flags.snapshotDate != "" {
		if date, err = model.ParseDate(flags.snapshotDate); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("snapshot server failed", err)
		}
	}()
	defer hs.Close()

	u, err := capture.PageURL("http://"+ln.Addr().String(), view, date)
	if err != nil {
		return err
	}
	opts := capture.Options{URL: u, OutputPath: flags.snapshot}
	if ba := conf.BasicAuth; ba != nil {
		opts.Username, opts.Password = ba.Username, ba.Password
	}
	return capture.Snapshot(ctx, opts)
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
