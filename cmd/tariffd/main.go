package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tariffd/internal/config"
	appLog "tariffd/internal/log"
	"tariffd/internal/relay"
	"tariffd/internal/schedule"
	"tariffd/internal/sensor"
	"tariffd/internal/source"
	"tariffd/internal/store"
	"tariffd/internal/tariff"
	"tariffd/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	ingest     string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("tariffd starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"storage_path", conf.StoragePath,
		"inbox_dir", conf.Source.InboxDir,
		"url_source", conf.Source.URL != "",
		"update", conf.Update,
		"check", conf.Check,
		"relay_pin", conf.Relay.Pin,
		"once", flags.once,
	)

	if err := os.MkdirAll(conf.StoragePath, 0o700); err != nil {
		appLog.Error("failed to create storage directory", err, "path", conf.StoragePath)
		os.Exit(1)
	}

	st := store.NewFileStore(conf.StorePath())
	ingestor, err := schedule.NewIngestor(st, schedule.Options{
		WeekdayNames: conf.Weekdays,
		MarkerSuffix: conf.Marker,
	})
	if err != nil {
		appLog.Error("invalid ingest options", err)
		os.Exit(1)
	}

	if flags.ingest != "" {
		sched, err := ingestor.IngestFile(flags.ingest)
		if err != nil {
			os.Exit(1)
		}
		dump(sched)
		return
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		loc = time.Local
	}

	check, err := cron.ParseStandard(conf.Check)
	if err != nil {
		appLog.Error("invalid check schedule", err, "check", conf.Check)
		os.Exit(1)
	}

	inbox := source.NewInbox(conf.Source.InboxDir, ingestor)
	sources := []source.Source{inbox}
	if conf.Source.URL != "" {
		sources = append(sources, source.NewFetcher(conf.Source.URL, conf.CacheDir(), ingestor))
	}

	sen := sensor.New(tariff.NewEvaluator(st), sensor.Options{
		Location: loc,
		Check:    check,
		Sources:  sources,
		Relay:    relay.Default(conf.Relay.Pin, conf.Relay.ActiveLow),
	})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.once {
		dump(sen.Update(ctx, time.Now()))
		return
	}

	go func() {
		if err := sen.Run(ctx, conf.Update); err != nil {
			appLog.Error("sensor loop failed", err)
			cancel()
		}
	}()

	srv := web.NewServer(conf, web.Deps{
		Store:    st,
		Sensor:   sen,
		Inbox:    inbox,
		Location: loc,
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("http server failed", err)
		cancel()
		os.Exit(1)
	}

	appLog.Info("tariffd exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/tariffd/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Check sources, evaluate once, print the state and exit")
	flag.StringVar(&cfg.ingest, "ingest", "", "Ingest a single .xlsx/.xlsm/.csv export and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func dump(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to write output", err)
	}
}
