package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"invitegate/bot"
	"invitegate/entity"
	"invitegate/impl/core"
	"invitegate/internal/captcha"
	"invitegate/internal/config"
	"invitegate/internal/database"
	"invitegate/internal/http-server/api"
	"invitegate/internal/linkgen"
	"invitegate/internal/maintenance"
	"invitegate/internal/monitor"
	"invitegate/internal/provider"
	"invitegate/internal/stats"
	"invitegate/lib/logger"
	"invitegate/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

const (
	logFileName = "invitegate.log"
	day         = 24 * time.Hour
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg, err := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	if err != nil {
		log.Fatal(err)
	}
	lg.Info("starting invitegate", slog.String("config", *configPath), slog.String("env", conf.Env))

	var p provider.Provider = provider.Offline{}
	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		tgApi, err := tgbotapi.NewBot(conf.Telegram.ApiKey, nil)
		if err != nil {
			lg.Error("creating telegram api", sl.Err(err))
			os.Exit(1)
		}
		p = provider.NewTelegram(tgApi)
		tgBot = bot.NewTgBot(tgApi, lg, bot.Config{
			AdminIds:       conf.Telegram.AdminIds,
			DigestInterval: time.Duration(conf.Telegram.DigestMinutes) * time.Minute,
		})

		var level slog.Level
		if err = level.UnmarshalText([]byte(conf.Telegram.NotifyLevel)); err != nil {
			level = slog.LevelWarn
		}
		lg = slog.New(logger.NewTelegramHandler(lg.Handler(), tgBot, level))
		lg.With(slog.String("notify_level", level.String())).Info("telegram bot created")
	} else {
		lg.Warn("telegram is disabled, only fallback links will be served")
	}

	store, err := database.New(conf.Database, lg)
	if err != nil {
		lg.Error("opening store", sl.Err(err))
		os.Exit(1)
	}
	defaults := entity.DefaultSettings()
	defaults.LinkTTLHours = conf.Links.TTLHours
	defaults.MaxLinkUses = conf.Links.MaxUses
	defaults.CleanupIntervalHours = conf.Maintenance.IntervalHours
	if err = store.SetDefaults(defaults); err != nil {
		lg.Error("settings defaults", sl.Err(err))
	}

	gen := linkgen.New(store, p, linkgen.Config{
		Concurrency:  conf.Links.Concurrency,
		BulkWorkers:  conf.Links.BulkWorkers,
		BulkRate:     conf.Links.BulkRate,
		RetryLimited: conf.Links.RetryLimited,
	}, lg)

	aggregator := stats.New(store, lg)
	aggregator.SetRetention(
		time.Duration(conf.Maintenance.UsageRetentionDays)*day,
		time.Duration(conf.Maintenance.ChannelRetentionDays)*day,
	)

	scheduler := maintenance.New(store, maintenance.Config{
		Interval:         conf.Maintenance.Interval(),
		Cooldown:         conf.Maintenance.Cooldown(),
		UsageRetention:   time.Duration(conf.Maintenance.UsageRetentionDays) * day,
		ChannelRetention: time.Duration(conf.Maintenance.ChannelRetentionDays) * day,
		StatsRetention:   time.Duration(conf.Maintenance.StatsRetentionDays) * day,
		ScratchRetention: time.Duration(conf.Maintenance.ScratchRetentionDays) * day,
		ScratchDir:       conf.Maintenance.ScratchDir,
		DatabasePath:     store.Path(),
	}, lg)
	scheduler.SetRecomputer(aggregator)

	if mongo := database.NewMongoClient(conf); mongo != nil {
		aggregator.SetArchive(mongo)
		scheduler.SetReportSink(mongo)
		lg.Info("mongo archive enabled")
	}

	handler := core.New(store, gen, lg)
	handler.SetMaintenance(scheduler)
	handler.SetStats(aggregator)
	handler.SetCaptcha(captcha.New(store))
	handler.SetProvider(p)

	channelMonitor := monitor.New(store, p, monitor.Config{
		Interval: conf.Monitor.Interval(),
		Grace:    conf.Monitor.Grace,
	}, lg)

	if conf.Maintenance.Enabled {
		scheduler.Start()
	}

	if tgBot != nil {
		tgBot.SetCore(handler)
		channelMonitor.SetNotifier(tgBot)
		go func() {
			if err := tgBot.Start(); err != nil {
				lg.Error("telegram bot", sl.Err(err))
			}
		}()
	}

	if conf.Monitor.Enabled && tgBot != nil {
		channelMonitor.Start()
	}

	var server *api.Server
	if conf.Listen.Enabled {
		server = api.New(conf, lg, handler)
		go func() {
			if err := server.Start(); err != nil {
				lg.Error("api server", sl.Err(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err = server.Shutdown(shutdownCtx); err != nil {
			lg.Error("api shutdown", sl.Err(err))
		}
	}
	gen.Abort()
	channelMonitor.Stop()
	scheduler.Stop()
	if tgBot != nil {
		tgBot.Stop()
	}
	if err = store.Close(); err != nil {
		lg.Error("closing store", sl.Err(err))
	}
}
