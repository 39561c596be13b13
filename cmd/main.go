package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"gas-tracker-bot/config"
	"gas-tracker-bot/internal/alert"
	"gas-tracker-bot/internal/commands"
	"gas-tracker-bot/internal/database"
	"gas-tracker-bot/internal/health"
	"gas-tracker-bot/internal/metrics"
	"gas-tracker-bot/internal/price"
	"gas-tracker-bot/internal/telegram"
	"gas-tracker-bot/internal/types"
	"gas-tracker-bot/lib/translation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	updatesTimeout      = 60
	metricsSaveInterval = 5 * time.Minute
)

func init() {
	config.InitConfig()
	setupLogging()
}

func main() {
	translation.Configure("locales", config.GetString("lang"))
	log.Debugf("Using language %s", translation.GetLanguage())

	defaults, err := types.ParseThresholds(config.GetString("default_low_threshold"), config.GetString("default_high_threshold"))
	if err != nil {
		log.Fatalf("Invalid default thresholds: %v", err)
	}
	if err := config.RequirePositiveDurations("poll_interval", "track_interval", "fetch_timeout", "send_timeout", "quote_ttl"); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	for _, key := range []string{"telegram_bot_token", "etherscan_api_key"} {
		if config.GetString(key) == "" {
			log.Fatalf("Missing required configuration %s", key)
		}
	}

	db, err := database.Open(config.GetString("db_path"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	botMetrics := metrics.NewBotMetrics(prometheus.DefaultRegisterer)
	botMetrics.LoadFromDB(ctx, db)

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:          config.GetString("telegram_bot_token"),
		Debug:          config.GetBool("debug"),
		UpdatesTimeout: updatesTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	pollInterval := config.GetDuration("poll_interval")
	heartbeat := health.NewHeartbeat(3 * pollInterval)

	source := price.NewEtherscanSource(
		config.GetString("etherscan_api_url"),
		config.GetString("etherscan_api_key"),
		config.GetDuration("fetch_timeout"),
	)
	fetcher := price.NewFetcher(source, config.GetDuration("track_interval"))
	fetcher.OnFetch = func(reading types.GasReading, err error) {
		botMetrics.ObserveFetch(reading, err)
		heartbeat.ObserveFetch(reading, err)
	}
	fetcher.OnTick = heartbeat.Beat

	quotes := price.NewPaprikaQuotes(config.GetString("api_pro_key"), config.GetDuration("fetch_timeout"), config.GetDuration("quote_ttl"))

	dispatcher := alert.NewDispatcher(db, bot, alert.Options{
		Defaults:    defaults,
		SendTimeout: config.GetDuration("send_timeout"),
		RatePerSec:  config.GetInt("alerts_rate_per_sec"),
	})
	dispatcher.OnDelivery = func(kind types.AlertKind, err error) {
		botMetrics.ObserveDelivery(kind, err)
		heartbeat.ObserveDelivery(kind, err)
	}
	if err := dispatcher.Load(ctx); err != nil {
		log.Fatalf("Failed to load subscribers: %v", err)
	}
	botMetrics.ObserveSubscribers(dispatcher.Subscribers())

	bot.SetCommands(commands.NewService(fetcher, dispatcher, quotes))

	updates, err := bot.GetUpdatesChannel()
	if err != nil {
		log.Fatalf("Failed to get updates channel: %v", err)
	}

	log.Infof("🚀 Gas tracker started: polling every %s, defaults %s/%s gwei", pollInterval, defaults.Low, defaults.High)

	go fetcher.Run(ctx, pollInterval, func(ctx context.Context, reading types.GasReading) {
		report := dispatcher.Dispatch(ctx, reading)
		botMetrics.ObserveSubscribers(dispatcher.Subscribers())
		if len(report.Triggered) > 0 {
			log.Infof("✅ Sent %d/%d alerts at %s gwei", report.Sent, len(report.Triggered), reading.Average)
		}
	})

	go handleUpdates(ctx, bot, botMetrics, updates)

	go func() {
		ticker := time.NewTicker(metricsSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				botMetrics.SaveToDB(ctx, db)
			}
		}
	}()

	server := launchMetricsAndHealthServer(config.GetInt("metrics_port"), heartbeat)

	<-ctx.Done()
	log.Info("Shutting down...")

	bot.Bot.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to stop metrics server: %v", err)
	}

	botMetrics.SaveToDB(shutdownCtx, db)
	log.Info("Metrics saved, bye")
}

func setupLogging() {
	level, err := log.ParseLevel(config.GetString("log_level"))
	if err != nil {
		level = log.InfoLevel
	}
	if config.GetBool("debug") {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	if config.GetString("log_format") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.Debug("Starting telegram bot...")
}

func handleUpdates(ctx context.Context, bot *telegram.Bot, botMetrics *metrics.BotMetrics, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			if update.Message == nil {
				log.Debug("Received non-message or non-command")
				continue
			}

			if !update.Message.IsCommand() {
				continue
			}

			chatID := update.Message.Chat.ID
			chatName := update.Message.Chat.Title
			if chatName == "" {
				chatName = fmt.Sprintf("%s-%d", "PrivateChat", chatID)
			}
			botMetrics.TrackMessage(chatID, chatName)

			handleCommand(ctx, bot, botMetrics, update)
		}
	}
}

func handleCommand(ctx context.Context, bot *telegram.Bot, botMetrics *metrics.BotMetrics, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	text := bot.HandleUpdate(ctx, update)
	if text == "" {
		return
	}

	err := bot.SendMessage(telegram.Message{
		ChatID:    update.Message.Chat.ID,
		Text:      text,
		MessageID: update.Message.MessageID,
	})

	if err != nil {
		log.Errorf("Failed to send message: %v", err)
	} else {
		botMetrics.CommandsProcessed.Inc()
	}
}

func launchMetricsAndHealthServer(port int, heartbeat *health.Heartbeat) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", heartbeat.Handler())

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		log.Infof("Launching metrics and health endpoint on :%d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start metrics and health server: %v", err)
		}
	}()
	return server
}
