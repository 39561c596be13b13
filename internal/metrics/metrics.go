package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gas-tracker-bot/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "gas_tracker"
	subsystem = "telegram_bot"
)

// Store is where counters survive restarts.
type Store interface {
	SaveMetric(ctx context.Context, metricName string, value float64) error
	GetMetric(ctx context.Context, metricName string) (float64, error)
	SaveMetricWithLabels(ctx context.Context, metricName, labelKey, labelValue string, value float64) error
	GetMetricsWithLabels(ctx context.Context, metricName string) (map[string]map[string]float64, error)
}

type BotMetrics struct {
	CommandsProcessed  prometheus.Counter
	MessagesHandled    prometheus.Counter
	ChannelsCount      prometheus.Gauge
	ChannelNames       *prometheus.CounterVec
	ChannelsSet        map[int64]string
	MessagesPerChannel *prometheus.CounterVec

	GasPrice      *prometheus.GaugeVec
	Fetches       *prometheus.CounterVec
	AlertsSent    *prometheus.CounterVec
	Subscribers   prometheus.Gauge
	AlertStates   *prometheus.GaugeVec
	LastFetchTime prometheus.Gauge

	Mutex sync.Mutex
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		CommandsProcessed: prometheus.NewCounter(counterOpts("commands_processed", "The total number of processed commands")),
		MessagesHandled:   prometheus.NewCounter(counterOpts("messages_handled", "The total number of handled messages")),
		ChannelsCount:     prometheus.NewGauge(gaugeOpts("channels_count", "The current number of unique channels the bot is operating in")),
		ChannelNames: prometheus.NewCounterVec(
			counterOpts("channel_names", "Tracks channels the bot has interacted with"),
			[]string{"chat_id", "chat_name"},
		),
		MessagesPerChannel: prometheus.NewCounterVec(
			counterOpts("messages_per_channel", "The total number of messages handled per channel"),
			[]string{"chat_id", "chat_name"},
		),
		GasPrice: prometheus.NewGaugeVec(
			gaugeOpts("gas_price_gwei", "The latest gas price per tier in gwei"),
			[]string{"tier"},
		),
		Fetches: prometheus.NewCounterVec(
			counterOpts("gas_fetches", "Gas oracle fetches by result"),
			[]string{"result"},
		),
		AlertsSent: prometheus.NewCounterVec(
			counterOpts("alerts_sent", "Threshold alerts by kind and delivery result"),
			[]string{"kind", "result"},
		),
		Subscribers:   prometheus.NewGauge(gaugeOpts("subscribers", "The current number of alert subscribers")),
		AlertStates: prometheus.NewGaugeVec(
			gaugeOpts("subscriber_alert_states", "Subscribers per alert state"),
			[]string{"state"},
		),
		LastFetchTime: prometheus.NewGauge(gaugeOpts("last_fetch_timestamp_seconds", "Unix time of the last successful gas fetch")),
		ChannelsSet:   make(map[int64]string),
	}

	reg.MustRegister(
		m.CommandsProcessed,
		m.MessagesHandled,
		m.ChannelsCount,
		m.ChannelNames,
		m.MessagesPerChannel,
		m.GasPrice,
		m.Fetches,
		m.AlertsSent,
		m.Subscribers,
		m.AlertStates,
		m.LastFetchTime,
	)

	return m
}

// TrackMessage counts a handled message and records its channel.
func (m *BotMetrics) TrackMessage(chatID int64, chatName string) {
	m.MessagesHandled.Inc()

	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	if _, exists := m.ChannelsSet[chatID]; !exists {
		m.ChannelsSet[chatID] = chatName
		m.ChannelsCount.Set(float64(len(m.ChannelsSet)))
		m.ChannelNames.WithLabelValues(strconv.FormatInt(chatID, 10), chatName).Inc()
	}

	m.MessagesPerChannel.WithLabelValues(strconv.FormatInt(chatID, 10), chatName).Inc()
}

func (m *BotMetrics) ObserveFetch(reading types.GasReading, err error) {
	if err != nil {
		m.Fetches.WithLabelValues("error").Inc()
		return
	}
	m.Fetches.WithLabelValues("ok").Inc()
	m.GasPrice.WithLabelValues("low").Set(reading.Low.InexactFloat64())
	m.GasPrice.WithLabelValues("average").Set(reading.Average.InexactFloat64())
	m.GasPrice.WithLabelValues("high").Set(reading.High.InexactFloat64())
	m.LastFetchTime.Set(float64(reading.FetchedAt.Unix()))
}

// ObserveSubscribers sets the subscriber gauges from a snapshot of the set.
func (m *BotMetrics) ObserveSubscribers(subs []types.Subscriber) {
	counts := map[types.AlertState]int{
		types.StateNone:      0,
		types.StateBelowLow:  0,
		types.StateAboveHigh: 0,
	}
	for _, s := range subs {
		counts[s.State]++
	}
	for state, n := range counts {
		m.AlertStates.WithLabelValues(string(state)).Set(float64(n))
	}
	m.Subscribers.Set(float64(len(subs)))
}

func (m *BotMetrics) ObserveDelivery(kind types.AlertKind, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AlertsSent.WithLabelValues(string(kind), result).Inc()
}

func (m *BotMetrics) LoadFromDB(ctx context.Context, store Store) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	// Load non-labeled metrics
	commandsProcessed, _ := store.GetMetric(ctx, "commands_processed")
	messagesHandled, _ := store.GetMetric(ctx, "messages_handled")

	m.CommandsProcessed.Add(commandsProcessed)
	m.MessagesHandled.Add(messagesHandled)

	// Load labeled metrics
	loadLabeledMetrics(ctx, store, "channel_names", func(chatIDStr, chatName string, _ float64) {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			log.Warnf("Failed to parse chatID %s: %v", chatIDStr, err)
			return
		}
		m.ChannelNames.WithLabelValues(chatIDStr, chatName).Add(1)
		m.ChannelsSet[chatID] = chatName
	})
	m.ChannelsCount.Set(float64(len(m.ChannelsSet)))

	loadLabeledMetrics(ctx, store, "messages_per_channel", func(chatID, chatName string, value float64) {
		m.MessagesPerChannel.WithLabelValues(chatID, chatName).Add(value)
	})

	loadLabeledMetrics(ctx, store, "alerts_sent", func(kind, result string, value float64) {
		m.AlertsSent.WithLabelValues(kind, result).Add(value)
	})

	log.Info("Metrics loaded from database.")
}

func loadLabeledMetrics(ctx context.Context, store Store, metricName string, callback func(labelKey, labelValue string, value float64)) {
	metricsWithLabels, err := store.GetMetricsWithLabels(ctx, metricName)
	if err != nil {
		log.Warnf("Failed to load %s: %v", metricName, err)
		return
	}
	for labelKey, labelValues := range metricsWithLabels {
		for labelValue, value := range labelValues {
			callback(labelKey, labelValue, value)
		}
	}
}

func (m *BotMetrics) SaveToDB(ctx context.Context, store Store) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	save := func(err error) {
		if err != nil {
			log.Errorf("Failed to save metric: %v", err)
		}
	}

	// Save non-labeled metrics
	save(store.SaveMetric(ctx, "commands_processed", GetMetricValue(m.CommandsProcessed)))
	save(store.SaveMetric(ctx, "messages_handled", GetMetricValue(m.MessagesHandled)))
	save(store.SaveMetric(ctx, "channels_count", float64(len(m.ChannelsSet))))

	// Save labeled metrics: channel_names
	for chatID, chatName := range m.ChannelsSet {
		save(store.SaveMetricWithLabels(ctx, "channel_names", fmt.Sprintf("%d", chatID), chatName, float64(chatID)))
	}

	saveLabeled(m.MessagesPerChannel, "chat_id", "chat_name", func(chatID, chatName string, value float64) {
		save(store.SaveMetricWithLabels(ctx, "messages_per_channel", chatID, chatName, value))
	})
	saveLabeled(m.AlertsSent, "kind", "result", func(kind, result string, value float64) {
		save(store.SaveMetricWithLabels(ctx, "alerts_sent", kind, result, value))
	})

	log.Info("Metrics saved to database.")
}

// saveLabeled walks a two-label counter vector.
func saveLabeled(vec *prometheus.CounterVec, keyLabel, valueLabel string, callback func(key, value string, counter float64)) {
	metricChan := make(chan prometheus.Metric, 1)
	go func() {
		vec.Collect(metricChan)
		close(metricChan)
	}()

	for metric := range metricChan {
		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			log.Warnf("Failed to read metric: %v", err)
			continue
		}
		var key, value string
		for _, label := range metricProto.Label {
			if label.GetName() == keyLabel {
				key = label.GetValue()
			}
			if label.GetName() == valueLabel {
				value = label.GetValue()
			}
		}
		callback(key, value, metricProto.Counter.GetValue())
	}
}

func GetMetricValue(metric prometheus.Collector) float64 {
	var metricValue float64
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Warnf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		metricValue = metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		metricValue = metricProto.Gauge.GetValue()
	}
	return metricValue
}
