package commands

import (
	"context"
	"strings"
	"sync"
	"time"

	"gas-tracker-bot/internal/price"
	"gas-tracker-bot/internal/types"
	"gas-tracker-bot/lib/translation"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// GasSource is the price fetcher as seen by the commands.
type GasSource interface {
	Refresh(ctx context.Context) (types.GasReading, error)
	Latest() (types.GasReading, bool)
	Track(ctx context.Context, minutes int, emit func(types.GasReading)) ([]types.GasReading, error)
}

// Subscriptions is the alert dispatcher as seen by the commands.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64) (bool, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	Thresholds(chatID int64) (types.Thresholds, bool)
	SetThresholds(ctx context.Context, chatID int64, low, high decimal.Decimal) (types.Thresholds, error)
}

// Service implements the bot commands. Replies are MarkdownV2.
type Service struct {
	gas    GasSource
	subs   Subscriptions
	quotes price.QuoteSource
	now    func() time.Time

	mu     sync.Mutex
	tracks map[int64]*trackHandle
}

// NewService wires the commands. quotes may be nil.
func NewService(gas GasSource, subs Subscriptions, quotes price.QuoteSource) *Service {
	return &Service{
		gas:    gas,
		subs:   subs,
		quotes: quotes,
		now:    time.Now,
		tracks: make(map[int64]*trackHandle),
	}
}

func CommandHelp() string {
	lines := []string{
		"🤖 *" + translation.Escaped("Gas Tracker Bot Commands") + "*",
		"",
		"/gas \\- " + translation.Escaped("Get the current Ethereum gas prices"),
		"/subscribe \\- " + translation.Escaped("Subscribe to gas price alerts"),
		"/unsubscribe \\- " + translation.Escaped("Unsubscribe from gas price alerts"),
		"/thresholds \\- " + translation.Escaped("Show your alert thresholds"),
		"/set\\_thresholds `low high` \\- " + translation.Escaped("Set your alert thresholds in gwei"),
		"/track `minutes` \\- " + translation.Escaped("Post gas prices for up to 10 minutes"),
		"/stop\\_track \\- " + translation.Escaped("Stop tracking"),
		"/help \\- " + translation.Escaped("Show this help message"),
		"",
		translation.Escaped("Subscribers get a message when the average gas price leaves their band, and again only after it has come back inside."),
	}
	return strings.Join(lines, "\n")
}

// CommandGas refreshes the reading on demand and falls back to the latest
// polled one when the oracle is down.
func (s *Service) CommandGas(ctx context.Context, chatID int64) (string, error) {
	log.Debugf("processing command /gas for chat %d", chatID)

	reading, err := s.gas.Refresh(ctx)
	if err != nil {
		latest, ok := s.gas.Latest()
		if !ok {
			return "", errors.Wrap(err, "command /gas")
		}
		log.Warnf("Serving cached gas price: %v", err)
		reading = latest
	}

	band, _ := s.subs.Thresholds(chatID)
	return FormatReading(reading, band, s.ethUSD(), s.now()), nil
}

func (s *Service) ethUSD() *float64 {
	if s.quotes == nil {
		return nil
	}
	usd, err := s.quotes.EthUSD()
	if err != nil {
		log.Warnf("ETH quote unavailable: %v", err)
		return nil
	}
	return &usd
}

func (s *Service) CommandSubscribe(ctx context.Context, chatID int64) (string, error) {
	added, err := s.subs.Subscribe(ctx, chatID)
	if err != nil {
		return "", errors.Wrap(err, "command /subscribe")
	}
	if !added {
		return translation.Escaped("You are already subscribed."), nil
	}

	band, _ := s.subs.Thresholds(chatID)
	return translation.Escaped("You have subscribed to gas price alerts!") + "\n" + FormatThresholds(band, false), nil
}

func (s *Service) CommandUnsubscribe(ctx context.Context, chatID int64) (string, error) {
	removed, err := s.subs.Unsubscribe(ctx, chatID)
	if err != nil {
		return "", errors.Wrap(err, "command /unsubscribe")
	}
	if !removed {
		return translation.Escaped("You aren't subscribed."), nil
	}
	return translation.Escaped("You have unsubscribed from gas price alerts."), nil
}

func (s *Service) CommandThresholds(chatID int64) string {
	band, customized := s.subs.Thresholds(chatID)
	return FormatThresholds(band, !customized)
}

// CommandSetThresholds parses "low high" and stores them.
func (s *Service) CommandSetThresholds(ctx context.Context, chatID int64, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return "", &types.ValidationError{Field: "format", Reason: "use /set_thresholds <low> <high>, e.g. /set_thresholds 20 40"}
	}

	band, err := types.ParseThresholds(fields[0], fields[1])
	if err != nil {
		return "", err
	}

	band, err = s.subs.SetThresholds(ctx, chatID, band.Low, band.High)
	if err != nil {
		return "", errors.Wrap(err, "command /set_thresholds")
	}
	return translation.Escaped("Thresholds updated.") + "\n" + FormatThresholds(band, false), nil
}

// ErrorText turns a command error into the reply shown to the user.
func ErrorText(err error) string {
	var validation *types.ValidationError
	switch {
	case errors.As(err, &validation):
		return "⚠️ " + translation.Escaped("Invalid %s: %s", validation.Field, validation.Reason)
	case errors.Is(err, types.ErrNotSubscribed):
		return translation.Escaped("You are not subscribed. Use /subscribe first.")
	case types.IsUpstream(err):
		return translation.Escaped("Failed to retrieve current gas prices. Please try again later.")
	default:
		return translation.Escaped("Something went wrong. Please try again later.")
	}
}
