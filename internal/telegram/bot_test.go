package telegram

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gas-tracker-bot/internal/alert"
	"gas-tracker-bot/internal/commands"
	"gas-tracker-bot/internal/database"
	"gas-tracker-bot/internal/types"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []tgbotapi.Chattable
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

type staticGas struct {
	reading types.GasReading
}

func (g staticGas) Refresh(context.Context) (types.GasReading, error) { return g.reading, nil }
func (g staticGas) Latest() (types.GasReading, bool)                  { return g.reading, true }
func (g staticGas) Track(ctx context.Context, minutes int, emit func(types.GasReading)) ([]types.GasReading, error) {
	emit(g.reading)
	return []types.GasReading{g.reading}, nil
}

func newTestBot(t *testing.T) (*Bot, *fakeSender, *alert.Dispatcher) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	api := &fakeSender{}
	bot := &Bot{api: api}
	dispatcher := alert.NewDispatcher(db, bot, alert.Options{
		Defaults:    types.MustThresholds("30", "35"),
		SendTimeout: time.Second,
		RatePerSec:  100,
	})
	gas := staticGas{reading: types.GasReading{
		Low:       decimal.NewFromInt(20),
		Average:   decimal.NewFromInt(25),
		High:      decimal.NewFromInt(40),
		FetchedAt: time.Now(),
	}}
	bot.SetCommands(commands.NewService(gas, dispatcher, nil))
	return bot, api, dispatcher
}

func command(chatID int64, text string) tgbotapi.Update {
	name := text
	for i, r := range text {
		if r == ' ' {
			name = text[:i]
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func TestHandleUpdateRouting(t *testing.T) {
	bot, _, dispatcher := newTestBot(t)
	ctx := context.Background()

	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/help")), "Gas Tracker Bot Commands")
	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/start")), "/set\\_thresholds")
	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/gas")), "Average: *25 gwei*")

	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/subscribe")), "subscribed")
	assert.Equal(t, 1, dispatcher.Count())

	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/set_thresholds 40 20")), "⚠️ Invalid high")
	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/set_thresholds 20 40")), "Thresholds updated")
	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/thresholds")), "Low: *20 gwei*")

	assert.Contains(t, bot.HandleUpdate(ctx, command(2, "/set_thresholds 20 40")), "Use /subscribe first")
	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/track 99")), "⚠️ Invalid minutes")
	assert.Equal(t, "Nothing is being tracked\\.", bot.HandleUpdate(ctx, command(1, "/stop_track")))

	assert.Contains(t, bot.HandleUpdate(ctx, command(1, "/unsubscribe")), "unsubscribed")
	assert.Equal(t, 0, dispatcher.Count())
}

func TestHandleUpdateTrackRunsInBackground(t *testing.T) {
	bot, api, _ := newTestBot(t)

	reply := bot.HandleUpdate(context.Background(), command(3, "/track 1"))
	assert.Empty(t, reply)

	// the ack, one reading update, then the closing message
	assert.Eventually(t, func() bool { return len(api.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	msgs := api.messages()
	assert.Contains(t, msgs[0].Text, "Tracking for 1 minutes")
	assert.Equal(t, 7, msgs[0].ReplyToMessageID)
	assert.Equal(t, int64(3), msgs[1].ChatID)
	assert.Contains(t, msgs[1].Text, "Average: *25 gwei*")
	assert.Equal(t, "Tracking finished\\.", msgs[2].Text)
}

func TestSendMessageUsesMarkdownV2(t *testing.T) {
	api := &fakeSender{}
	bot := &Bot{api: api}

	require.NoError(t, bot.SendMessage(Message{ChatID: 9, MessageID: 4, Text: "*hi*"}))
	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "MarkdownV2", msgs[0].ParseMode)
	assert.Equal(t, 4, msgs[0].ReplyToMessageID)
	assert.True(t, msgs[0].DisableWebPagePreview)
}

func TestNotify(t *testing.T) {
	api := &fakeSender{err: errors.New("Forbidden: bot was blocked by the user")}
	bot := &Bot{api: api}
	err := bot.Notify(context.Background(), 5, "alert")
	assert.ErrorContains(t, err, "blocked")

	api = &fakeSender{block: make(chan struct{})}
	defer close(api.block)
	bot = &Bot{api: api}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = bot.Notify(ctx, 5, "alert")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchThroughBot(t *testing.T) {
	_, api, dispatcher := newTestBot(t)
	ctx := context.Background()

	_, err := dispatcher.Subscribe(ctx, 11)
	require.NoError(t, err)

	report := dispatcher.Dispatch(ctx, types.GasReading{
		Low:       decimal.NewFromInt(40),
		Average:   decimal.NewFromInt(50),
		High:      decimal.NewFromInt(60),
		FetchedAt: time.Now(),
	})
	assert.Equal(t, 1, report.Sent)
	assert.Empty(t, report.Failures)

	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(11), msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "Gas price is high")
}
