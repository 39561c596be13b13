package telegram

import (
	"context"
	"net/http"
	"time"

	"gas-tracker-bot/internal/commands"
	"gas-tracker-bot/internal/types"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// updatesGrace is added on top of the long-poll timeout for the HTTP client.
const updatesGrace = 15 * time.Second

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	client := &http.Client{Timeout: time.Duration(c.UpdatesTimeout)*time.Second + updatesGrace}
	bot, err := tgbotapi.NewBotAPIWithClient(c.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:    bot,
		Config: c,
		api:    bot,
	}, nil
}

// SetCommands attaches the command service. Must be called before updates are handled.
func (b *Bot) SetCommands(s *commands.Service) {
	b.commands = s
}

// GetUpdatesChannel gets new updates updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.Bot.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// SendPhoto sends a PNG with a MarkdownV2 caption.
func (b *Bot) SendPhoto(chatID int64, png []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "chart.png",
		Bytes: png,
	})
	photo.Caption = caption
	photo.ParseMode = "MarkdownV2"
	_, err := b.api.Send(photo)
	return errors.Wrapf(err, "could not send chart to chat %d", chatID)
}

// Notify delivers an alert. The Telegram client has no per-request context,
// so the send is abandoned (not aborted) once ctx is done.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		done <- b.SendMessage(Message{ChatID: chatID, Text: text})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "could not send message to chat %d", chatID)
	}
}

// chatOutput sends /track updates to one chat.
type chatOutput struct {
	bot    *Bot
	chatID int64
}

func (o chatOutput) SendText(text string) error {
	return o.bot.SendMessage(Message{ChatID: o.chatID, Text: text})
}

func (o chatOutput) SendPhoto(png []byte, caption string) error {
	return o.bot.SendPhoto(o.chatID, png, caption)
}

// HandleUpdate processes a Telegram command and returns the reply. An empty
// reply means nothing has to be sent.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) string {
	chatID := u.Message.Chat.ID
	args := u.Message.CommandArguments()
	log.Debugf("received command: %s", u.Message.Command())

	var (
		text string
		err  error
	)

	switch u.Message.Command() {
	case "gas":
		text, err = b.commands.CommandGas(ctx, chatID)
	case "subscribe":
		text, err = b.commands.CommandSubscribe(ctx, chatID)
	case "unsubscribe":
		text, err = b.commands.CommandUnsubscribe(ctx, chatID)
	case "thresholds":
		text = b.commands.CommandThresholds(chatID)
	case "set_thresholds":
		text, err = b.commands.CommandSetThresholds(ctx, chatID, args)
	case "track":
		var run func()
		text, run, err = b.commands.StartTrack(ctx, chatID, args, chatOutput{bot: b, chatID: chatID})
		if err == nil {
			// the ack goes out before the first reading
			if sendErr := b.SendMessage(Message{ChatID: chatID, MessageID: u.Message.MessageID, Text: text}); sendErr != nil {
				log.Errorf("Failed to send message: %v", sendErr)
			}
			go run()
			return ""
		}
	case "stop_track":
		text = b.commands.CommandStopTrack(chatID)
	default:
		text = commands.CommandHelp()
	}

	if err != nil {
		if isUserError(err) {
			log.Debugf("command /%s rejected: %v", u.Message.Command(), err)
		} else {
			log.Errorf("❌ Command /%s failed: %v", u.Message.Command(), err)
		}
		return commands.ErrorText(err)
	}
	return text
}

func isUserError(err error) bool {
	return types.IsValidation(err) || errors.Is(err, types.ErrNotSubscribed)
}
