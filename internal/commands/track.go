package commands

import (
	"context"
	"strconv"
	"strings"

	"gas-tracker-bot/internal/chart"
	"gas-tracker-bot/internal/price"
	"gas-tracker-bot/internal/types"
	"gas-tracker-bot/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TrackOutput receives what a /track window produces.
type TrackOutput interface {
	SendText(text string) error
	SendPhoto(png []byte, caption string) error
}

// ParseTrackMinutes parses and bounds the /track argument.
func ParseTrackMinutes(args string) (int, error) {
	minutes, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return 0, &types.ValidationError{Field: "format", Reason: "use /track <minutes>, e.g. /track 5"}
	}
	if err := price.ValidateTrackMinutes(minutes); err != nil {
		return 0, err
	}
	return minutes, nil
}

// StartTrack validates the request and returns the acknowledgement. The
// window itself runs in run, which the caller starts in its own goroutine.
// A new /track in the same chat replaces the running one.
func (s *Service) StartTrack(ctx context.Context, chatID int64, args string, out TrackOutput) (string, func(), error) {
	minutes, err := ParseTrackMinutes(args)
	if err != nil {
		return "", nil, err
	}

	trackCtx, cancel := context.WithCancel(ctx)
	handle := &trackHandle{cancel: cancel}
	s.mu.Lock()
	if previous, running := s.tracks[chatID]; running {
		previous.cancel()
	}
	s.tracks[chatID] = handle
	s.mu.Unlock()

	run := func() {
		defer s.finishTrack(chatID, handle)
		if err := s.runTrack(trackCtx, chatID, minutes, out); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Tracking for chat %d failed: %v", chatID, err)
		}
	}

	text := translation.Escaped("Tracking for %d minutes. Updates will follow.", minutes)
	return text, run, nil
}

// CommandStopTrack cancels a running /track window.
func (s *Service) CommandStopTrack(chatID int64) string {
	s.mu.Lock()
	handle, running := s.tracks[chatID]
	s.mu.Unlock()

	if !running {
		return translation.Escaped("Nothing is being tracked.")
	}
	handle.cancel()
	return translation.Escaped("Tracking stopped.")
}

type trackHandle struct {
	cancel context.CancelFunc
}

func (s *Service) finishTrack(chatID int64, handle *trackHandle) {
	handle.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	// a newer /track may have replaced this one
	if s.tracks[chatID] == handle {
		delete(s.tracks, chatID)
	}
}

func (s *Service) runTrack(ctx context.Context, chatID int64, minutes int, out TrackOutput) error {
	band, _ := s.subs.Thresholds(chatID)
	usd := s.ethUSD()

	readings, err := s.gas.Track(ctx, minutes, func(r types.GasReading) {
		if err := out.SendText(FormatReading(r, band, usd, s.now())); err != nil {
			log.Errorf("❌ Failed to send tracking update to chat %d: %v", chatID, err)
		}
	})
	if err != nil {
		return err
	}

	png, err := chart.RenderReadings(readings, band)
	if errors.Is(err, chart.ErrNotEnoughData) {
		return out.SendText(translation.Escaped("Tracking finished."))
	}
	if err != nil {
		return err
	}

	caption := translation.Escaped("Tracking finished: %d readings over %d minutes.", len(readings), minutes)
	return out.SendPhoto(png, caption)
}
