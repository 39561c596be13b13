package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gas-tracker-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	MinTrackMinutes = 1
	MaxTrackMinutes = 10

	DefaultPollInterval  = time.Minute
	DefaultTrackInterval = 30 * time.Second
	DefaultFetchTimeout  = 5 * time.Second
)

// Fetcher keeps the latest successful gas reading.
type Fetcher struct {
	source        Source
	trackInterval time.Duration

	mu     sync.RWMutex
	latest types.GasReading

	// OnFetch is called after every fetch attempt. Set before Run.
	OnFetch func(types.GasReading, error)
	// OnTick is called on every poll tick, successful or not. Set before Run.
	OnTick func(time.Time)
}

// NewFetcher falls back to DefaultTrackInterval for a non-positive trackInterval.
func NewFetcher(source Source, trackInterval time.Duration) *Fetcher {
	if trackInterval <= 0 {
		trackInterval = DefaultTrackInterval
	}
	return &Fetcher{
		source:        source,
		trackInterval: trackInterval,
	}
}

// Latest returns the most recent successful reading, if there is one.
func (f *Fetcher) Latest() (types.GasReading, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, !f.latest.IsZero()
}

// Refresh fetches a new reading. The stored reading only changes on success,
// and never to one older than what is already stored.
func (f *Fetcher) Refresh(ctx context.Context) (types.GasReading, error) {
	reading, err := f.source.Fetch(ctx)
	if f.OnFetch != nil {
		f.OnFetch(reading, err)
	}
	if err != nil {
		return types.GasReading{}, errors.Wrap(err, "refresh gas price")
	}

	f.mu.Lock()
	if f.latest.IsZero() || reading.FetchedAt.After(f.latest.FetchedAt) {
		f.latest = reading
	}
	f.mu.Unlock()

	return reading, nil
}

// Run polls every interval until ctx is cancelled, starting immediately.
// onReading runs synchronously, so the next tick waits for it.
func (f *Fetcher) Run(ctx context.Context, interval time.Duration, onReading func(context.Context, types.GasReading)) {
	if interval <= 0 {
		log.Warnf("Invalid poll interval %s, using %s", interval, DefaultPollInterval)
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("🚀 Gas price poller started, interval %s", interval)

	f.poll(ctx, time.Now(), onReading)
	for {
		select {
		case <-ctx.Done():
			log.Info("Gas price poller stopped")
			return
		case now := <-ticker.C:
			f.poll(ctx, now, onReading)
		}
	}
}

func (f *Fetcher) poll(ctx context.Context, now time.Time, onReading func(context.Context, types.GasReading)) {
	if f.OnTick != nil {
		f.OnTick(now)
	}

	reading, err := f.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("❌ Skipping gas price cycle: %v", err)
		}
		return
	}

	log.Debugf("✅ Gas price updated: low %s avg %s high %s", reading.Low, reading.Average, reading.High)
	if onReading != nil {
		onReading(ctx, reading)
	}
}

// ValidateTrackMinutes checks the /track window bounds.
func ValidateTrackMinutes(minutes int) error {
	if minutes < MinTrackMinutes || minutes > MaxTrackMinutes {
		return &types.ValidationError{
			Field:  "minutes",
			Reason: fmt.Sprintf("must be between %d and %d", MinTrackMinutes, MaxTrackMinutes),
		}
	}
	return nil
}

// Track emits a fresh reading every track interval for the given number of
// minutes and returns every reading collected in the window.
func (f *Fetcher) Track(ctx context.Context, minutes int, emit func(types.GasReading)) ([]types.GasReading, error) {
	if err := ValidateTrackMinutes(minutes); err != nil {
		return nil, err
	}
	return f.trackWindow(ctx, time.Duration(minutes)*time.Minute, f.trackInterval, emit)
}

func (f *Fetcher) trackWindow(ctx context.Context, window, every time.Duration, emit func(types.GasReading)) ([]types.GasReading, error) {
	if every <= 0 {
		every = DefaultTrackInterval
	}
	end := time.NewTimer(window)
	defer end.Stop()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var readings []types.GasReading
	collect := func() {
		reading, err := f.Refresh(ctx)
		if err != nil {
			log.Warnf("Tracking fetch failed: %v", err)
			return
		}
		readings = append(readings, reading)
		if emit != nil {
			emit(reading)
		}
	}

	collect()
	for {
		select {
		case <-ctx.Done():
			return readings, ctx.Err()
		case <-end.C:
			return readings, nil
		case <-ticker.C:
			collect()
		}
	}
}
