package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"gas-tracker-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Notifier delivers a MarkdownV2 text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Store persists subscribers between restarts.
type Store interface {
	SaveSubscriber(ctx context.Context, s types.Subscriber) error
	SaveStates(ctx context.Context, states map[int64]types.AlertState) error
	DeleteSubscriber(ctx context.Context, chatID int64) error
	LoadSubscribers(ctx context.Context) ([]types.Subscriber, error)
}

type Options struct {
	Defaults    types.Thresholds
	SendTimeout time.Duration
	RatePerSec  int
}

// Report summarizes one Dispatch call.
type Report struct {
	Evaluated int
	Triggered []Trigger
	Sent      int
	Failures  []*types.DeliveryError
}

// Dispatcher owns the subscriber set and fans out threshold alerts.
type Dispatcher struct {
	store    Store
	notifier Notifier
	opts     Options
	limiter  *rate.Limiter

	mu          sync.RWMutex
	subscribers map[int64]*types.Subscriber

	// OnDelivery is called after every alert send. Set before use.
	OnDelivery func(kind types.AlertKind, err error)
}

// NewDispatcher creates a dispatcher. store may be nil for an in-memory set.
func NewDispatcher(store Store, notifier Notifier, opts Options) *Dispatcher {
	rps := opts.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:       store,
		notifier:    notifier,
		opts:        opts,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		subscribers: make(map[int64]*types.Subscriber),
	}
}

// Load replaces the in-memory set with the stored subscribers.
func (d *Dispatcher) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	subs, err := d.store.LoadSubscribers(ctx)
	if err != nil {
		return errors.Wrap(err, "could not load subscribers")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = make(map[int64]*types.Subscriber, len(subs))
	for i := range subs {
		s := subs[i]
		d.subscribers[s.ChatID] = &s
	}
	log.Infof("Loaded %d subscribers", len(subs))
	return nil
}

// Subscribe adds the chat. It returns false if it was already subscribed.
func (d *Dispatcher) Subscribe(ctx context.Context, chatID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; exists {
		return false, nil
	}

	s := &types.Subscriber{ChatID: chatID, State: types.StateNone, CreatedAt: time.Now()}
	if d.store != nil {
		if err := d.store.SaveSubscriber(ctx, *s); err != nil {
			return false, errors.Wrapf(err, "could not subscribe chat %d", chatID)
		}
	}
	d.subscribers[chatID] = s
	return true, nil
}

// Unsubscribe removes the chat. It returns false if it was not subscribed.
func (d *Dispatcher) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; !exists {
		return false, nil
	}
	if d.store != nil {
		if err := d.store.DeleteSubscriber(ctx, chatID); err != nil {
			return false, errors.Wrapf(err, "could not unsubscribe chat %d", chatID)
		}
	}
	delete(d.subscribers, chatID)
	return true, nil
}

// Thresholds returns the band applied to the chat and whether it was customized.
// Chats without a subscription get the defaults.
func (d *Dispatcher) Thresholds(chatID int64) (types.Thresholds, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, exists := d.subscribers[chatID]
	if !exists {
		return d.opts.Defaults, false
	}
	return s.Effective(d.opts.Defaults), s.Customized()
}

// SetThresholds validates 0 < low < high and stores them. The alert state is
// kept; the new band applies from the next evaluation.
func (d *Dispatcher) SetThresholds(ctx context.Context, chatID int64, low, high decimal.Decimal) (types.Thresholds, error) {
	band, err := types.NewThresholds(low, high)
	if err != nil {
		return types.Thresholds{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, exists := d.subscribers[chatID]
	if !exists {
		return types.Thresholds{}, types.ErrNotSubscribed
	}

	updated := *s
	updated.Low = decimal.NewNullDecimal(band.Low)
	updated.High = decimal.NewNullDecimal(band.High)
	if d.store != nil {
		if err := d.store.SaveSubscriber(ctx, updated); err != nil {
			return types.Thresholds{}, errors.Wrapf(err, "could not save thresholds for chat %d", chatID)
		}
	}
	*s = updated
	return band, nil
}

// Subscribers returns a copy of the set ordered by chat id.
func (d *Dispatcher) Subscribers() []types.Subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.Subscriber, 0, len(d.subscribers))
	for _, s := range d.sortedLocked() {
		out = append(out, *s)
	}
	return out
}

func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *Dispatcher) sortedLocked() []*types.Subscriber {
	subs := make([]*types.Subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })
	return subs
}

// Dispatch evaluates the reading against every subscriber and sends the
// resulting alerts. A failed send is recorded and never stops the batch.
// States are persisted before the lock is released so a concurrent
// unsubscribe cannot be overwritten by a stale state.
func (d *Dispatcher) Dispatch(ctx context.Context, reading types.GasReading) Report {
	d.mu.Lock()
	subs := d.sortedLocked()
	before := make(map[int64]types.AlertState, len(subs))
	for _, s := range subs {
		before[s.ChatID] = s.State
	}

	triggers := Evaluate(reading, subs, d.opts.Defaults)

	changed := make(map[int64]types.AlertState)
	for _, s := range subs {
		if before[s.ChatID] != s.State {
			changed[s.ChatID] = s.State
		}
	}
	if d.store != nil && len(changed) > 0 {
		if err := d.store.SaveStates(ctx, changed); err != nil {
			log.Errorf("❌ Failed to persist alert states: %v", err)
		}
	}
	d.mu.Unlock()

	report := Report{Evaluated: len(subs), Triggered: triggers}
	for _, t := range triggers {
		if !d.isSubscribed(t.Subscriber.ChatID) {
			log.Debugf("Chat %d unsubscribed before its %s gas alert was sent", t.Subscriber.ChatID, t.Kind)
			continue
		}
		if err := d.send(ctx, t, reading); err != nil {
			report.Failures = append(report.Failures, &types.DeliveryError{ChatID: t.Subscriber.ChatID, Err: err})
			log.Errorf("❌ Failed to send %s gas alert to chat %d: %v", t.Kind, t.Subscriber.ChatID, err)
			continue
		}
		report.Sent++
		log.Debugf("✅ %s gas alert sent to chat %d", t.Kind, t.Subscriber.ChatID)
	}

	if len(triggers) > 0 {
		log.Infof("Gas alerts: %d triggered, %d sent, %d failed", len(triggers), report.Sent, len(report.Failures))
	}
	return report
}

func (d *Dispatcher) isSubscribed(chatID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.subscribers[chatID]
	return exists
}

func (d *Dispatcher) send(ctx context.Context, t Trigger, reading types.GasReading) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while sending: %v", r)
		}
		if d.OnDelivery != nil {
			d.OnDelivery(t.Kind, err)
		}
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()
	return d.notifier.Notify(sendCtx, t.Subscriber.ChatID, FormatAlert(t, reading))
}
