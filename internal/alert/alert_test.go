package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"gas-tracker-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = types.MustThresholds("30", "35")

func avg(v string) types.GasReading {
	d := decimal.RequireFromString(v)
	return types.GasReading{Low: d, Average: d, High: d, FetchedAt: time.Now()}
}

func customized(chatID int64, low, high int64) *types.Subscriber {
	return &types.Subscriber{
		ChatID: chatID,
		Low:    decimal.NewNullDecimal(decimal.NewFromInt(low)),
		High:   decimal.NewNullDecimal(decimal.NewFromInt(high)),
		State:  types.StateNone,
	}
}

func kinds(triggers []Trigger) []types.AlertKind {
	var out []types.AlertKind
	for _, t := range triggers {
		out = append(out, t.Kind)
	}
	return out
}

func TestEvaluateScenario(t *testing.T) {
	sub := customized(1, 20, 50)
	subs := []*types.Subscriber{sub}

	steps := []struct {
		average string
		want    []types.AlertKind
		state   types.AlertState
	}{
		{"55", []types.AlertKind{types.AlertHigh}, types.StateAboveHigh},
		{"60", nil, types.StateAboveHigh},
		{"45", nil, types.StateNone},
		{"15", []types.AlertKind{types.AlertLow}, types.StateBelowLow},
		{"18", nil, types.StateBelowLow},
	}

	for _, step := range steps {
		got := Evaluate(avg(step.average), subs, defaults)
		assert.Equal(t, step.want, kinds(got), "average %s", step.average)
		assert.Equal(t, step.state, sub.State, "average %s", step.average)
	}
}

func TestEvaluateBandEdgesAreInside(t *testing.T) {
	sub := customized(1, 20, 50)
	sub.State = types.StateAboveHigh

	assert.Empty(t, Evaluate(avg("50"), []*types.Subscriber{sub}, defaults))
	assert.Equal(t, types.StateNone, sub.State)

	assert.Empty(t, Evaluate(avg("20"), []*types.Subscriber{sub}, defaults))
	assert.Equal(t, types.StateNone, sub.State)
}

func TestEvaluateDirectFlipAlertsBothSides(t *testing.T) {
	sub := customized(1, 20, 50)
	subs := []*types.Subscriber{sub}

	assert.Equal(t, []types.AlertKind{types.AlertLow}, kinds(Evaluate(avg("10"), subs, defaults)))
	assert.Equal(t, []types.AlertKind{types.AlertHigh}, kinds(Evaluate(avg("70"), subs, defaults)))
	assert.Equal(t, types.StateAboveHigh, sub.State)
}

func TestEvaluateUsesDefaultsAndIsPerSubscriber(t *testing.T) {
	plain := &types.Subscriber{ChatID: 1, State: types.StateNone}
	custom := customized(2, 10, 20)
	highOnly := &types.Subscriber{ChatID: 3, High: decimal.NewNullDecimal(decimal.NewFromInt(100)), State: types.StateNone}

	// 25 is below the default low (30) and above the custom high (20)
	got := Evaluate(avg("25"), []*types.Subscriber{plain, custom, highOnly}, defaults)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Subscriber.ChatID)
	assert.Equal(t, types.AlertLow, got[0].Kind)
	assert.True(t, got[0].Band.Low.Equal(defaults.Low))
	assert.Equal(t, types.AlertHigh, got[1].Kind)
	assert.Equal(t, types.AlertLow, got[2].Kind)
	assert.True(t, got[2].Band.High.Equal(decimal.NewFromInt(100)))
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     map[int64][]string
	fail     map[int64]error
	onNotify func(chatID int64)
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: map[int64][]string{}, fail: map[int64]error{}}
}

func (n *recordingNotifier) Notify(_ context.Context, chatID int64, text string) error {
	if n.onNotify != nil {
		n.onNotify(chatID)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[chatID]; err != nil {
		return err
	}
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

type memStore struct {
	mu           sync.Mutex
	subs         map[int64]types.Subscriber
	states       []map[int64]types.AlertState
	err          error
	onSaveStates func()
}

func newMemStore() *memStore {
	return &memStore{subs: map[int64]types.Subscriber{}}
}

func (m *memStore) SaveSubscriber(_ context.Context, s types.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subs[s.ChatID] = s
	return nil
}

func (m *memStore) SaveStates(_ context.Context, states map[int64]types.AlertState) error {
	if m.onSaveStates != nil {
		m.onSaveStates()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, states)
	for id, st := range states {
		s := m.subs[id]
		s.State = st
		m.subs[id] = s
	}
	return nil
}

func (m *memStore) DeleteSubscriber(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.subs, chatID)
	return nil
}

func (m *memStore) LoadSubscribers(context.Context) ([]types.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Subscriber
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func newTestDispatcher(store Store, n Notifier) *Dispatcher {
	return NewDispatcher(store, n, Options{Defaults: defaults, SendTimeout: time.Second, RatePerSec: 1000})
}

func TestDispatcherSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d := newTestDispatcher(store, newRecordingNotifier())

	added, err := d.Subscribe(ctx, 7)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = d.Subscribe(ctx, 7)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, d.Count())
	assert.Contains(t, store.subs, int64(7))

	removed, err := d.Unsubscribe(ctx, 7)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = d.Unsubscribe(ctx, 7)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Zero(t, d.Count())
	assert.NotContains(t, store.subs, int64(7))
}

func TestDispatcherStoreFailureLeavesSetUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.err = errors.New("disk full")
	d := newTestDispatcher(store, newRecordingNotifier())

	_, err := d.Subscribe(ctx, 7)
	require.Error(t, err)
	assert.Zero(t, d.Count())
}

func TestDispatcherSetThresholds(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d := newTestDispatcher(store, newRecordingNotifier())

	_, err := d.SetThresholds(ctx, 7, decimal.NewFromInt(10), decimal.NewFromInt(20))
	assert.ErrorIs(t, err, types.ErrNotSubscribed)

	_, err = d.Subscribe(ctx, 7)
	require.NoError(t, err)

	band, customizedBand := d.Thresholds(7)
	assert.Equal(t, defaults, band)
	assert.False(t, customizedBand)

	_, err = d.SetThresholds(ctx, 7, decimal.NewFromInt(20), decimal.NewFromInt(20))
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	_, customizedBand = d.Thresholds(7)
	assert.False(t, customizedBand)

	_, err = d.SetThresholds(ctx, 7, decimal.NewFromInt(10), decimal.NewFromInt(20))
	require.NoError(t, err)
	band, customizedBand = d.Thresholds(7)
	assert.True(t, customizedBand)
	assert.True(t, band.Low.Equal(decimal.NewFromInt(10)))
	assert.True(t, band.High.Equal(decimal.NewFromInt(20)))
	assert.True(t, store.subs[7].High.Valid)

	_, err = d.SetThresholds(ctx, 7, decimal.NewFromInt(12), decimal.NewFromInt(40))
	require.NoError(t, err)
	band, _ = d.Thresholds(7)
	assert.True(t, band.High.Equal(decimal.NewFromInt(40)))
}

func TestDispatchIsolatesDeliveryFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	n := newRecordingNotifier()
	n.fail[2] = errors.New("bot was blocked by the user")
	d := newTestDispatcher(store, n)

	var delivered, failed int
	d.OnDelivery = func(_ types.AlertKind, err error) {
		if err != nil {
			failed++
		} else {
			delivered++
		}
	}

	for _, id := range []int64{3, 1, 2} {
		_, err := d.Subscribe(ctx, id)
		require.NoError(t, err)
	}

	report := d.Dispatch(ctx, avg("10"))
	assert.Equal(t, 3, report.Evaluated)
	require.Len(t, report.Triggered, 3)
	assert.Equal(t, 2, report.Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, int64(2), report.Failures[0].ChatID)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, failed)

	assert.Len(t, n.sent[1], 1)
	assert.Len(t, n.sent[3], 1)
	assert.Contains(t, n.sent[1][0], "Gas price is low")

	// the failed chat is not re-alerted while still below the band
	report = d.Dispatch(ctx, avg("9"))
	assert.Empty(t, report.Triggered)

	for _, s := range d.Subscribers() {
		assert.Equal(t, types.StateBelowLow, s.State)
		assert.Equal(t, types.StateBelowLow, store.subs[s.ChatID].State)
	}
	// only the first dispatch changed any state
	assert.Len(t, store.states, 1)
}

func TestDispatchThresholdChangeAppliesNextCycle(t *testing.T) {
	ctx := context.Background()
	n := newRecordingNotifier()
	d := newTestDispatcher(nil, n)

	_, err := d.Subscribe(ctx, 1)
	require.NoError(t, err)

	report := d.Dispatch(ctx, avg("32"))
	assert.Empty(t, report.Triggered)

	_, err = d.SetThresholds(ctx, 1, decimal.NewFromInt(10), decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Empty(t, n.sent[1])

	report = d.Dispatch(ctx, avg("32"))
	require.Len(t, report.Triggered, 1)
	assert.Equal(t, types.AlertHigh, report.Triggered[0].Kind)
	assert.Contains(t, n.sent[1][0], "above your threshold")
}

func TestDispatcherLoad(t *testing.T) {
	store := newMemStore()
	store.subs[5] = types.Subscriber{ChatID: 5, State: types.StateAboveHigh}
	store.subs[4] = types.Subscriber{ChatID: 4, State: types.StateNone}

	d := newTestDispatcher(store, newRecordingNotifier())
	require.NoError(t, d.Load(context.Background()))

	subs := d.Subscribers()
	require.Len(t, subs, 2)
	assert.Equal(t, int64(4), subs[0].ChatID)
	assert.Equal(t, types.StateAboveHigh, subs[1].State)
}

func TestDispatchPersistsStatesBeforeReleasingTheSet(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d := newTestDispatcher(store, newRecordingNotifier())

	var setLocked bool
	store.onSaveStates = func() {
		setLocked = !d.mu.TryLock()
		if !setLocked {
			d.mu.Unlock()
		}
	}

	_, err := d.Subscribe(ctx, 1)
	require.NoError(t, err)

	d.Dispatch(ctx, avg("50"))
	assert.True(t, setLocked)
	assert.Equal(t, types.StateAboveHigh, store.subs[1].State)
}

func TestDispatchSkipsChatsThatUnsubscribedMidBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	n := newRecordingNotifier()
	d := newTestDispatcher(store, n)

	for _, id := range []int64{1, 2} {
		_, err := d.Subscribe(ctx, id)
		require.NoError(t, err)
	}
	n.onNotify = func(chatID int64) {
		if chatID == 1 {
			_, err := d.Unsubscribe(ctx, 2)
			assert.NoError(t, err)
		}
	}

	report := d.Dispatch(ctx, avg("50"))
	assert.Len(t, report.Triggered, 2)
	assert.Equal(t, 1, report.Sent)
	assert.Empty(t, report.Failures)
	assert.Len(t, n.sent[1], 1)
	assert.Empty(t, n.sent[2])
	assert.NotContains(t, store.subs, int64(2))
}
