package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gas-tracker-bot/internal/types"
)

// Heartbeat records the last time the poll loop ticked and the last outcome
// seen for each upstream dependency.
type Heartbeat struct {
	last   atomic.Int64
	maxAge time.Duration
	now    func() time.Time

	mu        sync.Mutex
	etherscan Dependency
	telegram  Dependency
}

// Dependency is the last observed outcome of calls to an upstream API.
// OK is nil until the first call has been observed.
type Dependency struct {
	OK          *bool     `json:"ok"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

// Status is the body served by Handler.
type Status struct {
	Status   string                `json:"status"`
	LastPoll time.Time             `json:"last_poll"`
	Details  map[string]Dependency `json:"details"`
}

// NewHeartbeat considers the loop dead once it has not beaten for maxAge.
// It counts as alive from creation until the first maxAge passes.
func NewHeartbeat(maxAge time.Duration) *Heartbeat {
	h := &Heartbeat{maxAge: maxAge, now: time.Now}
	h.last.Store(h.now().UnixNano())
	return h
}

func (h *Heartbeat) Beat(t time.Time) {
	h.last.Store(t.UnixNano())
}

func (h *Heartbeat) Alive() bool {
	return h.now().Sub(time.Unix(0, h.last.Load())) <= h.maxAge
}

// ObserveFetch records the outcome of an Etherscan gas oracle call.
func (h *Heartbeat) ObserveFetch(_ types.GasReading, err error) {
	h.observe(&h.etherscan, err)
}

// ObserveDelivery records the outcome of a Telegram alert send.
func (h *Heartbeat) ObserveDelivery(_ types.AlertKind, err error) {
	h.observe(&h.telegram, err)
}

func (h *Heartbeat) observe(dep *Dependency, err error) {
	ok := err == nil
	h.mu.Lock()
	defer h.mu.Unlock()
	dep.OK = &ok
	if ok {
		dep.LastError = ""
		dep.LastSuccess = h.now()
		return
	}
	dep.LastError = err.Error()
}

// Status reports the loop as unhealthy when it is stale or when the last
// call to any dependency failed. Dependencies not yet called do not count.
func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	details := map[string]Dependency{
		"etherscan_api": h.etherscan,
		"telegram_api":  h.telegram,
	}
	h.mu.Unlock()

	status := Status{Status: "healthy", LastPoll: time.Unix(0, h.last.Load()).UTC(), Details: details}
	if !h.Alive() {
		status.Status = "unhealthy"
	}
	for _, dep := range details {
		if dep.OK != nil && !*dep.OK {
			status.Status = "unhealthy"
		}
	}
	return status
}

// Handler answers 200 while healthy and 503 otherwise, with the Status as
// JSON in both cases.
func (h *Heartbeat) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Status()
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
