package alert

import (
	"gas-tracker-bot/internal/types"
)

// Trigger is one alert to deliver.
type Trigger struct {
	Subscriber types.Subscriber
	Kind       types.AlertKind
	Band       types.Thresholds
}

// Evaluate compares the average price with every subscriber's band and
// updates their State in place. An alert fires only when the price leaves
// the band on a side it has not already alerted for; coming back inside
// the band re-arms both sides silently.
func Evaluate(reading types.GasReading, subscribers []*types.Subscriber, defaults types.Thresholds) []Trigger {
	var triggers []Trigger
	avg := reading.Average

	for _, s := range subscribers {
		band := s.Effective(defaults)

		switch {
		case avg.LessThan(band.Low):
			if s.State != types.StateBelowLow {
				s.State = types.StateBelowLow
				triggers = append(triggers, Trigger{Subscriber: *s, Kind: types.AlertLow, Band: band})
			}
		case avg.GreaterThan(band.High):
			if s.State != types.StateAboveHigh {
				s.State = types.StateAboveHigh
				triggers = append(triggers, Trigger{Subscriber: *s, Kind: types.AlertHigh, Band: band})
			}
		default:
			s.State = types.StateNone
		}
	}

	return triggers
}
