package alert

import (
	"fmt"

	"gas-tracker-bot/internal/types"
	"gas-tracker-bot/lib/helpers"
	"gas-tracker-bot/lib/translation"
)

// FormatAlert renders the MarkdownV2 notification for a trigger.
func FormatAlert(t Trigger, reading types.GasReading) string {
	var headline, detail string
	switch t.Kind {
	case types.AlertLow:
		headline = "🟢 *" + translation.Escaped("Gas price is low") + "*"
		detail = translation.Translate("Average gas is *%s gwei*, below your threshold of *%s gwei*",
			helpers.FormatGwei(reading.Average, true), helpers.FormatGwei(t.Band.Low, true))
	case types.AlertHigh:
		headline = "🔴 *" + translation.Escaped("Gas price is high") + "*"
		detail = translation.Translate("Average gas is *%s gwei*, above your threshold of *%s gwei*",
			helpers.FormatGwei(reading.Average, true), helpers.FormatGwei(t.Band.High, true))
	}

	tiers := fmt.Sprintf("%s: %s · %s: %s · %s: %s",
		translation.Escaped("Low"), helpers.FormatGwei(reading.Low, true),
		translation.Escaped("Average"), helpers.FormatGwei(reading.Average, true),
		translation.Escaped("Fast"), helpers.FormatGwei(reading.High, true),
	)

	return headline + "\n\n" + detail + "\n" + tiers
}
