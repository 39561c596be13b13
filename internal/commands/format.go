package commands

import (
	"fmt"
	"strings"
	"time"

	"gas-tracker-bot/internal/types"
	"gas-tracker-bot/lib/helpers"
	"gas-tracker-bot/lib/translation"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

const (
	semaphoreGreen  = "🟢"
	semaphoreYellow = "🟡"
	semaphoreRed    = "🔴"
)

// semaphore colors a tier against the band: green up to low, yellow up to high.
func semaphore(gwei decimal.Decimal, band types.Thresholds) string {
	switch {
	case gwei.LessThanOrEqual(band.Low):
		return semaphoreGreen
	case gwei.LessThanOrEqual(band.High):
		return semaphoreYellow
	default:
		return semaphoreRed
	}
}

// FormatReading renders a reading; ethUSD adds the cost of a plain transfer.
func FormatReading(reading types.GasReading, band types.Thresholds, ethUSD *float64, now time.Time) string {
	var b strings.Builder
	b.WriteString("▶️ *" + translation.Escaped("Current ETH Gas Prices") + "*\n")

	tiers := []struct {
		label string
		value decimal.Decimal
	}{
		{translation.Escaped("Low"), reading.Low},
		{translation.Escaped("Average"), reading.Average},
		{translation.Escaped("Fast"), reading.High},
	}
	for _, tier := range tiers {
		line := fmt.Sprintf("%s %s: *%s gwei*",
			semaphore(tier.value, band),
			tier.label,
			helpers.FormatGwei(tier.value, true),
		)
		if ethUSD != nil {
			line += " \\(≈ $" + helpers.FormatPriceUS(helpers.TransferCostUSD(tier.value, *ethUSD), true) + "\\)"
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("_" + translation.Escaped("Updated %s", humanize.RelTime(reading.FetchedAt, now, "ago", "from now")) + "_")
	return b.String()
}

// FormatThresholds renders a band, noting when it is the default one.
func FormatThresholds(band types.Thresholds, isDefault bool) string {
	var b strings.Builder
	b.WriteString(translation.Escaped("Current thresholds:") + "\n")
	b.WriteString(fmt.Sprintf("%s %s: *%s gwei*\n", semaphoreGreen, translation.Escaped("Low"), helpers.FormatGwei(band.Low, true)))
	b.WriteString(fmt.Sprintf("%s %s: *%s gwei*", semaphoreRed, translation.Escaped("High"), helpers.FormatGwei(band.High, true)))
	if isDefault {
		b.WriteString("\n_" + translation.Escaped("These are the defaults. Change them with /set_thresholds low high") + "_")
	}
	return b.String()
}
