package helpers

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"strings"
)

// transferGas is the gas used by a plain ETH transfer.
const transferGas = 21000

var gweiPerEth = decimal.New(1, 9)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// FormatGwei prints a gwei value with up to two decimals and no trailing zeros.
func FormatGwei(gwei decimal.Decimal, escapeMarkdown bool) string {
	formatted := gwei.Round(2).String()
	if gwei.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		p := message.NewPrinter(language.English)
		formatted = p.Sprintf("%d", gwei.Round(0).IntPart())
	}

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

func FormatPriceUS(price float64, escapeMarkdown bool) string {
	decimals := 6

	if price >= 1000 {
		decimals = 0
	} else if price > 1.2 {
		decimals = 2
	} else if price >= 0.01 {
		decimals = 4
	} else if price < 0.00001 {
		decimals = 8
	}

	p := message.NewPrinter(language.English)
	formatted := p.Sprintf("%.*f", decimals, price)

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

// TransferCostUSD estimates the USD cost of a plain transfer at the given gas price.
func TransferCostUSD(gwei decimal.Decimal, ethUSD float64) float64 {
	eth := gwei.Mul(decimal.NewFromInt(transferGas)).Div(gweiPerEth)
	return eth.Mul(decimal.NewFromFloat(ethUSD)).InexactFloat64()
}
