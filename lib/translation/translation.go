package translation

import (
	"gas-tracker-bot/lib/helpers"
	"github.com/leonelquinteros/gotext"
	"strings"
)

// Configure loads <path>/<lang>/default.po. Unknown ids fall back to the id itself.
func Configure(path, lang string) {
	// LANG is often a POSIX locale such as en_US.UTF-8
	lang = strings.SplitN(lang, ".", 2)[0]
	gotext.Configure(path, strings.ToLower(lang), "default")
}

func GetLanguage() string {
	lang := gotext.GetLanguage()

	if lang == "und" || lang == "" {
		return "en"
	}

	return lang
}

func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}

// Escaped translates a plain sentence and escapes it for MarkdownV2.
func Escaped(msgID string, vars ...interface{}) string {
	return helpers.EscapeMarkdownV2(Translate(msgID, vars...))
}
