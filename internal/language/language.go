package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// supported lists the languages offered by the recognition and translation
// providers; word-form lookup is limited to these.
var supported = []language.Tag{
	language.English, language.Spanish, language.French, language.German,
	language.Italian, language.Portuguese, language.Japanese, language.Korean,
	language.Chinese, language.Russian, language.Arabic, language.Hindi,
	language.Dutch, language.Polish, language.Swedish, language.Danish,
	language.Norwegian, language.Finnish, language.Czech, language.Hungarian,
	language.Turkish, language.Greek, language.Ukrainian,
}

var byWord map[string]language.Tag

func init() {
	names := display.English.Languages()
	byWord = make(map[string]language.Tag, len(supported))
	for _, tag := range supported {
		byWord[strings.ToLower(names.Name(tag))] = tag
	}
}

func parse(code string) (language.Tag, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return language.Und, false
	}
	if tag, ok := byWord[code]; ok {
		return tag, true
	}
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil || tag == language.Und {
		return language.Und, false
	}
	return tag, true
}

// ToISO2 converts any recognized language code, tag or English word to the
// two-letter base code. Returns an empty string for unrecognized input.
func ToISO2(code string) string {
	tag, ok := parse(code)
	if !ok {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

// ToISO3 converts any recognized language code to ISO 639-2 (3-letter).
// Returns "und" for unrecognized input.
func ToISO3(code string) string {
	tag, ok := parse(code)
	if !ok {
		return "und"
	}
	base, _ := tag.Base()
	return base.ISO3()
}

// DisplayName returns the English name for a language code.
// Returns "Unknown" for empty input, or the uppercased code for unrecognized input.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	tag, ok := parse(code)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	base, _ := tag.Base()
	if name := display.English.Languages().Name(language.Make(base.String())); name != "" {
		return name
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code names a language.
func Valid(code string) bool {
	_, ok := parse(code)
	return ok
}
