// Package text rewrites input text into a form the speech model pronounces
// well: numbers, currency and percentages become words, links are spelled out
// and typographic punctuation is flattened.
package text

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	numberBaseMillion  = 1000000
	numberBaseBillion  = 1000000000
	// maxNumberForWords bounds conversion; larger numbers are read digit by
	// digit by the model anyway.
	maxNumberForWords = 999999999999
)

// Regex patterns for normalization.
const (
	urlRegexPattern        = `https?://[^\s<>"]+|www\.[^\s<>"]+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	moneyRegexPattern      = `\$(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?\b`
	percentRegexPattern    = `(\d+(?:\.\d+)?)\s?%`
	decimalRegexPattern    = `\b(\d{1,3}(?:,\d{3})+|\d+)\.(\d+)\b`
	numberRegexPattern     = `\b\d{1,3}(?:,\d{3})+\b|\b\d+\b`
	whitespaceRegexPattern = `\s+`
	trailingURLPunctuation = ".,;:!?)"
)

// Placeholders use private-use runes so later digit patterns never match them.
const (
	placeholderMark = "\ue000"
	placeholderStep = "\ue001"
)

// Punctuation constants.
const (
	emDash       = "\u2014"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Normalizer holds the compiled patterns. It is safe for concurrent use.
type Normalizer struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	moneyPattern      *regexp.Regexp
	percentPattern    *regexp.Regexp
	decimalPattern    *regexp.Regexp
	numberPattern     *regexp.Regexp
	whitespacePattern *regexp.Regexp

	abbreviations *strings.Replacer
	punctuation   *strings.Replacer
	spokenLink    *strings.Replacer
}

// NewNormalizer compiles the normalization patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		moneyPattern:      regexp.MustCompile(moneyRegexPattern),
		percentPattern:    regexp.MustCompile(percentRegexPattern),
		decimalPattern:    regexp.MustCompile(decimalRegexPattern),
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Jr.", "Junior",
			"Sr.", "Senior",
			"vs.", "versus",
			"etc.", "etcetera",
		),
		punctuation: strings.NewReplacer(
			emDash, ", ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		spokenLink: strings.NewReplacer(
			"https://", "",
			"http://", "",
			".", " dot ",
			"/", " slash ",
			"@", " at ",
			"-", " dash ",
			"_", " underscore ",
			"?", " question mark ",
			"=", " equals ",
			"&", " and ",
		),
	}
}

// Normalize returns text ready for synthesis. Empty input stays empty.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preserved, links := n.preserveLinks(text)

	normalized := n.punctuation.Replace(preserved)
	normalized = n.abbreviations.Replace(normalized)
	normalized = n.moneyPattern.ReplaceAllStringFunc(normalized, n.money)
	normalized = n.percentPattern.ReplaceAllStringFunc(normalized, n.percent)
	normalized = n.decimalPattern.ReplaceAllStringFunc(normalized, n.decimal)
	normalized = n.numberPattern.ReplaceAllStringFunc(normalized, integerWords)

	for placeholder, link := range links {
		normalized = strings.ReplaceAll(normalized, placeholder, link)
	}

	return strings.TrimSpace(n.whitespacePattern.ReplaceAllString(normalized, " "))
}

// preserveLinks swaps URLs and emails for placeholders so number handling does
// not touch them. The returned map holds their spoken forms.
func (n *Normalizer) preserveLinks(text string) (string, map[string]string) {
	links := make(map[string]string)

	replace := func(pattern *regexp.Regexp, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			trimmed := strings.TrimRight(match, trailingURLPunctuation)
			suffix := match[len(trimmed):]

			placeholder := placeholderMark + strings.Repeat(placeholderStep, len(links)+1) + placeholderMark
			links[placeholder] = strings.TrimSpace(n.spokenLink.Replace(trimmed))

			return placeholder + suffix
		})
	}

	processed := replace(n.urlPattern, text)
	processed = replace(n.emailPattern, processed)

	return processed, links
}

func (n *Normalizer) money(match string) string {
	groups := n.moneyPattern.FindStringSubmatch(match)

	dollars := parseGrouped(groups[1])
	if dollars < 0 || dollars > maxNumberForWords {
		return match
	}

	spoken := integerWordsOf(dollars) + pluralize(dollars, " dollar", " dollars")

	if groups[2] == "" {
		return spoken
	}

	centsText := groups[2]
	if len(centsText) == 1 {
		centsText += "0"
	}

	cents, _ := strconv.ParseInt(centsText, 10, 64)
	if cents == 0 {
		return spoken
	}

	return spoken + " and " + integerWordsOf(cents) + pluralize(cents, " cent", " cents")
}

func (n *Normalizer) percent(match string) string {
	groups := n.percentPattern.FindStringSubmatch(match)

	if strings.Contains(groups[1], ".") {
		return n.decimal(groups[1]) + " percent"
	}

	return integerWords(groups[1]) + " percent"
}

func (n *Normalizer) decimal(match string) string {
	groups := n.decimalPattern.FindStringSubmatch(match)

	digits := make([]string, 0, len(groups[2]))
	for _, digit := range groups[2] {
		digits = append(digits, integerWordsOf(int64(digit-'0')))
	}

	return integerWords(groups[1]) + " point " + strings.Join(digits, " ")
}

func pluralize(count int64, singular, plural string) string {
	if count == 1 {
		return singular
	}

	return plural
}

func parseGrouped(digits string) int64 {
	value, err := strconv.ParseInt(strings.ReplaceAll(digits, ",", ""), 10, 64)
	if err != nil {
		return -1
	}

	return value
}

// integerWords converts a plain or comma-grouped integer literal. Values out of
// range are returned unchanged.
func integerWords(digits string) string {
	value := parseGrouped(digits)
	if value < 0 || value > maxNumberForWords {
		return digits
	}

	return integerWordsOf(value)
}

var (
	onesWords = []string{
		"zero", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
	scales = []struct {
		value int64
		word  string
	}{
		{numberBaseBillion, "billion"},
		{numberBaseMillion, "million"},
		{numberBaseThousand, "thousand"},
	}
)

func integerWordsOf(number int64) string {
	if number < numberBaseTen {
		return onesWords[number]
	}

	parts := make([]string, 0, len(scales)+1)
	remaining := number

	for _, scale := range scales {
		if remaining >= scale.value {
			parts = append(parts, underThousand(remaining/scale.value)+" "+scale.word)
			remaining %= scale.value
		}
	}

	if remaining > 0 {
		parts = append(parts, underThousand(remaining))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int64) string {
	if number >= numberBaseHundred {
		result := onesWords[number/numberBaseHundred] + " hundred"
		if number%numberBaseHundred > 0 {
			result += " " + underHundred(number%numberBaseHundred)
		}

		return result
	}

	return underHundred(number)
}

func underHundred(number int64) string {
	switch {
	case number < numberBaseTen:
		return onesWords[number]
	case number < numberBaseTwenty:
		return teensWords[number-numberBaseTen]
	case number%numberBaseTen == 0:
		return tensWords[number/numberBaseTen]
	default:
		return tensWords[number/numberBaseTen] + "-" + onesWords[number%numberBaseTen]
	}
}
