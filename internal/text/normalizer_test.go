package text_test

import (
	"testing"

	"github.com/book-expert/tts-stream-service/internal/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "   ", expected: ""},
		{name: "plain text", input: "Hello world.", expected: "Hello world."},
		{name: "whitespace", input: "Hello \n\t  world", expected: "Hello world"},
		{name: "small integer", input: "I have 3 cats", expected: "I have three cats"},
		{name: "zero", input: "0 errors", expected: "zero errors"},
		{name: "compound", input: "Chapter 21", expected: "Chapter twenty-one"},
		{name: "hundreds", input: "100 pages", expected: "one hundred pages"},
		{
			name:     "grouped thousands",
			input:    "1,234 votes",
			expected: "one thousand two hundred thirty-four votes",
		},
		{name: "millions", input: "1,000,000 users", expected: "one million users"},
		{name: "decimal", input: "pi is 3.14", expected: "pi is three point one four"},
		{name: "percent", input: "50% off", expected: "fifty percent off"},
		{name: "decimal percent", input: "2.5% growth", expected: "two point five percent growth"},
		{name: "dollars", input: "It costs $1", expected: "It costs one dollar"},
		{
			name:     "dollars and cents",
			input:    "It costs $5.50 today",
			expected: "It costs five dollars and fifty cents today",
		},
		{name: "round cents", input: "$3.00", expected: "three dollars"},
		{name: "abbreviations", input: "Dr. Smith met Mr. Jones", expected: "Doctor Smith met Mister Jones"},
		{name: "smart quotes", input: "“Hi,” she said. ‘Ok’", expected: `"Hi," she said. 'Ok'`},
		{name: "em dash", input: "wait\u2014what", expected: "wait, what"},
		{name: "ellipsis", input: "and then…", expected: "and then..."},
		{
			name:     "url keeps digits",
			input:    "Visit https://example.com/v2/docs.",
			expected: "Visit example dot com slash v2 slash docs.",
		},
		{
			name:     "email",
			input:    "Mail jane.doe@example.org now",
			expected: "Mail jane dot doe at example dot org now",
		},
		{
			name:     "too large stays numeric",
			input:    "9999999999999 stars",
			expected: "9999999999999 stars",
		},
	}

	normalizer := text.NewNormalizer()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}
