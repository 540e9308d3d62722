package voice_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/book-expert/tts-stream-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownVoices = []string{"af_heart", "af_bella", "am_adam", "bf_emma"}

func requireValidationError(t *testing.T, err error) *core.ValidationError {
	t.Helper()

	var validationErr *core.ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, core.CodeValidation, validationErr.Code)

	return validationErr
}

func TestParse_AcceptsValidExpressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
		voices   []string
	}{
		{"single", "af_heart", "af_heart", []string{"af_heart"}},
		{"sum", "af_heart+af_bella", "af_heart+af_bella", []string{"af_heart", "af_bella"}},
		{"difference", "af_heart-am_adam", "af_heart-am_adam", []string{"af_heart", "am_adam"}},
		{"weighted", "af_heart(0.5)+af_bella(0.5)", "af_heart(0.5)+af_bella(0.5)", []string{"af_heart", "af_bella"}},
		{"whitespace stripped", " af_heart + af_bella( 0.3 ) ", "af_heart+af_bella(0.3)", []string{"af_heart", "af_bella"}},
		{"three terms", "af_heart+af_bella-bf_emma", "af_heart+af_bella-bf_emma", []string{"af_heart", "af_bella", "bf_emma"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			expr, err := voice.Parse(voice.FromString(testCase.input), knownVoices, nil)
			require.NoError(t, err)

			assert.Equal(t, testCase.expected, expr.String())
			assert.Equal(t, testCase.voices, expr.Voices())

			for _, name := range expr.Voices() {
				assert.Contains(t, knownVoices, name)
			}
		})
	}
}

func TestParse_RejectsMalformedExpressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"empty", "   ", "Voice cannot be empty"},
		{"leading operator", "+af_heart", "empty combine items"},
		{"trailing operator", "af_heart+", "empty combine items"},
		{"leading minus", "-af_heart", "empty combine items"},
		{"double operator", "af_heart++af_bella", "empty combine items"},
		{"mixed double operator", "af_heart+-af_bella", "empty combine items"},
		{"nested weight", "af_heart(0.1(0.2))", "too many weight items"},
		{"two closing parens", "af_heart(0.1))", "too many weight items"},
		{"unclosed weight", "af_heart(0.1", "invalid weight"},
		{"non numeric weight", "af_heart(abc)", "invalid weight"},
		{"zero weight", "af_heart(0)", "invalid weight"},
		{"stray paren", "af_heart)", "invalid weight"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := voice.Parse(voice.FromString(testCase.input), knownVoices, nil)
			validationErr := requireValidationError(t, err)
			assert.Contains(t, validationErr.Message, testCase.message)
		})
	}
}

func TestParse_UnknownVoiceListsSortedVoices(t *testing.T) {
	t.Parallel()

	_, err := voice.Parse(voice.FromString("af_heart+nobody"), knownVoices, nil)
	validationErr := requireValidationError(t, err)

	assert.Equal(t,
		"Voice 'nobody' not found. Available voices: af_bella, af_heart, am_adam, bf_emma",
		validationErr.Message,
	)
}

func TestParse_ListEquivalentToString(t *testing.T) {
	t.Parallel()

	fromList, err := voice.Parse(voice.FromList("af_heart", " af_bella ", "bf_emma"), knownVoices, nil)
	require.NoError(t, err)

	fromString, err := voice.Parse(voice.FromString("af_heart+af_bella+bf_emma"), knownVoices, nil)
	require.NoError(t, err)

	assert.Equal(t, fromString.String(), fromList.String())
	assert.Equal(t, fromString.Terms(), fromList.Terms())
}

func TestParse_ListRejectsWeightsAndEmptyItems(t *testing.T) {
	t.Parallel()

	for _, list := range [][]string{
		{},
		{"af_heart", ""},
		{"af_heart(0.5)"},
		{"af_heart+af_bella"},
	} {
		_, err := voice.Parse(voice.FromList(list...), knownVoices, nil)
		requireValidationError(t, err)
	}
}

func TestParse_AppliesVoiceAliases(t *testing.T) {
	t.Parallel()

	aliases := voice.NewAliasTable(
		map[string]string{"tts-1": "kokoro-v1_0"},
		map[string]string{"alloy": "af_heart", "nova": "af_bella"},
	)

	expr, err := voice.Parse(voice.FromString("alloy(0.7)+nova(0.3)"), knownVoices, aliases)
	require.NoError(t, err)

	assert.Equal(t, "af_heart(0.7)+af_bella(0.3)", expr.String())
}

func TestSpec_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var payload struct {
		Voice voice.Spec `json:"voice"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"voice":"af_heart+af_bella"}`), &payload))
	assert.False(t, payload.Voice.IsList())
	assert.Equal(t, "af_heart+af_bella", payload.Voice.Expr)

	require.NoError(t, json.Unmarshal([]byte(`{"voice":["af_heart","af_bella"]}`), &payload))
	assert.True(t, payload.Voice.IsList())
	assert.Equal(t, []string{"af_heart", "af_bella"}, payload.Voice.List)

	require.Error(t, json.Unmarshal([]byte(`{"voice":42}`), &payload))
}

func TestCatalog_ListVoices(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"bf_emma.pt", "af_heart.pt", "notes.txt", ".pt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pt"), 0o750))

	voices, err := voice.NewCatalog(dir).ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"af_heart", "bf_emma"}, voices)

	missing, err := voice.NewCatalog(filepath.Join(dir, "missing")).ListVoices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range knownVoices {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".pt"), []byte("x"), 0o600))
	}

	resolver := voice.NewResolver(voice.NewCatalog(dir), nil)

	expr, err := resolver.Resolve(context.Background(), voice.FromString("af_heart+af_bella(0.3)"))
	require.NoError(t, err)
	assert.Equal(t, "af_heart+af_bella(0.3)", expr.String())
}

func TestLoadAliasTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	log, err := logger.New(dir, "test.log")
	require.NoError(t, err)

	defer log.Close()

	good := filepath.Join(dir, "mappings.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"models":{"tts-1":"kokoro-v1_0"},"voices":{"alloy":"af_heart"}}`), 0o600))

	table := voice.LoadAliasTable(good, log)
	model, ok := table.Model("tts-1")
	assert.True(t, ok)
	assert.Equal(t, "kokoro-v1_0", model)
	assert.Equal(t, "af_heart", table.Voice("alloy"))
	assert.Equal(t, "af_bella", table.Voice("af_bella"))
	assert.Equal(t, []string{"tts-1"}, table.Models())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0o600))

	for _, path := range []string{bad, filepath.Join(dir, "missing.json")} {
		empty := voice.LoadAliasTable(path, log)
		_, found := empty.Model("tts-1")
		assert.False(t, found)
		assert.Empty(t, empty.Models())
		assert.Equal(t, "alloy", empty.Voice("alloy"))
	}
}
