package voice

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/book-expert/logger"
)

const logFmtAliasLoadFailed = "Failed to load voice/model mappings from %s, using empty mappings: %v"

// AliasTable maps client-facing model and voice names (for example OpenAI's
// "tts-1" or "alloy") to the names the backend understands. The zero value and a
// nil pointer are valid empty tables.
type AliasTable struct {
	models map[string]string
	voices map[string]string
}

type aliasFile struct {
	Models map[string]string `json:"models"`
	Voices map[string]string `json:"voices"`
}

// NewAliasTable copies the given maps into an immutable table.
func NewAliasTable(models, voices map[string]string) *AliasTable {
	return &AliasTable{
		models: maps.Clone(models),
		voices: maps.Clone(voices),
	}
}

// ParseAliasTable decodes the JSON mapping document.
func ParseAliasTable(data []byte) (*AliasTable, error) {
	var file aliasFile

	err := json.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal mappings: %w", err)
	}

	return NewAliasTable(file.Models, file.Voices), nil
}

// LoadAliasTable reads the mapping file at path. A missing or malformed file is
// logged and yields an empty table so startup can continue.
func LoadAliasTable(path string, log *logger.Logger) *AliasTable {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		log.Error(logFmtAliasLoadFailed, path, readErr)

		return NewAliasTable(nil, nil)
	}

	table, parseErr := ParseAliasTable(data)
	if parseErr != nil {
		log.Error(logFmtAliasLoadFailed, path, parseErr)

		return NewAliasTable(nil, nil)
	}

	return table
}

// Model returns the backend model name for alias and whether the alias is known.
func (a *AliasTable) Model(alias string) (string, bool) {
	if a == nil {
		return "", false
	}

	name, ok := a.models[alias]

	return name, ok
}

// Models returns the known model aliases, sorted.
func (a *AliasTable) Models() []string {
	if a == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(a.models))
}

// Voice maps name through the voice aliases, returning name unchanged when it has
// no alias.
func (a *AliasTable) Voice(name string) string {
	if a == nil {
		return name
	}

	if mapped, ok := a.voices[name]; ok {
		return mapped
	}

	return name
}
