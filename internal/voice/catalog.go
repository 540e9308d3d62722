package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
)

const voiceFileExt = ".pt"

// Lister returns the voice identifiers currently available.
type Lister interface {
	ListVoices(ctx context.Context) ([]string, error)
}

// Catalog lists voices from the voice pack directory. Each "<name>.pt" file is
// one voice. The directory is rescanned on every call so newly copied voice
// packs are visible without a restart.
type Catalog struct {
	dir string
}

// NewCatalog creates a Catalog over dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// ListVoices returns the sorted voice names. A missing directory has no voices.
func (c *Catalog) ListVoices(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to read voices directory %s: %w", c.dir, err)
	}

	voices := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name, found := strings.CutSuffix(entry.Name(), voiceFileExt)
		if found && name != "" {
			voices = append(voices, name)
		}
	}

	slices.Sort(voices)

	return voices, nil
}

// Resolver validates voice specs against a Lister and an AliasTable.
type Resolver struct {
	lister  Lister
	aliases *AliasTable
}

// NewResolver creates a Resolver.
func NewResolver(lister Lister, aliases *AliasTable) *Resolver {
	return &Resolver{lister: lister, aliases: aliases}
}

// Resolve lists the current voices and parses spec against them.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Expression, error) {
	known, err := r.lister.ListVoices(ctx)
	if err != nil {
		return Expression{}, fmt.Errorf("failed to list voices: %w", err)
	}

	return Parse(spec, known, r.aliases)
}

// Aliases returns the alias table the resolver maps names through.
func (r *Resolver) Aliases() *AliasTable {
	return r.aliases
}
