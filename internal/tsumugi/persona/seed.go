package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/knaka3/tsumugi/internal/tsumugi/store"
)

// SeedFile is the root of the optional persona seed YAML document.
type SeedFile struct {
	Personas []SeedPersona `yaml:"personas"`
}

// SeedPersona is one persona definition in the seed file.
type SeedPersona struct {
	Key           string   `yaml:"key"`
	DisplayName   string   `yaml:"displayName"`
	SystemMessage string   `yaml:"systemMessage"`
	ResetMessage  string   `yaml:"resetMessage"`
	TriggerWords  []string `yaml:"triggerWords,omitempty"`
}

// ParseSeed decodes a persona seed YAML document and validates it. It is the
// canonical entry point for loading seed files.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed parse: %w", err)
	}
	if err := ValidateSeed(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ValidateSeed checks a seed file for structural correctness. It returns the
// first validation error encountered, or nil if the file is valid.
func ValidateSeed(f *SeedFile) error {
	if f == nil {
		return fmt.Errorf("seed must not be nil")
	}
	if len(f.Personas) == 0 {
		return fmt.Errorf("seed has no personas")
	}

	seen := make(map[string]struct{}, len(f.Personas))
	for i, p := range f.Personas {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("personas[%d]: key must not be empty", i)
		}
		if _, dup := seen[p.Key]; dup {
			return fmt.Errorf("personas[%d]: duplicate key %q", i, p.Key)
		}
		seen[p.Key] = struct{}{}

		if strings.TrimSpace(p.DisplayName) == "" {
			return fmt.Errorf("personas[%d] (%q): displayName must not be empty", i, p.Key)
		}
		if strings.TrimSpace(p.SystemMessage) == "" {
			return fmt.Errorf("personas[%d] (%q): systemMessage must not be empty", i, p.Key)
		}
		if strings.TrimSpace(p.ResetMessage) == "" {
			return fmt.Errorf("personas[%d] (%q): resetMessage must not be empty", i, p.Key)
		}
		for j, w := range p.TriggerWords {
			if strings.TrimSpace(w) == "" {
				return fmt.Errorf("personas[%d] (%q): triggerWords[%d] must not be empty", i, p.Key, j)
			}
		}
	}
	return nil
}

// SeedFromFile loads the seed file at path and writes any persona field that
// is not yet present in the store. Existing values, including operator-set
// blanks, are never overwritten, so re-running seeding is safe.
func SeedFromFile(ctx context.Context, s Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	f, err := ParseSeed(data)
	if err != nil {
		return err
	}
	return Seed(ctx, s, f)
}

// Seed applies a validated seed file to the store.
func Seed(ctx context.Context, s Store, f *SeedFile) error {
	for _, p := range f.Personas {
		fields := map[string]string{
			store.KeyPersonaNames:          p.DisplayName,
			store.KeyPersonaSystemMessages: p.SystemMessage,
			store.KeyPersonaResetMessages:  p.ResetMessage,
		}
		if len(p.TriggerWords) > 0 {
			words, err := json.Marshal(p.TriggerWords)
			if err != nil {
				return fmt.Errorf("seed persona %q: marshal trigger words: %w", p.Key, err)
			}
			fields[store.KeyPersonaTriggerWords] = string(words)
		}

		for hash, value := range fields {
			exists, err := s.HExists(ctx, hash, p.Key)
			if err != nil {
				return fmt.Errorf("seed persona %q: check %s: %w", p.Key, hash, err)
			}
			if exists {
				continue
			}
			if err := s.HSet(ctx, hash, p.Key, value); err != nil {
				return fmt.Errorf("seed persona %q: write %s: %w", p.Key, hash, err)
			}
			slog.Info("persona: seeded field", "persona", p.Key, "hash", hash)
		}
	}
	return nil
}
