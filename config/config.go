// Package config loads rclindex.yaml, the YAML configuration consulted
// throughout indexing and query translation (spec §6 "Configuration
// values consulted"). Shaped directly on cli/cmd/config.go's
// Config/LoadConfig pattern: one struct, one loader, no global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tmc/rclindex/doc"
)

// StoreConfig names a posting-store backend and its connection string.
// Driver is one of "memory", "postgres", "mssql".
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Config is the full set of values spec §6 names as "consulted", plus
// the store/field configuration needed to construct an indexer.
type Config struct {
	Store StoreConfig `yaml:"store"`

	// MaxFsOccupPct aborts indexing cleanly once the index filesystem's
	// usage crosses this percentage (spec §4.4 "Flush policy").
	MaxFsOccupPct int `yaml:"maxfsoccuppc"`
	// IdxFlushMB is the bytes-of-text-indexed threshold (in MB) that
	// triggers a commit (spec §4.4 "Flush policy").
	IdxFlushMB int `yaml:"idxflushmb"`
	// IdxMetaStoredLen caps the length of stored metadata field values.
	IdxMetaStoredLen int `yaml:"idxmetastoredlen"`
	// IdxTextTruncateLen caps the length of raw text stored for snippet
	// extraction (spec §6).
	IdxTextTruncateLen int `yaml:"idxtexttruncatelen"`

	AutoSpellRarityThreshold    int `yaml:"autoSpellRarityThreshold"`
	AutoSpellSelectionThreshold int `yaml:"autoSpellSelectionThreshold"`

	// MaxTermExpand is the hard cap on expandTerm's result size; crossing
	// it aborts the query with QueryExpansionOverflowError (spec §4.8).
	MaxTermExpand int `yaml:"maxTermExpand"`
	// MaxXapianClauses caps the number of leaves in a compiled query
	// tree; crossing it aborts with MaxClausesError (spec §4.8).
	MaxXapianClauses int `yaml:"maxXapianClauses"`

	// AutoCaseSens and AutoDiacSens enable automatic case/diacritic
	// sensitivity detection (spec §4.8 "Case/diacritic").
	AutoCaseSens bool `yaml:"autocasesens"`
	AutoDiacSens bool `yaml:"autodiacsens"`

	// IndexStemmingLanguages lists the languages to build per-language
	// stemming expansion DBs for (spec §4.4 "Per-language stemming").
	IndexStemmingLanguages []string `yaml:"indexstemminglanguages"`

	// NoAspell disables spelling-correction expansion.
	NoAspell bool `yaml:"noaspell"`
	// StoreText enables compressed raw-text storage under md5(uniterm)
	// (spec §3 "Optional stored raw text"). Sticky for the lifetime of
	// the index once set (spec §3 invariant).
	StoreText bool `yaml:"storetext"`

	// NoRetryFailed, when set, skips re-indexing documents whose
	// signature carries the failed-marker and whose base signature
	// still matches (spec §4.4 "Signature protocol").
	NoRetryFailed bool `yaml:"noretryfailed"`

	// Fields maps a configured field name to its indexing traits (spec
	// §3 "Field").
	Fields map[string]FieldConfig `yaml:"fields"`

	// Synonyms maps a term to the alternate terms expandTerm should
	// union in alongside it (spec §4.8 "expandTerm", synonyms branch).
	Synonyms map[string][]string `yaml:"synonyms"`

	// ShardWriters is the number of optional parallel shard writers
	// (spec §4.5 "Optional sharding"); 0 disables sharding.
	ShardWriters int `yaml:"shardwriters"`

	// IndexStripChars is the index-wide o_index_stripchars property:
	// whether case/diacritic folding applies to all indexed terms (spec
	// §3 "Prefix wrapping is index-wide").
	IndexStripChars bool `yaml:"indexstripchars"`
}

// FieldConfig is the YAML-facing form of doc.FieldTraits.
type FieldConfig struct {
	Prefix    string `yaml:"prefix"`
	Wdfinc    int    `yaml:"wdfinc"`
	ValueSlot int    `yaml:"valueslot"`
	PfxOnly   bool   `yaml:"pfxonly"`
	NoTerms   bool   `yaml:"noterms"`
	Stored    bool   `yaml:"stored"`
}

func (f FieldConfig) Traits() doc.FieldTraits {
	return doc.FieldTraits{
		Pfx:       f.Prefix,
		Wdfinc:    f.Wdfinc,
		ValueSlot: f.ValueSlot,
		PfxOnly:   f.PfxOnly,
		NoTerms:   f.NoTerms,
		Stored:    f.Stored,
	}
}

// Default returns the configuration's built-in defaults, applied before
// a rclindex.yaml is unmarshalled on top so unset YAML keys keep a
// sensible value rather than a zero value.
func Default() Config {
	return Config{
		Store:                       StoreConfig{Driver: "memory"},
		MaxFsOccupPct:               90,
		IdxFlushMB:                  10,
		IdxMetaStoredLen:            10000,
		IdxTextTruncateLen:          200000,
		AutoSpellRarityThreshold:    10,
		AutoSpellSelectionThreshold: 10,
		MaxTermExpand:               1000,
		MaxXapianClauses:            50000,
		AutoCaseSens:                true,
		AutoDiacSens:                true,
		StoreText:                   true,
		// IndexStripChars folds case/diacritics on indexed terms by
		// default, matching the query translator's own default folding
		// so a plain query matches regardless of the indexed case; a
		// case/diacritic-sensitive clause falls back to the unprefixed,
		// unfolded posting only when IndexStripChars is off.
		IndexStripChars: true,
	}
}

// LoadConfig reads and unmarshals rclindex.yaml from dir, matching
// cli/cmd/config.go's LoadConfig shape (search one fixed filename in a
// directory, yaml.Unmarshal into the typed struct).
func LoadConfig(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, "rclindex.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("no rclindex.yaml found in %s", dir)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
