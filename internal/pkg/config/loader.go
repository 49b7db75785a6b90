package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mirrorpost/internal/domain/entity"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GlobalConfig is config/global.yml: instance-wide settings shared by all
// sources.
type GlobalConfig struct {
	// Instance is the base URL of the target microblog instance.
	Instance string `yaml:"instance" validate:"required,url"`
	// NitterInstance is the Twitter scraper bridge base URL. The
	// NITTER_INSTANCE env var takes precedence.
	NitterInstance string `yaml:"nitter_instance"`
	// SyndicationBase is the tweet embed-JSON service base URL.
	SyndicationBase string `yaml:"syndication_base"`
	// AccountsFile points at the per-target-account token map.
	AccountsFile string `yaml:"accounts_file"`
	// DefaultMaxLength applies when neither platform nor source sets one.
	DefaultMaxLength int `yaml:"default_max_length"`
}

// Accounts maps a target account name to its bearer token.
type Accounts map[string]string

// Dir wraps a config directory root (global.yml, platforms/, sources/).
type Dir struct {
	Root     string
	validate *validator.Validate
}

// NewDir returns a loader over the given config root.
func NewDir(root string) *Dir {
	return &Dir{Root: root, validate: validator.New()}
}

func (d *Dir) readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(ExpandEnv(raw), out); err != nil {
		return &entity.ConfigError{Reason: fmt.Sprintf("%s: %v", path, err)}
	}
	return nil
}

// Global loads and validates config/global.yml.
func (d *Dir) Global() (*GlobalConfig, error) {
	var g GlobalConfig
	if err := d.readYAML(filepath.Join(d.Root, "global.yml"), &g); err != nil {
		return nil, err
	}
	if v := os.Getenv("NITTER_INSTANCE"); v != "" {
		g.NitterInstance = v
	}
	if g.DefaultMaxLength == 0 {
		g.DefaultMaxLength = 500
	}
	if err := d.validate.Struct(&g); err != nil {
		return nil, &entity.ConfigError{Reason: fmt.Sprintf("global.yml: %v", err)}
	}
	return &g, nil
}

// AccountTokens loads the target-account token map named by the global
// config (default mastodon_accounts.yml next to global.yml).
func (d *Dir) AccountTokens(g *GlobalConfig) (Accounts, error) {
	path := g.AccountsFile
	if path == "" {
		path = filepath.Join(d.Root, "mastodon_accounts.yml")
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(d.Root, path)
	}
	var raw struct {
		Accounts map[string]struct {
			Token string `yaml:"token"`
		} `yaml:"accounts"`
	}
	if err := d.readYAML(path, &raw); err != nil {
		return nil, err
	}
	out := make(Accounts, len(raw.Accounts))
	for name, a := range raw.Accounts {
		if a.Token == "" {
			return nil, &entity.ConfigError{Reason: fmt.Sprintf("account %s has no token", name)}
		}
		out[name] = a.Token
	}
	return out, nil
}

// Sources loads every source under config/sources/*.yml, layering
// platform defaults beneath each file. Disabled sources are returned too;
// the scheduler filters them.
func (d *Dir) Sources(g *GlobalConfig) ([]*entity.SourceConfig, error) {
	pattern := filepath.Join(d.Root, "sources", "*.yml")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	out := make([]*entity.SourceConfig, 0, len(files))
	for _, f := range files {
		cfg, err := d.loadSource(f, g)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// SourceByID loads a single source config by its id.
func (d *Dir) SourceByID(g *GlobalConfig, id string) (*entity.SourceConfig, error) {
	path := filepath.Join(d.Root, "sources", id+".yml")
	if _, err := os.Stat(path); err != nil {
		return nil, &entity.ConfigError{Source: id, Reason: "no config found"}
	}
	return d.loadSource(path, g)
}

func (d *Dir) loadSource(path string, g *GlobalConfig) (*entity.SourceConfig, error) {
	var cfg entity.SourceConfig

	// Platform defaults first: peek at the platform, apply its defaults
	// file, then unmarshal the source file over the result.
	var head struct {
		Platform entity.Platform `yaml:"platform"`
	}
	if err := d.readYAML(path, &head); err != nil {
		return nil, err
	}
	if head.Platform != "" {
		platformFile := filepath.Join(d.Root, "platforms", string(head.Platform)+".yml")
		if _, err := os.Stat(platformFile); err == nil {
			if err := d.readYAML(platformFile, &cfg); err != nil {
				return nil, err
			}
		}
	}
	if err := d.readYAML(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = strings.TrimSuffix(filepath.Base(path), ".yml")
	}
	if cfg.Formatting.MaxLength == 0 {
		cfg.Formatting.MaxLength = g.DefaultMaxLength
	}
	if cfg.Formatting.TrimStrategy == "" {
		cfg.Formatting.TrimStrategy = entity.TrimSmart
	}

	if err := d.validate.Struct(&cfg); err != nil {
		return nil, &entity.ConfigError{Source: cfg.ID, Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
