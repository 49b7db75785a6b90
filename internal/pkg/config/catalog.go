package config

import (
	"strings"

	"mirrorpost/internal/domain/entity"
)

// Catalog is the loaded source set with the lookups the gateway needs.
type Catalog struct {
	sources []*entity.SourceConfig
}

// NewCatalog wraps a loaded source list.
func NewCatalog(sources []*entity.SourceConfig) *Catalog {
	return &Catalog{sources: sources}
}

// All returns every source, enabled or not.
func (c *Catalog) All() []*entity.SourceConfig {
	return c.sources
}

// ByID returns the source with the given id, or nil.
func (c *Catalog) ByID(id string) *entity.SourceConfig {
	for _, s := range c.sources {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ResolveSource maps a webhook username or bot id onto a source.
// BotID takes precedence: brand-named triggers set it explicitly.
func (c *Catalog) ResolveSource(username, botID string) (*entity.SourceConfig, error) {
	if botID != "" {
		for _, s := range c.sources {
			if s.Source.BotID == botID {
				return s, nil
			}
		}
		return nil, &entity.ConfigError{Reason: "unknown bot_id " + botID}
	}
	username = strings.ToLower(strings.TrimPrefix(username, "@"))
	for _, s := range c.sources {
		if strings.ToLower(s.Source.Handle) == username {
			return s, nil
		}
	}
	return nil, &entity.ConfigError{Source: username, Reason: "no config found"}
}
