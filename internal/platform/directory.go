// Package platform provides local stand-ins for the chat platform: an
// identity directory backed by a YAML file, an enforcer that only logs, and a
// dashboard publisher that writes text files.
package platform

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// DirectoryCacheSize bounds the number of cached identities.
	DirectoryCacheSize = 1024

	// DirectoryCacheTTL is how long a resolved identity is served from cache.
	DirectoryCacheTTL = 5 * time.Minute

	// DirectoryMissTTL is how long an unknown id is answered without
	// re-reading the file.
	DirectoryMissTTL = time.Minute
)

type directoryFile struct {
	Users []directoryEntry `yaml:"users"`
}

type directoryEntry struct {
	ID          string `yaml:"id"`
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
}

// Directory resolves user IDs to identities listed in a YAML file:
//
//	users:
//	  - id: "123456789012345678"
//	    username: alice
//	    display_name: Alice
//
// The file is re-read when an id is in neither cache, so edits show up once
// cached entries expire.
type Directory struct {
	path   string
	cache  *expirable.LRU[snowflake.ID, strikes.Identity]
	misses *expirable.LRU[snowflake.ID, struct{}]
}

var _ strikes.Resolver = (*Directory)(nil)

// NewDirectory creates a Directory for the file at path. The file is read
// once up front so a malformed file fails fast.
func NewDirectory(path string) (*Directory, error) {
	return newDirectory(path, DirectoryCacheTTL, DirectoryMissTTL)
}

func newDirectory(path string, hitTTL, missTTL time.Duration) (*Directory, error) {
	d := &Directory{
		path:   path,
		cache:  expirable.NewLRU[snowflake.ID, strikes.Identity](DirectoryCacheSize, nil, hitTTL),
		misses: expirable.NewLRU[snowflake.ID, struct{}](DirectoryCacheSize, nil, missTTL),
	}
	entries, err := d.load()
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("users", len(entries)).Msg("platform: directory loaded")
	return d, nil
}

// ResolveUser returns the identity for id or an error wrapping
// strikes.ErrNotFound.
func (d *Directory) ResolveUser(ctx context.Context, id snowflake.ID) (strikes.Identity, error) {
	if identity, ok := d.cache.Get(id); ok {
		return identity, nil
	}
	if _, ok := d.misses.Get(id); ok {
		return strikes.Identity{}, fmt.Errorf("resolve user %s: %w", id, strikes.ErrNotFound)
	}

	entries, err := d.load()
	if err != nil {
		return strikes.Identity{}, fmt.Errorf("resolve user %s: %w", id, err)
	}

	identity, ok := entries[id]
	if !ok {
		d.misses.Add(id, struct{}{})
		return strikes.Identity{}, fmt.Errorf("resolve user %s: %w", id, strikes.ErrNotFound)
	}
	return identity, nil
}

func (d *Directory) load() (map[snowflake.ID]strikes.Identity, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}

	entries := make(map[snowflake.ID]strikes.Identity, len(file.Users))
	for _, u := range file.Users {
		id, err := snowflake.Parse(strings.TrimSpace(u.ID))
		if err != nil {
			log.Warn().Err(err).Str("id", u.ID).Msg("platform: skipping directory entry with invalid id")
			continue
		}
		entries[id] = strikes.Identity{ID: id, Username: u.Username, DisplayName: u.DisplayName}
	}

	// Every read warms the cache for the whole file.
	for id, identity := range entries {
		d.cache.Add(id, identity)
		d.misses.Remove(id)
	}
	return entries, nil
}
