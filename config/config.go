package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Core is the namespace holding bot-wide settings; every other namespace
// belongs to a plugin.
const Core = "core"

// Blacklist kinds. Any match across kinds rejects a message.
const (
	BlacklistUser    = "user"
	BlacklistChannel = "channel"
	BlacklistGuild   = "guild"
)

// Config is the namespaced key-value store of one instance. Each namespace is
// a JSON file under the instance data directory (core/settings.json or
// cogs/<name>/settings.json). A missing file is an empty namespace.
//
// Updates are read-modify-write on the whole namespace and persist
// synchronously; the mutex keeps concurrent in-process writers from losing
// updates. One instance maps to one process, so there is no cross-process
// coordination.
type Config struct {
	mu       sync.Mutex
	dataPath string
	spaces   map[string]map[string]interface{}
}

func New(dataPath string) *Config {
	return &Config{
		dataPath: dataPath,
		spaces:   map[string]map[string]interface{}{},
	}
}

func (c *Config) DataPath() string { return c.dataPath }

func (c *Config) file(namespace string) string {
	if namespace == Core {
		return filepath.Join(c.dataPath, "core", "settings.json")
	}
	return filepath.Join(c.dataPath, "cogs", namespace, "settings.json")
}

// space returns the live map for a namespace, loading it from disk on first
// use. Caller must hold c.mu.
func (c *Config) space(namespace string) map[string]interface{} {
	if s, ok := c.spaces[namespace]; ok {
		return s
	}
	s := map[string]interface{}{}
	if raw, err := os.ReadFile(c.file(namespace)); err == nil {
		// UseNumber keeps snowflake IDs exact; float64 would mangle them
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&s); err != nil {
			s = map[string]interface{}{}
		}
	}
	c.spaces[namespace] = s
	return s
}

// Get returns the value for key. Maps and slices come back as copies; callers
// never alias the live namespace, so they can iterate without holding the
// store lock.
func (c *Config) Get(namespace, key string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.space(namespace)[key])
}

func clone(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = clone(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = clone(item)
		}
		return out
	case []string:
		return append([]string{}, val...)
	case []int64:
		return append([]int64{}, val...)
	default:
		return v
	}
}

func (c *Config) GetString(namespace, key, fallback string) string {
	if v, ok := c.Get(namespace, key).(string); ok {
		return v
	}
	return fallback
}

func (c *Config) GetBool(namespace, key string, fallback bool) bool {
	if v, ok := c.Get(namespace, key).(bool); ok {
		return v
	}
	return fallback
}

func (c *Config) GetInt(namespace, key string, fallback int) int {
	if v, ok := toID(c.Get(namespace, key)); ok {
		return int(v)
	}
	return fallback
}

func (c *Config) GetStringArray(namespace, key string) []string {
	return toStringSlice(c.Get(namespace, key))
}

func (c *Config) GetIDArray(namespace, key string) []int64 {
	return toIDSlice(c.Get(namespace, key))
}

// Set updates one key of a namespace and writes the namespace file before
// returning.
func (c *Config) Set(namespace, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.space(namespace)[key] = value
	return c.persist(namespace)
}

// persist writes a namespace back to disk. Caller must hold c.mu.
func (c *Config) persist(namespace string) error {
	raw, err := json.MarshalIndent(c.spaces[namespace], "", "    ")
	if err != nil {
		return err
	}
	path := c.file(namespace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Core settings accessors.

func (c *Config) Token() string     { return c.GetString(Core, "token", "") }
func (c *Config) Locale() string    { return c.GetString(Core, "locale", "en-US") }
func (c *Config) Mentionable() bool { return c.GetBool(Core, "mentionable", false) }

func (c *Config) Prefixes() []string { return c.GetStringArray(Core, "prefixes") }

func (c *Config) Owners() []int64 { return c.GetIDArray(Core, "owners_id") }

// SetOwners replaces the persisted owner list.
func (c *Config) SetOwners(ids []int64) error {
	return c.Set(Core, "owners_id", ids)
}

// DisabledCommands lists command names that must not be invoked.
func (c *Config) DisabledCommands() []string {
	return c.GetStringArray(Core, "disabled_commands")
}

// GuildPrefixes returns the prefix override list for one guild, empty if the
// guild never customized anything.
func (c *Config) GuildPrefixes(guildID string) []string {
	raw, ok := c.Get(Core, "guild_prefixes").(map[string]interface{})
	if !ok {
		return nil
	}
	return toStringSlice(raw[guildID])
}

func (c *Config) SetGuildPrefixes(guildID string, prefixes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.space(Core)["guild_prefixes"].(map[string]interface{})
	if !ok {
		raw = map[string]interface{}{}
	}
	if len(prefixes) == 0 {
		delete(raw, guildID)
	} else {
		raw[guildID] = prefixes
	}
	c.space(Core)["guild_prefixes"] = raw
	return c.persist(Core)
}

// Blacklist returns the identifier set for one kind.
func (c *Config) Blacklist(kind string) map[int64]bool {
	out := map[int64]bool{}
	raw, ok := c.Get(Core, "blacklist").(map[string]interface{})
	if !ok {
		return out
	}
	for _, id := range toIDSlice(raw[kind]) {
		out[id] = true
	}
	return out
}

func (c *Config) BlacklistAdd(kind string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.space(Core)["blacklist"].(map[string]interface{})
	if !ok {
		raw = map[string]interface{}{}
	}
	ids := toIDSlice(raw[kind])
	for _, have := range ids {
		if have == id {
			return nil
		}
	}
	raw[kind] = append(ids, id)
	c.space(Core)["blacklist"] = raw
	return c.persist(Core)
}

func (c *Config) BlacklistRemove(kind string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.space(Core)["blacklist"].(map[string]interface{})
	if !ok {
		return nil
	}
	ids := toIDSlice(raw[kind])
	kept := make([]int64, 0, len(ids))
	for _, have := range ids {
		if have != id {
			kept = append(kept, have)
		}
	}
	raw[kind] = kept
	c.space(Core)["blacklist"] = raw
	return c.persist(Core)
}

// toStringSlice accepts both freshly-set []string values and []interface{}
// decoded from a settings file.
func toStringSlice(v interface{}) []string {
	switch arr := v.(type) {
	case []string:
		return append([]string{}, arr...)
	case []interface{}:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toIDSlice(v interface{}) []int64 {
	switch arr := v.(type) {
	case []int64:
		return append([]int64{}, arr...)
	case []interface{}:
		out := make([]int64, 0, len(arr))
		for _, item := range arr {
			if id, ok := toID(item); ok {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}

func toID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		id, err := strconv.ParseInt(n.String(), 10, 64)
		return id, err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// ParseID converts a connector-side string snowflake to the numeric form the
// settings files use.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

// FormatID is the inverse of ParseID.
func FormatID(id int64) string { return strconv.FormatInt(id, 10) }
