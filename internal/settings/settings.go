// Package settings persists the harness's connection settings (host, project
// and API key) with defaults and placeholder semantics.
//
// The schema and defaults are declared in CUE. Explicit values live in a
// YAML file; IDBH_* environment variables override the file.
package settings

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed settings.cue
var schemaCUE string

// FileName is the settings file inside a data directory.
const FileName = "settings.yaml"

// Setting keys.
const (
	KeyHost    = "host"
	KeyProject = "project"
	KeyAPIKey  = "api_key"
)

// Keys lists every setting in display order.
var Keys = []string{KeyHost, KeyProject, KeyAPIKey}

// placeholders are shown for unset values. Storing a placeholder is the same
// as clearing the key.
var placeholders = map[string]string{
	KeyHost:    "localhost:8787",
	KeyProject: "<project id>",
	KeyAPIKey:  "<api key>",
}

// Settings is the resolved view: explicit values, then environment
// overrides, then defaults.
type Settings struct {
	Host    string `json:"host"`
	Project string `json:"project"`
	APIKey  string `json:"api_key"`
}

// Get returns the value for key.
func (s Settings) Get(key string) (string, error) {
	switch key {
	case KeyHost:
		return s.Host, nil
	case KeyProject:
		return s.Project, nil
	case KeyAPIKey:
		return s.APIKey, nil
	default:
		return "", unknownKey(key)
	}
}

// Display renders key for humans: unset values show their placeholder and
// the API key is masked.
func (s Settings) Display(key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return placeholders[key], nil
	}
	if key == KeyAPIKey {
		return mask(v), nil
	}
	return v, nil
}

// Placeholder returns the placeholder text for key.
func Placeholder(key string) (string, error) {
	p, ok := placeholders[key]
	if !ok {
		return "", unknownKey(key)
	}
	return p, nil
}

// envOverrides are read from the process environment.
type envOverrides struct {
	Host    string `env:"IDBH_HOST"`
	Project string `env:"IDBH_PROJECT"`
	APIKey  string `env:"IDBH_API_KEY"`
}

// Store reads and writes the settings file of one data directory.
type Store struct {
	path string
}

// NewStore returns the settings store for dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, FileName)}
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Load resolves the current settings.
func (s *Store) Load() (Settings, error) {
	raw, err := s.readRaw()
	if err != nil {
		return Settings{}, err
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	for key, v := range map[string]string{
		KeyHost:    overrides.Host,
		KeyProject: overrides.Project,
		KeyAPIKey:  overrides.APIKey,
	} {
		if v != "" {
			raw[key] = v
		}
	}

	return resolve(raw)
}

// Set stores value for key. An empty value or the key's placeholder clears
// the key so it falls back to its default.
func (s *Store) Set(key, value string) error {
	placeholder, err := Placeholder(key)
	if err != nil {
		return err
	}

	raw, err := s.readRaw()
	if err != nil {
		return err
	}

	value = strings.TrimSpace(value)
	if value == "" || value == placeholder {
		delete(raw, key)
	} else {
		raw[key] = value
	}

	if _, err := resolve(raw); err != nil {
		return err
	}
	return s.writeRaw(raw)
}

func (s *Store) readRaw() (map[string]string, error) {
	raw := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if raw == nil {
		raw = make(map[string]string)
	}
	return raw, nil
}

func (s *Store) writeRaw(raw map[string]string) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	// The file may hold an API key.
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// resolve validates raw against the schema and fills in defaults.
func resolve(raw map[string]string) (Settings, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Settings")).Unify(ctx.Encode(raw))
	if err := v.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}

	var s Settings
	if err := v.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown setting %q: must be one of %v", key, Keys)
}
