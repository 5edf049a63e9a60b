package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/routegw/internal/route"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

const escapedDollar = "\x00ESCAPED_DOLLAR\x00"

// Loader reads configuration and seed files.
type Loader struct {
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a Loader that reads the process environment.
func NewLoader() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// LoadConfig loads, defaults and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load loads, defaults and validates the configuration at path.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.parseConfig(data)
}

// LoadFromReader loads, defaults and validates configuration from r.
func (l *Loader) LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.parseConfig(data)
}

func (l *Loader) parseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := l.decode(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedFile is the document layout of a route seed file.
type seedFile struct {
	Routes []*route.Definition `yaml:"routes"`
}

// LoadSeedFile reads the route definitions listed in a seed file.
func (l *Loader) LoadSeedFile(path string) ([]*route.Definition, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.parseSeed(data)
}

// LoadSeed reads route definitions from r.
func (l *Loader) LoadSeed(r io.Reader) ([]*route.Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return l.parseSeed(data)
}

func (l *Loader) parseSeed(data []byte) ([]*route.Definition, error) {
	var doc seedFile
	if err := l.decode(data, &doc); err != nil {
		return nil, err
	}
	out := make([]*route.Definition, 0, len(doc.Routes))
	for i, def := range doc.Routes {
		if def == nil {
			return nil, fmt.Errorf("routes[%d]: empty entry", i)
		}
		out = append(out, def)
	}
	return out, nil
}

func (l *Loader) decode(data []byte, out interface{}) error {
	content := l.substituteEnvVars(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default}. $$ is a literal $.
func (l *Loader) substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", escapedDollar)

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if value, ok := l.lookupEnv(sub[1]); ok {
			return value
		}
		return sub[2]
	})

	return strings.ReplaceAll(result, escapedDollar, "$")
}

func readFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	data, err := os.ReadFile(absPath) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
