// Package config assembles derivata's runtime settings. Values come from
// built-in defaults, an optional HCL file, the environment (after loading a
// .env file when one exists) and finally command-line flags, each layer
// overriding the one before.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/agentic-research/derivata/internal/nodeclass"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvComfyUIURL = "COMFYUI_URL"
	EnvPromptsDir = "PROMPTS_DIR"
	EnvAPIHost    = "API_HOST"
	EnvAPIPort    = "API_PORT"
	EnvDB         = "DERIVATA_DB"
	EnvPrefix     = "DERIVATA_PREFIX"
	EnvTextSort   = "DERIVATA_TEXT_SORT"
	EnvPathPolicy = "DERIVATA_PATH_POLICY"
	EnvLogLevel   = "LOG_LEVEL"
	EnvLogFormat  = "LOG_FORMAT"
)

// DefaultFile is read when no --config path is given and it exists.
const DefaultFile = "derivata.hcl"

// ErrInvalid marks a setting whose value cannot be used.
var ErrInvalid = errors.New("invalid setting")

// Error names the setting and the source that supplied a bad value.
type Error struct {
	Key    string
	Value  string
	Source string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("config %s=%q", e.Key, e.Value)
	if e.Source != "" {
		msg += " (from " + e.Source + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return ErrInvalid }

// Config is the effective configuration.
type Config struct {
	ComfyUIURL string
	PromptsDir string
	APIHost    string
	APIPort    int
	DBPath     string
	Prefix     string
	LogLevel   string
	LogFormat  string

	TextSort   override.SortOrder
	PathPolicy override.PathPolicy
	Params     *override.ParamTable
	Classes    *nodeclass.Table

	// File is the HCL file that was applied, if any.
	File string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ComfyUIURL: "http://localhost:8188",
		PromptsDir: "./prompts",
		APIHost:    "127.0.0.1",
		APIPort:    8189,
		Prefix:     override.DefaultFilenamePrefix,
		LogLevel:   "info",
		LogFormat:  "text",
		TextSort:   override.SortLexical,
		PathPolicy: override.CreateIntermediates,
		Params:     override.DefaultParams(),
		Classes:    nodeclass.Default(),
	}
}

// Load builds a Config from defaults, the HCL file at path and the
// environment. An empty path falls back to DefaultFile when it exists; a
// named path must exist. Any .env file in the working directory is loaded
// first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := c.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from the variables lookup reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvComfyUIURL, &c.ComfyUIURL)
	str(EnvPromptsDir, &c.PromptsDir)
	str(EnvAPIHost, &c.APIHost)
	str(EnvDB, &c.DBPath)
	str(EnvPrefix, &c.Prefix)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)

	if v, ok := lookup(EnvAPIPort); ok && v != "" {
		if err := c.SetPort(v, "env"); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvTextSort); ok && v != "" {
		if err := c.SetTextSort(v, "env"); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvPathPolicy); ok && v != "" {
		if err := c.SetPathPolicy(v, "env"); err != nil {
			return err
		}
	}
	return nil
}

// SetPort parses and stores an API port.
func (c *Config) SetPort(v, source string) error {
	p, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || p <= 0 || p > 65535 {
		return &Error{Key: "api_port", Value: v, Source: source, Err: errors.New("want 1-65535")}
	}
	c.APIPort = p
	return nil
}

// SetTextSort accepts "lexical" or "numeric".
func (c *Config) SetTextSort(v, source string) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lexical":
		c.TextSort = override.SortLexical
	case "numeric":
		c.TextSort = override.SortNumeric
	default:
		return &Error{Key: "text_sort", Value: v, Source: source, Err: errors.New("want lexical or numeric")}
	}
	return nil
}

// SetPathPolicy accepts "create" or "require".
func (c *Config) SetPathPolicy(v, source string) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "create":
		c.PathPolicy = override.CreateIntermediates
	case "require":
		c.PathPolicy = override.RequireIntermediates
	default:
		return &Error{Key: "path_policy", Value: v, Source: source, Err: errors.New("want create or require")}
	}
	return nil
}

// Addr is the listen address of the HTTP API.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.APIHost, strconv.Itoa(c.APIPort))
}

// Engine returns an override engine using this configuration's tables.
// The tables are copied so the engine can be handed to concurrent requests.
func (c *Config) Engine() *override.Engine {
	return &override.Engine{
		Params:        c.Params.Clone(),
		Classes:       c.Classes.Clone(),
		TextSort:      c.TextSort,
		PathPolicy:    c.PathPolicy,
		DefaultPrefix: c.Prefix,
	}
}

// Print writes the effective settings as KEY=VALUE lines.
func (c *Config) Print(w io.Writer) error {
	lines := [][2]string{
		{EnvComfyUIURL, c.ComfyUIURL},
		{EnvPromptsDir, c.PromptsDir},
		{EnvAPIHost, c.APIHost},
		{EnvAPIPort, strconv.Itoa(c.APIPort)},
		{EnvDB, c.DBPath},
		{EnvPrefix, c.Prefix},
		{EnvTextSort, c.TextSort.String()},
		{EnvPathPolicy, c.PathPolicy.String()},
		{EnvLogLevel, c.LogLevel},
		{EnvLogFormat, c.LogFormat},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s=%s\n", l[0], l[1]); err != nil {
			return err
		}
	}
	if c.File != "" {
		if _, err := fmt.Fprintf(w, "# config file: %s\n", c.File); err != nil {
			return err
		}
	}
	return nil
}
