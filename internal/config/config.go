// Package config loads sqlbridge settings from YAML.
//
// Decoding is strict: unknown keys are rejected. The decoded value is then
// unified with an embedded CUE schema, which checks value ranges and
// enumerations and reports the offending position.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlbridge/internal/attach"
	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/hook"
	"github.com/roach88/sqlbridge/internal/native"
)

//go:embed schema.cue
var schemaCUE string

// Config is the on-disk configuration.
type Config struct {
	Database            string   `yaml:"database" json:"database,omitempty"`
	ReadOnly            bool     `yaml:"read_only" json:"read_only,omitempty"`
	Create              *bool    `yaml:"create" json:"create,omitempty"`
	BusyTimeoutMS       int      `yaml:"busy_timeout_ms" json:"busy_timeout_ms,omitempty"`
	ExtendedResultCodes *bool    `yaml:"extended_result_codes" json:"extended_result_codes,omitempty"`
	CommitVeto          bool     `yaml:"commit_veto" json:"commit_veto,omitempty"`
	DetachPolicy        string   `yaml:"detach_policy" json:"detach_policy,omitempty"`
	Journal             string   `yaml:"journal" json:"journal,omitempty"`
	LogLevel            string   `yaml:"log_level" json:"log_level,omitempty"`
	Capabilities        []string `yaml:"capabilities" json:"capabilities,omitempty"`
}

// Error is a configuration problem, positioned when CUE reports one.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML. An empty document yields Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema and cross-field rules.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}

	if c.ReadOnly && c.Create != nil && *c.Create {
		return &Error{Field: "create", Message: "cannot create a read-only database"}
	}
	return nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Field: "config", Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		e.Field = path[len(path)-1]
	}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		e.Pos = pos[0]
	}
	return e
}

// OpenFlags derives the open flags.
func (c *Config) OpenFlags() native.OpenFlags {
	if c.ReadOnly {
		return native.OpenReadOnly | native.OpenURI
	}
	flags := native.OpenReadWrite | native.OpenURI
	if c.Create == nil || *c.Create {
		flags |= native.OpenCreate
	}
	return flags
}

// Level maps log_level to a slog level. Unset means info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ListenerCapabilities parses the capabilities list. An empty list means
// whatever the listener implements.
func (c *Config) ListenerCapabilities() (hook.Capability, error) {
	return hook.ParseCapabilities(c.Capabilities)
}

// BridgeOptions translates the file into bridge options.
func (c *Config) BridgeOptions(logger *slog.Logger) ([]bridge.Option, error) {
	policy, err := attach.ParsePolicy(c.DetachPolicy)
	if err != nil {
		return nil, err
	}
	opts := []bridge.Option{
		bridge.WithCommitVeto(c.CommitVeto),
		bridge.WithDetachPolicy(policy),
	}
	if logger != nil {
		opts = append(opts, bridge.WithLogger(logger))
	}
	if c.BusyTimeoutMS > 0 {
		opts = append(opts, bridge.WithBusyTimeout(time.Duration(c.BusyTimeoutMS)*time.Millisecond))
	}
	if c.ExtendedResultCodes != nil {
		opts = append(opts, bridge.WithExtendedResultCodes(*c.ExtendedResultCodes))
	}
	return opts, nil
}
