// Package config defines the validated configuration snapshot the
// supervision engine runs against, and loads it from a YAML document via
// viper so the file can be overridden by environment variables.
package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AutoRestart controls whether a replica that exits the Running state is
// relaunched.
type AutoRestart string

const (
	AutoRestartAlways     AutoRestart = "always"
	AutoRestartUnexpected AutoRestart = "unexpected"
	AutoRestartNever      AutoRestart = "never"
)

// DeEscalationUser carries the uid/gid a replica's child should run as.
type DeEscalationUser struct {
	UID uint32 `mapstructure:"uid" yaml:"uid"`
	GID uint32 `mapstructure:"gid" yaml:"gid"`
}

// ProgramConfig is the value-comparable description of one supervised
// program. Equality of two ProgramConfig values (after loading) decides
// whether a Program survives a config reload unchanged.
type ProgramConfig struct {
	Command            string            `mapstructure:"command" yaml:"command" validate:"required"`
	NumberOfProcess     uint32            `mapstructure:"number_of_process" yaml:"number_of_process"`
	AutoStart           bool              `mapstructure:"auto_start" yaml:"auto_start"`
	AutoRestart         AutoRestart       `mapstructure:"auto_restart" yaml:"auto_restart" validate:"oneof=always unexpected never"`
	ExpectedExitCodes   []int32           `mapstructure:"expected_exit_codes" yaml:"expected_exit_codes"`
	StartGraceSeconds   uint32            `mapstructure:"start_grace_seconds" yaml:"start_grace_seconds"`
	MaxRestartAttempts  uint32            `mapstructure:"max_restart_attempts" yaml:"max_restart_attempts"`
	StopSignal          Signal            `mapstructure:"stop_signal" yaml:"stop_signal" validate:"signal"`
	StopGraceSeconds    uint32            `mapstructure:"stop_grace_seconds" yaml:"stop_grace_seconds"`
	StdoutRedirect      string            `mapstructure:"stdout_redirect" yaml:"stdout_redirect"`
	StderrRedirect      string            `mapstructure:"stderr_redirect" yaml:"stderr_redirect"`
	Environment         map[string]string `mapstructure:"environment" yaml:"environment"`
	WorkingDirectory    string            `mapstructure:"working_directory" yaml:"working_directory"`
	Umask               *uint32           `mapstructure:"umask" yaml:"umask"`
	DeEscalationUser    *DeEscalationUser `mapstructure:"de_escalation_user" yaml:"de_escalation_user"`
}

// ExpectedExitCodeSet returns the configured exit codes as a set for
// cheap membership tests.
func (p ProgramConfig) ExpectedExitCodeSet() map[int32]struct{} {
	set := make(map[int32]struct{}, len(p.ExpectedExitCodes))
	for _, code := range p.ExpectedExitCodes {
		set[code] = struct{}{}
	}
	return set
}

// Equal reports deep value equality, the relation should_be_kept relies on.
func (p ProgramConfig) Equal(other ProgramConfig) bool {
	if p.Command != other.Command ||
		p.NumberOfProcess != other.NumberOfProcess ||
		p.AutoStart != other.AutoStart ||
		p.AutoRestart != other.AutoRestart ||
		p.StartGraceSeconds != other.StartGraceSeconds ||
		p.MaxRestartAttempts != other.MaxRestartAttempts ||
		p.StopSignal != other.StopSignal ||
		p.StopGraceSeconds != other.StopGraceSeconds ||
		p.StdoutRedirect != other.StdoutRedirect ||
		p.StderrRedirect != other.StderrRedirect ||
		p.WorkingDirectory != other.WorkingDirectory {
		return false
	}
	if (p.Umask == nil) != (other.Umask == nil) {
		return false
	}
	if p.Umask != nil && *p.Umask != *other.Umask {
		return false
	}
	if (p.DeEscalationUser == nil) != (other.DeEscalationUser == nil) {
		return false
	}
	if p.DeEscalationUser != nil && *p.DeEscalationUser != *other.DeEscalationUser {
		return false
	}
	if len(p.ExpectedExitCodes) != len(other.ExpectedExitCodes) {
		return false
	}
	for i, code := range p.ExpectedExitCodes {
		if other.ExpectedExitCodes[i] != code {
			return false
		}
	}
	if len(p.Environment) != len(other.Environment) {
		return false
	}
	for k, v := range p.Environment {
		if other.Environment[k] != v {
			return false
		}
	}
	return true
}

// Config is a mapping of program name to its validated configuration. It is
// an immutable value once loaded: each Program that consumes it keeps its
// own clone.
type Config map[string]ProgramConfig

// Clone returns a deep-enough copy for a Program to hold independently of
// future reloads of the same name.
func (c ProgramConfig) Clone() ProgramConfig {
	clone := c
	if c.ExpectedExitCodes != nil {
		clone.ExpectedExitCodes = append([]int32(nil), c.ExpectedExitCodes...)
	}
	if c.Environment != nil {
		clone.Environment = make(map[string]string, len(c.Environment))
		for k, v := range c.Environment {
			clone.Environment[k] = v
		}
	}
	if c.Umask != nil {
		u := *c.Umask
		clone.Umask = &u
	}
	if c.DeEscalationUser != nil {
		d := *c.DeEscalationUser
		clone.DeEscalationUser = &d
	}
	return clone
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("signal", func(fl validator.FieldLevel) bool {
		return Signal(fl.Field().String()).Valid()
	})
	return v
}

// Validate checks every ProgramConfig's struct tags, returning a combined
// error naming every offending program if any fail.
func (c Config) Validate() error {
	var problems []string
	for name, pc := range c {
		if err := validate.Struct(pc); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: invalid program configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads, parses, and validates the configuration file at path,
// allowing a field already set in the file to be overridden by a
// TASKMASTER_<PROGRAM>_<FIELD>-style environment variable via viper's
// automatic env binding. Environment values arrive as strings, so an
// override decodes only into a string-typed field; one aimed at a numeric,
// boolean, list or map field makes the decode fail. Locating and
// env-merging the document is viper's job; decoding its shape into
// ProgramConfig is done with yaml.v3 directly against the merged settings,
// so the struct's yaml tags (not mapstructure's looser field matching)
// govern the document's exact shape.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	merged, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("config: re-encoding %s: %w", path, err)
	}

	var raw map[string]ProgramConfig
	if err := yaml.NewDecoder(bytes.NewReader(merged)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	cfg := Config(raw)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
