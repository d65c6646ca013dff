// config is the package containing the project configuration for rz,
// as kept in a `.rz.yaml` file next to the compose file, and
// overridden by command-line flags.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	ConfigName      = ".rz.yaml"
	ConfigType      = "yaml"
	RzConfigVersion = "v1"
)

const (
	BuilderNone  = "none"
	BuilderLocal = "local"
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to RzConfigVersion
	// above, it is considered an invalid configuration.
	ConfigVersion string `mapstructure:"rzConfigVersion" yaml:"rzConfigVersion"`

	LogFormat       string `mapstructure:"logFormat" yaml:"logFormat,omitempty"`
	MetricsTextfile string `mapstructure:"metricsTextfile" yaml:"metricsTextfile,omitempty"`

	ComposeFile string `mapstructure:"composeFile" yaml:"composeFile,omitempty"`
	ProjectName string `mapstructure:"projectName" yaml:"projectName,omitempty"`
	Artifact    string `mapstructure:"artifact" yaml:"artifact,omitempty"`
	Builder     string `mapstructure:"builder" yaml:"builder,omitempty"`
	Registry    string `mapstructure:"registry" yaml:"registry,omitempty"`
	Push        bool   `mapstructure:"push" yaml:"push,omitempty"`

	Kubeconfig string `mapstructure:"kubeconfig" yaml:"kubeconfig,omitempty"`
	Context    string `mapstructure:"context" yaml:"context,omitempty"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace,omitempty"`

	Rollback             bool          `mapstructure:"rollback" yaml:"rollback"`
	Timeout              time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	PollInterval         time.Duration `mapstructure:"pollInterval" yaml:"pollInterval,omitempty"`
	RestartBackoff       time.Duration `mapstructure:"restartBackoff" yaml:"restartBackoff,omitempty"`
	RollbackPollInterval time.Duration `mapstructure:"rollbackPollInterval" yaml:"rollbackPollInterval,omitempty"`
}

// Defaults returns the values used for anything neither the config
// file nor a flag sets. Booleans get their defaults from their flags,
// since a false here can't be told apart from an unset value.
func Defaults() Config {
	return Config{
		ConfigVersion:        RzConfigVersion,
		LogFormat:            "fmt",
		ComposeFile:          "docker-compose.yml",
		Artifact:             "kube.yaml",
		Builder:              BuilderNone,
		Namespace:            "default",
		PollInterval:         time.Second,
		RestartBackoff:       10 * time.Second,
		RollbackPollInterval: 2 * time.Second,
	}
}

func (c Config) IsValid() error {
	if c.ConfigVersion != RzConfigVersion {
		return fmt.Errorf("config file is expected to include `rzConfigVersion: %s` to mark it as an rz config", RzConfigVersion)
	}
	switch c.Builder {
	case "", BuilderNone, BuilderLocal:
	default:
		return fmt.Errorf("builder %q is not one of {%s,%s}", c.Builder, BuilderNone, BuilderLocal)
	}
	switch c.LogFormat {
	case "", "fmt", "json":
	default:
		return fmt.Errorf("log format %q is not one of {fmt,json}", c.LogFormat)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Bind makes the flag named the source for the config field named,
// when the flag is given. The field's mapstructure tag supplies the
// key.
func Bind(v *viper.Viper, fs *pflag.FlagSet, fieldName, flagName string) error {
	field, ok := reflect.TypeOf(Config{}).FieldByName(fieldName)
	if !ok {
		return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
	}
	flag := fs.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf("attempt to bind unknown flag %q", flagName)
	}
	// this parallels the logic in github.com/mitchellh/mapstructure,
	// except that we bail if a field is marked ignore
	mappedName := field.Name
	if namePart := strings.Split(field.Tag.Get("mapstructure"), ",")[0]; namePart != "" {
		if namePart == "-" {
			return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
		}
		mappedName = namePart
	}
	return v.BindPFlag(mappedName, flag)
}

// Load reads the config file at path, if there is one, overlaid with
// any flags bound to v, and fills in defaults for whatever is left.
func Load(v *viper.Viper, path string) (Config, error) {
	var fromFile bool
	if path != "" {
		switch _, err := os.Stat(path); {
		case err == nil:
			v.SetConfigFile(path)
			v.SetConfigType(ConfigType)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrapf(err, "reading config file %s", path)
			}
			fromFile = true
		case !os.IsNotExist(err):
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if !fromFile {
		c.ConfigVersion = RzConfigVersion
	}
	if err := c.IsValid(); err != nil {
		return Config{}, errors.Wrapf(err, "config file %s", path)
	}
	if err := mergo.Merge(&c, Defaults()); err != nil {
		return Config{}, errors.Wrap(err, "applying config defaults")
	}
	return c, nil
}

// Write saves the config to path as YAML.
func Write(path string, c Config) error {
	c.ConfigVersion = RzConfigVersion
	if err := c.IsValid(); err != nil {
		return err
	}
	bytes, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return ioutil.WriteFile(path, bytes, 0644)
}
