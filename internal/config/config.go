// Package config loads vidstored's own settings: built-in defaults, then
// vidstore.yml, then VIDSTORE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "vidstore.yml"
	DefaultDataDir    = "/var/lib/vidstore"
	DefaultListen     = ":8080"
	EnvPrefix         = "VIDSTORE_"

	ProbeExec = "exec"
	ProbeSQL  = "sql"
)

type Backup struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	Region       string `yaml:"region" json:"region"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	AccessKey    string `yaml:"access_key" json:"-"`
	SecretKey    string `yaml:"secret_key" json:"-"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

type Config struct {
	DataDir     string        `yaml:"data_dir"`
	Descriptor  string        `yaml:"descriptor"`
	Service     string        `yaml:"service"`
	Listen      string        `yaml:"listen"`
	PublicHost  string        `yaml:"public_host"`
	DockerHost  string        `yaml:"docker_host"`
	Probe       string        `yaml:"probe"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	Watch       bool          `yaml:"watch"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Backup      Backup        `yaml:"backup"`

	sources  map[string]string
	filePath string
}

type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

type LookupFunc func(string) (string, bool)

func Default() *Config {
	return &Config{
		DataDir:     DefaultDataDir,
		Listen:      DefaultListen,
		Probe:       ProbeExec,
		LogLevel:    "info",
		LogFormat:   "text",
		StopTimeout: 30 * time.Second,
		Backup:      Backup{Prefix: "vidstore"},
		sources:     map[string]string{},
	}
}

// Load layers the file at path (or $VIDSTORE_CONFIG, or ./vidstore.yml) and
// the environment over the defaults. Only an explicitly named file must exist.
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Default()

	explicit := path != ""
	if !explicit {
		if v, ok := lookup(EnvPrefix + "CONFIG"); ok && v != "" {
			path, explicit = v, true
		} else {
			path = DefaultConfigFile
		}
	}
	c.filePath = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		c.applyFile(&file)
	case os.IsNotExist(err) && !explicit:
		c.filePath = ""
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) set(name, source string) {
	c.sources[name] = source
}

func (c *Config) applyFile(f *Config) {
	str := func(name string, dst *string, v string) {
		if v != "" {
			*dst = v
			c.set(name, "file")
		}
	}
	str("data_dir", &c.DataDir, f.DataDir)
	str("descriptor", &c.Descriptor, f.Descriptor)
	str("service", &c.Service, f.Service)
	str("listen", &c.Listen, f.Listen)
	str("public_host", &c.PublicHost, f.PublicHost)
	str("docker_host", &c.DockerHost, f.DockerHost)
	str("probe", &c.Probe, f.Probe)
	str("log_level", &c.LogLevel, f.LogLevel)
	str("log_format", &c.LogFormat, f.LogFormat)
	str("backup.bucket", &c.Backup.Bucket, f.Backup.Bucket)
	str("backup.endpoint", &c.Backup.Endpoint, f.Backup.Endpoint)
	str("backup.region", &c.Backup.Region, f.Backup.Region)
	str("backup.prefix", &c.Backup.Prefix, f.Backup.Prefix)
	str("backup.access_key", &c.Backup.AccessKey, f.Backup.AccessKey)
	str("backup.secret_key", &c.Backup.SecretKey, f.Backup.SecretKey)
	if f.Watch {
		c.Watch = true
		c.set("watch", "file")
	}
	if f.Backup.UsePathStyle {
		c.Backup.UsePathStyle = true
		c.set("backup.use_path_style", "file")
	}
	if f.StopTimeout != 0 {
		c.StopTimeout = f.StopTimeout
		c.set("stop_timeout", "file")
	}
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	get := func(name string) (string, bool) {
		key := EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
			c.set(name, "environment")
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := get(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, strings.ToUpper(name), err)
		}
		*dst = b
		c.set(name, "environment")
		return nil
	}

	str("data_dir", &c.DataDir)
	str("descriptor", &c.Descriptor)
	str("service", &c.Service)
	str("listen", &c.Listen)
	str("public_host", &c.PublicHost)
	str("docker_host", &c.DockerHost)
	str("probe", &c.Probe)
	str("log_level", &c.LogLevel)
	str("log_format", &c.LogFormat)
	str("backup.bucket", &c.Backup.Bucket)
	str("backup.endpoint", &c.Backup.Endpoint)
	str("backup.region", &c.Backup.Region)
	str("backup.prefix", &c.Backup.Prefix)
	str("backup.access_key", &c.Backup.AccessKey)
	str("backup.secret_key", &c.Backup.SecretKey)
	if err := boolean("watch", &c.Watch); err != nil {
		return err
	}
	if err := boolean("backup.use_path_style", &c.Backup.UsePathStyle); err != nil {
		return err
	}
	if v, ok := get("stop_timeout"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sSTOP_TIMEOUT: %w", EnvPrefix, err)
		}
		c.StopTimeout = d
		c.set("stop_timeout", "environment")
	}
	return nil
}

func (c *Config) FilePath() string {
	return c.filePath
}

func (c *Config) Source(name string) string {
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.Probe != ProbeExec && c.Probe != ProbeSQL {
		return fmt.Errorf("invalid probe %q (want %s or %s)", c.Probe, ProbeExec, ProbeSQL)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	return nil
}

func (c *Config) Attributes() []Attribute {
	secret := func(v string) string {
		if v == "" {
			return ""
		}
		return "********"
	}
	attrs := []struct{ name, value string }{
		{"data_dir", c.DataDir},
		{"descriptor", c.Descriptor},
		{"service", c.Service},
		{"listen", c.Listen},
		{"public_host", c.PublicHost},
		{"docker_host", c.DockerHost},
		{"probe", c.Probe},
		{"log_level", c.LogLevel},
		{"log_format", c.LogFormat},
		{"watch", strconv.FormatBool(c.Watch)},
		{"stop_timeout", c.StopTimeout.String()},
		{"backup.bucket", c.Backup.Bucket},
		{"backup.endpoint", c.Backup.Endpoint},
		{"backup.region", c.Backup.Region},
		{"backup.prefix", c.Backup.Prefix},
		{"backup.access_key", secret(c.Backup.AccessKey)},
		{"backup.secret_key", secret(c.Backup.SecretKey)},
		{"backup.use_path_style", strconv.FormatBool(c.Backup.UsePathStyle)},
	}
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, Attribute{Name: a.name, Value: a.value, Source: c.Source(a.name)})
	}
	return out
}

func (c *Config) FormatText() string {
	var sb strings.Builder
	file := c.filePath
	if file == "" {
		file = "(none)"
	}
	fmt.Fprintf(&sb, "Config file: %s\n\n", file)
	fmt.Fprintf(&sb, "%-24s %-32s %s\n", "NAME", "VALUE", "SOURCE")
	fmt.Fprintf(&sb, "%-24s %-32s %s\n", "----", "-----", "------")
	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		fmt.Fprintf(&sb, "%-24s %-32s %s\n", attr.Name, value, attr.Source)
	}
	return sb.String()
}

func (c *Config) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(map[string]any{
		"config_file": c.filePath,
		"attributes":  c.Attributes(),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
