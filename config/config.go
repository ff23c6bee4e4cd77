// Package config loads the settings a sync run needs.
package config

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/shardsync/directory"
	"github.com/bobg/shardsync/pipeline"
	"github.com/bobg/shardsync/progress"
	"github.com/bobg/shardsync/store/sqlite3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "SHARDSYNC_CONFIG"

// DefaultPath is the config file used when EnvVar is unset.
const DefaultPath = "config.json"

// Config is the contents of a config file.
// The master* members describe the shard directory database.
// Shards are reached with the same user and password.
type Config struct {
	MasterHost     string `json:"masterHost"`
	MasterPort     int    `json:"masterPort"`
	MasterUser     string `json:"masterUser"`
	MasterPassword string `json:"masterPassword"`
	MasterDatabase string `json:"masterDatabase"`

	// Store configures the local keyed store.
	// Its "type" member selects a registered store type
	// and the rest is passed to that type's factory.
	Store map[string]interface{} `json:"store"`

	Window         int      `json:"window"`
	Interval       Duration `json:"interval"`
	ConnectTimeout Duration `json:"connectTimeout"`
}

// Duration is a time.Duration written in JSON as a string like "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %s", s)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Path is the config file to load:
// the value of EnvVar if set,
// otherwise DefaultPath.
func Path() string {
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", path)
	}
	defer f.Close()

	conf, err := Read(f)
	return conf, errors.Wrapf(err, "in config file %s", path)
}

// Read decodes a config from r and fills in defaults.
func Read(r io.Reader) (*Config, error) {
	var conf Config

	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	if conf.MasterDatabase == "" {
		return nil, errors.New(`missing "masterDatabase"`)
	}
	if conf.Window < 0 {
		return nil, errors.Errorf(`negative "window" %d`, conf.Window)
	}
	if conf.Window == 0 {
		conf.Window = pipeline.DefaultWindow
	}
	if conf.Interval.Duration <= 0 {
		conf.Interval.Duration = progress.DefaultInterval
	}
	if conf.Store == nil {
		conf.Store = map[string]interface{}{"type": "sqlite3", "path": sqlite3.DefaultPath}
	}

	return &conf, nil
}

// Directory is the shard directory the config describes.
func (c *Config) Directory() *directory.MySQL {
	return &directory.MySQL{
		Host:     c.MasterHost,
		Port:     c.MasterPort,
		User:     c.MasterUser,
		Password: c.MasterPassword,
		Database: c.MasterDatabase,
		Timeout:  c.ConnectTimeout.Duration,
	}
}
