package main

import (
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/burntcarrot/convergent/crdt"
)

// Config holds the server settings, read from an optional TOML file and
// overridden by flags.
type Config struct {
	// Addr is the websocket listen address.
	Addr string

	// MetricsAddr exposes prometheus metrics when set.
	MetricsAddr string

	// Kind is the sequence variant every replica in the session uses.
	Kind crdt.Kind

	Debug bool
}

func defaultConfig() Config {
	return Config{Addr: ":8080", Kind: crdt.KindRGA}
}

// LoadConfig places the values from a TOML file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	conf := defaultConfig()
	if path == "" {
		return conf, nil
	}

	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return conf, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", path, err)
	}
	return conf, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	for _, kind := range crdt.SequenceKinds {
		if c.Kind == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not a sequence kind", crdt.ErrUnknownKind, c.Kind)
}

// parseConfig loads the config file named by -config and applies the flags
// that were set explicitly.
func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	path := fs.String("config", "", "Path to a TOML config file")
	addr := fs.String("addr", "", "Server's network address")
	metricsAddr := fs.String("metrics", "", "Address to expose prometheus metrics on")
	kind := fs.String("kind", "", "Sequence CRDT used for the document (rga, woot, treedoc, logoot, causaltree)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	conf, err := LoadConfig(*path)
	if err != nil {
		return conf, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			conf.Addr = *addr
		case "metrics":
			conf.MetricsAddr = *metricsAddr
		case "kind":
			conf.Kind = crdt.Kind(*kind)
		case "debug":
			conf.Debug = *debug
		}
	})

	return conf, conf.Validate()
}
