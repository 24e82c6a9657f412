// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg holds afstool's configuration surface: the flags/viper
// keys every subcommand reads to open a store and a filesystem on top
// of it.
package cfg

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one afstool invocation.
type Config struct {
	Store StoreConfig `yaml:"store"`

	Crypt CryptConfig `yaml:"crypt"`

	Log LogConfig `yaml:"log"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects and sizes the underlying blockstore.Store.
type StoreConfig struct {
	DataPath    string `yaml:"data-path"`
	JournalPath string `yaml:"journal-path"`
	BlockSize   int    `yaml:"block-size"`
	MaxBlocks   uint64 `yaml:"max-blocks"`
	Mode        string `yaml:"mode"`
}

// CryptConfig controls whether the store is wrapped in a CryptStore and,
// if so, how its passphrase is stretched into key material.
type CryptConfig struct {
	Enabled         bool   `yaml:"enabled"`
	PassphraseEnv   string `yaml:"passphrase-env"`
	Pbkdf2Iterations int   `yaml:"pbkdf2-iterations"`
}

// LogConfig controls afstool's own logging.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig controls the optional Prometheus metrics endpoint.
type MetricsConfig struct {
	// Addr is the address to serve /metrics on, e.g. "localhost:9090".
	// Empty disables the metrics server.
	Addr string `yaml:"addr"`
}

// BindFlags registers every flag afstool accepts on flagSet and binds
// each one to the matching viper key, so Resolve can later read the
// merged flag/env/config-file value for each field.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(bindErr *error, key string) {
		if *bindErr != nil {
			return
		}
		*bindErr = viper.BindPFlag(key, flagSet.Lookup(key))
	}

	var err error

	flagSet.String("data-path", "afs.dat", "Path to the data file.")
	bind(&err, "data-path")

	flagSet.String("journal-path", "afs.journal", "Path to the journal file.")
	bind(&err, "journal-path")

	flagSet.Int("block-size", 4096, "Block size in bytes for a freshly initialized store.")
	bind(&err, "block-size")

	flagSet.Uint64("max-blocks", 1<<32, "Maximum number of blocks the store may grow to.")
	bind(&err, "max-blocks")

	flagSet.String("mode", "journal", "File store durability mode: journal, flush, noflush, or verifyjournal.")
	bind(&err, "mode")

	flagSet.Bool("crypt", false, "Wrap the store in a CryptStore, encrypting all block contents.")
	bind(&err, "crypt")

	flagSet.String("passphrase-env", "AFS_PASSPHRASE", "Name of the environment variable holding the CryptStore passphrase.")
	bind(&err, "passphrase-env")

	flagSet.Int("pbkdf2-iterations", 200_000, "PBKDF2 iteration count used to stretch the passphrase.")
	bind(&err, "pbkdf2-iterations")

	flagSet.String("log-format", "text", "Log output format: text or json.")
	bind(&err, "log-format")

	flagSet.String("log-level", "info", "Minimum log severity: trace, debug, info, warning, or error.")
	bind(&err, "log-level")

	flagSet.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. localhost:9090) for the lifetime of the command.")
	bind(&err, "metrics-addr")

	return err
}

// Resolve reads every bound key back out of viper into a Config.
func Resolve() (Config, error) {
	var c Config
	c.Store.DataPath = viper.GetString("data-path")
	c.Store.JournalPath = viper.GetString("journal-path")
	c.Store.BlockSize = viper.GetInt("block-size")
	c.Store.MaxBlocks = viper.GetUint64("max-blocks")
	c.Store.Mode = viper.GetString("mode")
	c.Crypt.Enabled = viper.GetBool("crypt")
	c.Crypt.PassphraseEnv = viper.GetString("passphrase-env")
	c.Crypt.Pbkdf2Iterations = viper.GetInt("pbkdf2-iterations")
	c.Log.Format = viper.GetString("log-format")
	c.Log.Level = viper.GetString("log-level")
	c.Metrics.Addr = viper.GetString("metrics-addr")

	if c.Store.BlockSize <= 0 {
		return Config{}, fmt.Errorf("cfg: block-size must be positive, got %d", c.Store.BlockSize)
	}
	return c, nil
}
