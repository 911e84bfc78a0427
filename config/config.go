// Package config loads a node's TOML configuration file, the way
// cmd/berith/config.go loads berConfig: a fixed-field-name toml.Config so
// struct field names double as TOML keys, decoded with naoina/toml.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings mirrors cmd/berith/config.go's fixed-field-name settings:
// TOML keys are exactly the Go struct field names, and an unrecognised
// key is a hard error rather than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Config holds every setting a node (worker or server) needs at startup.
type Config struct {
	// Difficulty is the required count of leading hex '0' characters a
	// block's hash must carry to be well-formed.
	Difficulty uint

	// ServerAddr is the transaction intake server's HTTP bind address,
	// e.g. ":8000".
	ServerAddr string

	// ServerURL is the base URL a worker's txclient polls and posts
	// mined blocks to, e.g. "http://localhost:8000".
	ServerURL string

	// ListenTCP and ListenQUIC are the gossip bus's libp2p listen
	// multiaddrs, mirroring original_source/p2p_network.rs's two
	// listeners.
	ListenTCP  string
	ListenQUIC string

	// LogLevel is one of "crit", "error", "warn", "info", "debug",
	// "trace" (case-insensitive), parsed via logging.LvlFromString.
	LogLevel string
}

// Default returns the settings a single-node local deployment needs with
// no config file at all.
func Default() Config {
	return Config{
		Difficulty: 5,
		ServerAddr: ":8000",
		ServerURL:  "http://localhost:8000",
		ListenTCP:  "/ip4/0.0.0.0/tcp/0",
		ListenQUIC: "/ip4/0.0.0.0/udp/0/quic-v1",
		LogLevel:   "info",
	}
}

// Load reads and decodes a TOML file on top of Default(), the way
// loadConfig reads berConfig: any key not already a Config field is a
// hard decode error rather than silently ignored.
func Load(file string) (Config, error) {
	cfg := Default()

	f, err := os.Open(file)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return cfg, err
}
