// Package rsyncdconfig loads the TOML configuration file that drives
// internal/maincmd's daemon mode: which addresses to listen on and which
// rsync modules to expose.
package rsyncdconfig

import (
	"fmt"
	"os"

	"github.com/deltacopy/rsync/rsyncd"
	"github.com/pelletier/go-toml/v2"
)

// Listener describes one address drsyncd accepts connections on.
type Listener struct {
	// Rsyncd is a plain TCP listen address (host:port) speaking the native
	// rsync daemon protocol.
	Rsyncd string `toml:"rsyncd"`
	// AnonSSH is parsed from the anonssh key (or set from
	// --ext.anonssh_listen). Daemon mode does not listen on it: no SSH
	// server exists in this module, only Rsyncd is served.
	AnonSSH string `toml:"anonssh"`
	// AuthorizedSSH is parsed from the authorized_ssh table. Like AnonSSH,
	// daemon mode does not listen on it or read AuthorizedKeys.
	AuthorizedSSH struct {
		Address        string `toml:"address"`
		AuthorizedKeys string `toml:"authorized_keys"`
	} `toml:"authorized_ssh"`
}

// Config is the top-level shape of a drsyncd.toml file.
type Config struct {
	Listeners []Listener      `toml:"listener"`
	Modules   []rsyncd.Module `toml:"module"`

	// DontNamespace is parsed from the dont_namespace key but not read by
	// daemon mode, which applies no mount-namespace isolation either way.
	DontNamespace bool `toml:"dont_namespace"`
}

// DefaultConfigPaths are tried, in order, by FromDefaultFiles.
var DefaultConfigPaths = []string{
	"/etc/drsyncd.toml",
	"/perm/drsyncd.toml",
}

// FromFile parses the TOML configuration at path.
func FromFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// FromDefaultFiles tries each of DefaultConfigPaths in turn, returning the
// first one that exists (along with its path). If none exist, it returns
// the os.IsNotExist error for the last path tried.
func FromDefaultFiles() (*Config, string, error) {
	var lastErr error
	for _, path := range DefaultConfigPaths {
		cfg, err := FromFile(path)
		if err == nil {
			return cfg, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", lastErr
}
