package slave

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Config is the TOML-loadable connection-level configuration spec.md §6
// names: host/port/credentials, whether to request the GTID dump path, and
// the reconnect backoff. Table subscriptions and callbacks are Go values,
// not TOML-serializable, and are registered directly on a Session/
// CallbackRouter instead (see Session.Subscribe).
type Config struct {
	MySQLHost string `toml:"mysql_host"`
	MySQLPort uint16 `toml:"mysql_port"`
	MySQLUser string `toml:"mysql_user"`
	MySQLPass string `toml:"mysql_pass"`

	GTIDEnabled bool `toml:"mysql_slave_gtid_enabled"`

	// ConnectRetrySeconds is the backoff between connect attempts, named
	// connect_retry in the original implementation's configuration.
	ConnectRetrySeconds int `toml:"connect_retry"`
}

// ConnectRetry returns the configured backoff, defaulting to 5 seconds when
// unset (a config with a zero connect_retry would otherwise busy-loop).
func (c Config) ConnectRetry() time.Duration {
	if c.ConnectRetrySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ConnectRetrySeconds) * time.Second
}

// LoadConfig reads a Config from a TOML file at path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Annotatef(err, "slave: loading config %s", path)
	}
	return &cfg, nil
}
