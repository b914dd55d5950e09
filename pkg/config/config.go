package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default lifetime of login sessions.
	DefaultSessionTTL = "24h"

	// DefaultDatabaseDriver is used when no driver is configured.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default sqlite database location.
	DefaultSQLitePath = "./authoor.sqlite"

	// DefaultDirectoryTimeout bounds LDAP network operations.
	DefaultDirectoryTimeout = "10s"

	// DefaultMemberAttribute is the group attribute listing member uids.
	DefaultMemberAttribute = "memberUid"

	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. AUTHOOR_SERVER_LISTEN or AUTHOOR_DATABASE_POSTGRES_PASSWORD.
	EnvPrefix = "AUTHOOR"
)

// Config is the root configuration for authoor.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Directory DirectoryConfig `yaml:"directory,omitempty" mapstructure:"directory"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
}

// Load reads and parses a configuration file from the given path.
// Environment variables prefixed with AUTHOOR_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Directory.Timeout == "" {
		c.Directory.Timeout = DefaultDirectoryTimeout
	}

	if c.Directory.MemberAttribute == "" {
		c.Directory.MemberAttribute = DefaultMemberAttribute
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Auth.SessionTTL); err != nil {
		return fmt.Errorf("invalid session_ttl %q: %w", c.Auth.SessionTTL, err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	seenRoles := make(map[string]struct{}, len(c.Auth.Roles))

	for i, role := range c.Auth.Roles {
		if role.Name == "" {
			return fmt.Errorf("auth.roles[%d]: name is required", i)
		}

		if _, exists := seenRoles[role.Name]; exists {
			return fmt.Errorf("auth.roles[%d]: duplicate role %q", i, role.Name)
		}

		seenRoles[role.Name] = struct{}{}
	}

	for i, user := range c.Auth.Users {
		if user.Username == "" && user.Email == "" {
			return fmt.Errorf(
				"auth.users[%d]: at least one of username or email is required", i,
			)
		}

		if !c.Directory.Enabled && user.Password == "" {
			return fmt.Errorf("auth.users[%d]: password is required", i)
		}
	}

	if c.Directory.Enabled {
		return c.Directory.validate()
	}

	return nil
}

// validate checks the directory section when directory mode is enabled.
func (d *DirectoryConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("directory.host is required")
	}

	if d.BindDN == "" || d.BindPassword == "" {
		return fmt.Errorf(
			"directory.bind_dn and directory.bind_password are required",
		)
	}

	if d.UserBase == "" || d.UsernameAttribute == "" {
		return fmt.Errorf(
			"directory.user_base and directory.username_attribute are required",
		)
	}

	if d.GroupBase == "" || d.GroupAttribute == "" {
		return fmt.Errorf(
			"directory.group_base and directory.group_attribute are required",
		)
	}

	if _, err := time.ParseDuration(d.Timeout); err != nil {
		return fmt.Errorf("invalid directory.timeout %q: %w", d.Timeout, err)
	}

	return nil
}

// SessionTTLDuration returns the parsed session lifetime. Validate must
// have been called first; an unparseable value falls back to the default.
func (c *AuthConfig) SessionTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		d, _ = time.ParseDuration(DefaultSessionTTL)
	}

	return d
}

// TimeoutDuration returns the parsed directory operation timeout.
func (d *DirectoryConfig) TimeoutDuration() time.Duration {
	t, err := time.ParseDuration(d.Timeout)
	if err != nil {
		t, _ = time.ParseDuration(DefaultDirectoryTimeout)
	}

	return t
}
