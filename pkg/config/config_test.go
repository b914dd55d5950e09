package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  registration_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultSessionTTL, cfg.Auth.SessionTTL)
	assert.Equal(t, DefaultDatabaseDriver, cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultMemberAttribute, cfg.Directory.MemberAttribute)
	assert.True(t, cfg.Auth.RegistrationEnabled)
	assert.False(t, cfg.Directory.Enabled)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTLDuration())
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  cors_origins:
    - https://app.example.com
  rate_limit:
    enabled: true
    auth:
      requests_per_minute: 10
auth:
  session_ttl: 1h
  username_login: true
  roles:
    - name: ops
      label: Operations
  users:
    - username: root
      password: changeme
      roles: [admin]
database:
  driver: sqlite
  sqlite:
    path: /tmp/test.sqlite
directory:
  enabled: true
  host: ldap://directory.example:389
  bind_dn: cn=service,dc=example,dc=com
  bind_password: secret
  user_base: ou=users,dc=example,dc=com
  username_attribute: uid
  group_base: ou=groups,dc=example,dc=com
  group_attribute: cn
  role_groups:
    admin: admins
    dev: developers
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.Server.RateLimit.Auth.RequestsPerMinute)
	assert.Equal(t, time.Hour, cfg.Auth.SessionTTLDuration())
	assert.Len(t, cfg.Auth.Roles, 1)
	assert.Len(t, cfg.Auth.Users, 1)
	assert.True(t, cfg.Directory.Enabled)
	assert.Equal(t, "admins", cfg.Directory.RoleGroups["admin"])
	assert.Equal(t, 10*time.Second, cfg.Directory.TimeoutDuration())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
`)

	t.Setenv("AUTHOOR_SERVER_LISTEN", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Listen)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "bad session ttl",
			mutate: func(c *Config) {
				c.Auth.SessionTTL = "soon"
			},
			wantErr: "session_ttl",
		},
		{
			name: "unsupported driver",
			mutate: func(c *Config) {
				c.Database.Driver = "oracle"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
			},
			wantErr: "database.postgres.host",
		},
		{
			name: "duplicate role",
			mutate: func(c *Config) {
				c.Auth.Roles = []SeedRole{
					{Name: "ops"}, {Name: "ops"},
				}
			},
			wantErr: "duplicate role",
		},
		{
			name: "seed user without identifier",
			mutate: func(c *Config) {
				c.Auth.Users = []SeedUser{{Password: "x"}}
			},
			wantErr: "username or email",
		},
		{
			name: "seed user without password in local mode",
			mutate: func(c *Config) {
				c.Auth.Users = []SeedUser{{Username: "root"}}
			},
			wantErr: "password is required",
		},
		{
			name: "directory without host",
			mutate: func(c *Config) {
				c.Directory.Enabled = true
			},
			wantErr: "directory.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DirectorySeedUsersNeedNoPassword(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	cfg.Directory.Enabled = true
	cfg.Directory.Host = "ldap://directory.example:389"
	cfg.Directory.BindDN = "cn=service,dc=example,dc=com"
	cfg.Directory.BindPassword = "secret"
	cfg.Directory.UserBase = "ou=users,dc=example,dc=com"
	cfg.Directory.UsernameAttribute = "uid"
	cfg.Directory.GroupBase = "ou=groups,dc=example,dc=com"
	cfg.Directory.GroupAttribute = "cn"

	cfg.Auth.Users = []SeedUser{{Username: "alice"}}

	assert.NoError(t, cfg.Validate())
}
