package config

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	SessionTTL string `yaml:"session_ttl" mapstructure:"session_ttl"`

	// RegistrationEnabled allows self-service account creation.
	RegistrationEnabled bool `yaml:"registration_enabled" mapstructure:"registration_enabled"`

	// UsernameLogin selects username as the login identifier instead of
	// email.
	UsernameLogin bool `yaml:"username_login" mapstructure:"username_login"`

	// RequireConfirmedEmail rejects logins from accounts whose email has
	// not been confirmed. Ignored in directory mode.
	RequireConfirmedEmail bool `yaml:"require_confirmed_email" mapstructure:"require_confirmed_email"`

	// Roles and Users are seeded into the store at startup.
	Roles []SeedRole `yaml:"roles,omitempty" mapstructure:"roles"`
	Users []SeedUser `yaml:"users,omitempty" mapstructure:"users"`
}

// SeedRole defines a role provisioned at startup.
type SeedRole struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Label string `yaml:"label,omitempty" mapstructure:"label"`
}

// SeedUser defines a user provisioned at startup.
type SeedUser struct {
	Username  string   `yaml:"username,omitempty" mapstructure:"username"`
	Email     string   `yaml:"email,omitempty" mapstructure:"email"`
	Password  string   `yaml:"password,omitempty" mapstructure:"password"`
	FirstName string   `yaml:"first_name,omitempty" mapstructure:"first_name"`
	LastName  string   `yaml:"last_name,omitempty" mapstructure:"last_name"`
	Roles     []string `yaml:"roles,omitempty" mapstructure:"roles"`
}

// DirectoryConfig contains LDAP directory settings. When Enabled is true,
// authentication and role checks defer to the directory instead of the
// local credential store.
type DirectoryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	Host         string `yaml:"host,omitempty" mapstructure:"host"`
	BindDN       string `yaml:"bind_dn,omitempty" mapstructure:"bind_dn"`
	BindPassword string `yaml:"bind_password,omitempty" mapstructure:"bind_password"`

	UserBase          string `yaml:"user_base,omitempty" mapstructure:"user_base"`
	UserObjectClass   string `yaml:"user_object_class,omitempty" mapstructure:"user_object_class"`
	UsernameAttribute string `yaml:"username_attribute,omitempty" mapstructure:"username_attribute"`
	EmailAttribute    string `yaml:"email_attribute,omitempty" mapstructure:"email_attribute"`

	GroupBase        string `yaml:"group_base,omitempty" mapstructure:"group_base"`
	GroupObjectClass string `yaml:"group_object_class,omitempty" mapstructure:"group_object_class"`
	GroupAttribute   string `yaml:"group_attribute,omitempty" mapstructure:"group_attribute"`

	// MemberAttribute names the group attribute listing member uids.
	MemberAttribute string `yaml:"member_attribute,omitempty" mapstructure:"member_attribute"`

	// RoleGroups maps application role names to directory group names.
	// A role with no mapping can never be satisfied in directory mode.
	RoleGroups map[string]string `yaml:"role_groups,omitempty" mapstructure:"role_groups"`

	Timeout string `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}
