package credgate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Build it with DefaultConfig, overlay a
// YAML file with LoadConfig and environment variables with ApplyEnv, then pass it
// to Builder.WithConfig. It is treated as immutable once built.
type Config struct {
	JWT        JWTConfig        `yaml:"jwt"`
	Password   PasswordConfig   `yaml:"password"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	Store      StoreConfig      `yaml:"store"`
	Permission PermissionConfig `yaml:"permission"`
	Audit      AuditConfig      `yaml:"audit"`
	Retention  RetentionConfig  `yaml:"retention"`
	Security   SecurityConfig   `yaml:"security"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. SigningKey is the HS256 secret, or the
// base64 ed25519 private key; PublicKey is the base64 ed25519 public key.
type JWTConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	SigningMethod string        `yaml:"signing_method"`
	SigningKey    string        `yaml:"signing_key"`
	PublicKey     string        `yaml:"public_key"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters. BcryptCost > 0 additionally accepts
// legacy bcrypt hashes, which are rewritten on login when UpgradeOnLogin is set.
type PasswordConfig struct {
	Memory         uint32 `yaml:"memory"`
	Time           uint32 `yaml:"time"`
	Parallelism    uint8  `yaml:"parallelism"`
	SaltLength     uint32 `yaml:"salt_length"`
	KeyLength      uint32 `yaml:"key_length"`
	BcryptCost     int    `yaml:"bcrypt_cost"`
	UpgradeOnLogin bool   `yaml:"upgrade_on_login"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the failed-login policy. Both the login name and the source
// address are counted; reaching Threshold on either locks the attempt.
type LockoutConfig struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	Sliding   bool          `yaml:"sliding"`
	TrackAddr bool          `yaml:"track_addr"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds every backing store round trip.
type StoreConfig struct {
	RedisPrefix          string        `yaml:"redis_prefix"`
	OperationTimeout     time.Duration `yaml:"operation_timeout"`
	WriteRetries         uint64        `yaml:"write_retries"`
	WriteRetryMaxElapsed time.Duration `yaml:"write_retry_max_elapsed"`
	// Revocation selects "redis" or "sql".
	Revocation string `yaml:"revocation"`
}

// PermissionConfig controls the shared permission cache.
type PermissionConfig struct {
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	FanoutLimit  int           `yaml:"fanout_limit"`
}

// AuditConfig controls asynchronous login log delivery.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// RetentionConfig drives the maintenance runner.
type RetentionConfig struct {
	LoginLog      time.Duration `yaml:"login_log"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds hardening switches.
type SecurityConfig struct {
	ProductionMode bool `yaml:"production_mode"`
	// HideLockoutReason reports locked logins as ErrInvalidCredentials.
	HideLockoutReason bool `yaml:"hide_lockout_reason"`
	// RequireActiveOnRefresh reloads the principal on refresh and rejects disabled ones.
	RequireActiveOnRefresh bool `yaml:"require_active_on_refresh"`
}

/*
====================================
CONNECTION CONFIG
====================================
*/

// RedisConfig is consumed by cmd/credgated; the engine takes a ready client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig is consumed by cmd/credgated.
type DatabaseConfig struct {
	// DSN is the Postgres connection string for principals and roles.
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// LoginLogPath is the SQLite file holding login logs and, with
	// Store.Revocation "sql", revocation markers.
	LoginLogPath string `yaml:"login_log_path"`
}

// HTTPConfig is consumed by internal/httpapi.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies lists the proxy addresses or CIDRs whose X-Forwarded-For
	// header is honored. Empty means the peer address is the client address.
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a development-friendly configuration without a signing key.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			TrackAddr: true,
		},
		Store: StoreConfig{
			RedisPrefix:          "cg",
			OperationTimeout:     500 * time.Millisecond,
			WriteRetries:         3,
			WriteRetryMaxElapsed: time.Second,
			Revocation:           "redis",
		},
		Permission: PermissionConfig{
			CacheEnabled: true,
			CacheTTL:     24 * time.Hour,
			FanoutLimit:  256,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Retention: RetentionConfig{
			LoginLog:      90 * 24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			MaxConnections:  25,
			ConnMaxLifetime: 30 * time.Minute,
			LoginLogPath:    "credgate.db",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Durations use Go syntax ("15m").
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays CREDGATE_* environment variables. Unset variables leave fields untouched.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("CREDGATE_JWT_SIGNING_METHOD", &c.JWT.SigningMethod)
	str("CREDGATE_JWT_SIGNING_KEY", &c.JWT.SigningKey)
	str("CREDGATE_JWT_PUBLIC_KEY", &c.JWT.PublicKey)
	str("CREDGATE_JWT_ISSUER", &c.JWT.Issuer)
	str("CREDGATE_JWT_AUDIENCE", &c.JWT.Audience)
	str("CREDGATE_REDIS_ADDR", &c.Redis.Addr)
	str("CREDGATE_REDIS_PASSWORD", &c.Redis.Password)
	str("CREDGATE_DATABASE_DSN", &c.Database.DSN)
	str("CREDGATE_LOGIN_LOG_PATH", &c.Database.LoginLogPath)
	str("CREDGATE_HTTP_ADDR", &c.HTTP.Addr)
	str("CREDGATE_STORE_REVOCATION", &c.Store.Revocation)
	if v, ok := os.LookupEnv("CREDGATE_HTTP_ALLOWED_ORIGINS"); ok {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("CREDGATE_HTTP_TRUSTED_PROXIES"); ok {
		c.HTTP.TrustedProxies = splitList(v)
	}
	if v, ok := os.LookupEnv("CREDGATE_LOCKOUT_THRESHOLD"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CREDGATE_LOCKOUT_THRESHOLD: %w", err)
		}
		c.Lockout.Threshold = n
	}

	for _, step := range []error{
		dur("CREDGATE_JWT_ACCESS_TTL", &c.JWT.AccessTTL),
		dur("CREDGATE_JWT_REFRESH_TTL", &c.JWT.RefreshTTL),
		dur("CREDGATE_LOCKOUT_WINDOW", &c.Lockout.Window),
		dur("CREDGATE_STORE_OPERATION_TIMEOUT", &c.Store.OperationTimeout),
		boolean("CREDGATE_PRODUCTION_MODE", &c.Security.ProductionMode),
		boolean("CREDGATE_HIDE_LOCKOUT_REASON", &c.Security.HideLockoutReason),
		boolean("CREDGATE_AUDIT_ENABLED", &c.Audit.Enabled),
	} {
		if step != nil {
			return step
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// signingKeys decodes the configured key material for the codec.
func (c *Config) signingKeys() (private, public []byte, err error) {
	switch c.JWT.SigningMethod {
	case "hs256":
		return []byte(c.JWT.SigningKey), nil, nil
	case "ed25519":
		if c.JWT.SigningKey != "" {
			private, err = base64.StdEncoding.DecodeString(c.JWT.SigningKey)
			if err != nil {
				return nil, nil, errors.New("JWT SigningKey must be base64 for ed25519")
			}
		}
		public, err = base64.StdEncoding.DecodeString(c.JWT.PublicKey)
		if err != nil {
			return nil, nil, errors.New("JWT PublicKey must be base64 for ed25519")
		}
		return private, public, nil
	default:
		return nil, nil, errors.New("unsupported JWT signing method")
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "hs256" && c.JWT.SigningMethod != "ed25519" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "hs256" && c.JWT.SigningKey == "" {
		return errors.New("hs256 requires SigningKey")
	}
	if c.JWT.SigningMethod == "hs256" && c.Security.ProductionMode && len(c.JWT.SigningKey) < 32 {
		return errors.New("hs256 SigningKey must be at least 32 bytes in production mode")
	}
	if c.JWT.SigningMethod == "ed25519" && c.JWT.PublicKey == "" {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	// Store
	if strings.TrimSpace(c.Store.RedisPrefix) == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	if c.Store.Revocation != "redis" && c.Store.Revocation != "sql" {
		return errors.New("Store Revocation must be 'redis' or 'sql'")
	}
	if c.Store.WriteRetryMaxElapsed < 0 {
		return errors.New("Store WriteRetryMaxElapsed must be >= 0")
	}

	// Permission
	if c.Permission.FanoutLimit < 0 {
		return errors.New("Permission FanoutLimit must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Retention
	if c.Retention.LoginLog < 0 || c.Retention.SweepInterval < 0 {
		return errors.New("Retention durations must be >= 0")
	}

	return nil
}
