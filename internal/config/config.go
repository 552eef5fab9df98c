package config

import "time"

// Config is the top-level SARK configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	Identity   IdentityConfig    `yaml:"identity"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Cache      CacheConfig       `yaml:"cache"`
	Policy     PolicyConfig      `yaml:"policy"`
	AuditSinks []AuditSinkConfig `yaml:"audit_sinks"`
	Budget     BudgetConfig      `yaml:"budget"`
	Adapters   AdaptersConfig    `yaml:"adapters"`
	Governance GovernanceConfig  `yaml:"governance"`
}

// ServerConfig controls the HTTP/gRPC listeners.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
	// FailMode governs unhandled-stage behavior: "closed" denies on internal
	// error, "open" is reserved for components whose own contract declares
	// fail-open (rate limiter, decision cache).
	FailMode string `yaml:"fail_mode"`
}

// StorageConfig selects and configures the backing store for the budget
// ledger and capability registry.
type StorageConfig struct {
	Driver     string        `yaml:"driver"` // sqlite | postgres
	Path       string        `yaml:"path"`
	DSN        string        `yaml:"dsn"`
	Retention  time.Duration `yaml:"retention"`
	MigrateDir string        `yaml:"migrate_dir"`
}

// IdentityConfig holds connection info for the external identity provider
// that issues principal tokens. SARK never implements the provider itself,
// it only verifies the tokens it issues (see internal/principal).
type IdentityConfig struct {
	JWTIssuer    string   `yaml:"jwt_issuer"`
	JWTAudience  string   `yaml:"jwt_audience"`
	JWKSUrl      string   `yaml:"jwks_url"`
	TrustedRoles []string `yaml:"trusted_roles"`
	MFARequired  bool     `yaml:"mfa_required"`
}

// RateLimitConfig configures the sliding-window rate limiter.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PerAPIKey     int           `yaml:"per_api_key"`
	PerUser       int           `yaml:"per_user"`
	PerIP         int           `yaml:"per_ip"`
	WindowSeconds int           `yaml:"window_seconds"`
	AdminBypass   bool          `yaml:"admin_bypass"`
	RedisAddr     string        `yaml:"redis_addr"`
	SyncInterval  time.Duration `yaml:"sync_interval"`
}

// CacheConfig configures the decision cache.
type CacheConfig struct {
	MaxSize           int            `yaml:"max_size"`
	DefaultTTLSeconds int            `yaml:"default_ttl_seconds"`
	SweepInterval     time.Duration  `yaml:"sweep_interval"`
	TTLBySensitivity  map[string]int `yaml:"ttl_by_sensitivity"`
}

// PolicyConfig configures the policy engine adapter.
type PolicyConfig struct {
	Engine         string         `yaml:"engine"`   // embedded | remote
	Language       string         `yaml:"language"` // cel | rego
	Directory      string         `yaml:"directory"`
	RemoteURL      string         `yaml:"remote_url"`
	RemoteTimeout  time.Duration  `yaml:"remote_timeout"`
	RolloutPercent map[string]int `yaml:"rollout_percent"` // feature -> 0-100
}

// AuditSinkConfig configures one audit pipeline sink.
type AuditSinkConfig struct {
	Name           string               `yaml:"name"`
	Kind           string               `yaml:"kind"` // splunk_hec | datadog | slack | file
	Endpoint       string               `yaml:"endpoint"`
	Token          string               `yaml:"token"`
	Index          string               `yaml:"index"`
	VerifySSL      bool                 `yaml:"verify_ssl"`
	Timeout        time.Duration        `yaml:"timeout"`
	BatchSize      int                  `yaml:"batch_size"`
	BatchTimeout   time.Duration        `yaml:"batch_timeout"`
	Compression    bool                 `yaml:"compression"`
	MinSizeBytes   int                  `yaml:"min_size_bytes"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	FallbackDir    string               `yaml:"fallback_dir"`
}

// CircuitBreakerConfig configures the gobreaker-backed sink guard.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// BudgetConfig configures default spend caps. Per-principal overrides live
// in the registry store; these are the fallback caps.
type BudgetConfig struct {
	DailyCap   float64 `yaml:"daily_cap"`
	MonthlyCap float64 `yaml:"monthly_cap"`
	Timezone   string  `yaml:"timezone"`
}

// AdaptersConfig holds per-protocol-adapter connection/timeout defaults
// plus the upstream target table used to resolve a request to a backing
// MCP/HTTP/gRPC/database target by tag.
type AdaptersConfig struct {
	HTTP      HTTPAdapterConfig     `yaml:"http"`
	GRPC      GRPCAdapterConfig     `yaml:"grpc"`
	Database  DatabaseAdapterConfig `yaml:"database"`
	Default   string                `yaml:"default"`   // fallback target key
	Targets   map[string]string     `yaml:"targets"`    // tag -> base URL/DSN/addr
}

type HTTPAdapterConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type GRPCAdapterConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type DatabaseAdapterConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	DestructiveAllow []string      `yaml:"destructive_allow"`
}

// GovernanceConfig configures the emergency switch, allowlist, and time
// rule predicates.
type GovernanceConfig struct {
	Allowlist       []string         `yaml:"allowlist"` // principal ids and CIDRs
	TimeRules       []TimeRuleConfig `yaml:"time_rules"`
	OverrideTimeout time.Duration    `yaml:"override_timeout"`
}

type TimeRuleConfig struct {
	Name       string   `yaml:"name"`
	StartTime  string   `yaml:"start_time"` // "HH:MM"
	EndTime    string   `yaml:"end_time"`
	DaysOfWeek []string `yaml:"days_of_week"`
	AppliesTo  []string `yaml:"applies_to_tags"`
	Action     string   `yaml:"action"` // allow | block | alert
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8443,
			GRPCPort: 8444,
			LogLevel: "info",
			CORS:     false,
			FailMode: "closed",
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./sark.db",
			Retention: 90 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			PerAPIKey:     1000,
			PerUser:       5000,
			PerIP:         100,
			WindowSeconds: 3600,
			AdminBypass:   true,
		},
		Cache: CacheConfig{
			MaxSize:           10000,
			DefaultTTLSeconds: 180,
			SweepInterval:     60 * time.Second,
			TTLBySensitivity: map[string]int{
				"critical": 60,
				"high":     120,
				"medium":   180,
				"low":      300,
			},
		},
		Policy: PolicyConfig{
			Engine:         "embedded",
			Language:       "cel",
			Directory:      "./policies",
			RemoteTimeout:  15 * time.Second,
			RolloutPercent: map[string]int{},
		},
		Budget: BudgetConfig{
			DailyCap:   50.0,
			MonthlyCap: 1000.0,
			Timezone:   "UTC",
		},
		Adapters: AdaptersConfig{
			HTTP:     HTTPAdapterConfig{Timeout: 30 * time.Second, MaxBodyBytes: 10 << 20},
			GRPC:     GRPCAdapterConfig{Timeout: 30 * time.Second},
			Database: DatabaseAdapterConfig{Timeout: 30 * time.Second},
			Targets:  map[string]string{},
		},
		Governance: GovernanceConfig{
			OverrideTimeout: 5 * time.Minute,
		},
	}
}
