package config

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/dashborion/pkg/observability"
)

// Config holds all application configuration. It is constructed once at
// startup and passed into every component; no package reads the environment
// after LoadConfig returns.
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	SAML          SAMLConfig
	Crypto        CryptoConfig
	Store         StoreConfig
	Device        DeviceConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// BaseURL is the externally visible origin of this service, used for
	// the ACS URL and SP metadata.
	BaseURL string
}

// SessionTransportType selects how sessions travel between browser and edge
type SessionTransportType string

const (
	TransportCookie SessionTransportType = "cookie" // self-contained encrypted cookie
	TransportStore  SessionTransportType = "store"  // opaque ID + server-side record
)

// AuthConfig holds session and edge-interceptor configuration
type AuthConfig struct {
	CookieName         string
	CookieDomain       string
	CookieSameSite     http.SameSite
	SessionTTL         time.Duration
	GroupPrefix        string
	ExcludedPaths      []string
	LogoutPath         string
	DefaultRedirectURL string
	Transport          SessionTransportType
}

// SAMLConfig holds service-provider and identity-provider configuration
type SAMLConfig struct {
	EntityID     string
	MetadataPath string // path to IdP metadata XML; watched for changes
	MetadataXML  string // inline IdP metadata; takes precedence over the path
	SignRequests bool
	SPCertPath   string // required only when SignRequests is set
	SPKeyPath    string
	ClockSkew    time.Duration

	// Assertion attribute names
	EmailAttribute       string
	DisplayNameAttribute string
	GroupsAttribute      string
	MFAAttribute         string
}

// CryptoBackendType selects the envelope encryption backend
type CryptoBackendType string

const (
	CryptoLocal CryptoBackendType = "local" // fixed symmetric key, AES-256-GCM
	CryptoKMS   CryptoBackendType = "kms"   // AWS KMS encrypt/decrypt
)

// CryptoConfig holds envelope encryption configuration
type CryptoConfig struct {
	Backend     CryptoBackendType
	LocalKey    []byte // decoded from base64; exactly 32 bytes
	KMSKeyID    string
	ServiceName string // bound into the encryption context
}

// StoreBackendType selects the session store backend
type StoreBackendType string

const (
	StoreDynamo StoreBackendType = "dynamo"
	StoreRedis  StoreBackendType = "redis"
	StoreMemory StoreBackendType = "memory"
)

// StoreConfig holds session/device-code store configuration
type StoreConfig struct {
	Backend     StoreBackendType
	DynamoTable string
	AWSRegion   string
	AWSEndpoint string // optional override for local stacks

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// DeviceConfig holds device authorization flow configuration
type DeviceConfig struct {
	CodeTTL         time.Duration
	PollInterval    time.Duration
	TokenTTL        time.Duration
	VerificationURL string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Auth:          loadAuthConfig(),
		SAML:          loadSAMLConfig(),
		Store:         loadStoreConfig(),
		Device:        loadDeviceConfig(),
		Observability: loadObservabilityConfig(),
	}

	crypto, err := loadCryptoConfig()
	if err != nil {
		return nil, fmt.Errorf("crypto configuration: %w", err)
	}
	cfg.Crypto = crypto

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DASHBORION_HOST", "0.0.0.0"),
		Port:            getEnv("DASHBORION_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DASHBORION_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DASHBORION_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DASHBORION_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DASHBORION_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DASHBORION_HEALTH_PORT", "9090"),
		BaseURL:         getEnv("DASHBORION_BASE_URL", "http://localhost:8080"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		CookieName:         getEnv("DASHBORION_COOKIE_NAME", "dashborion_session"),
		CookieDomain:       getEnv("DASHBORION_COOKIE_DOMAIN", ""),
		CookieSameSite:     parseSameSite(getEnv("DASHBORION_COOKIE_SAMESITE", "lax")),
		SessionTTL:         getEnvDuration("DASHBORION_SESSION_TTL", 8*time.Hour),
		GroupPrefix:        getEnv("DASHBORION_GROUP_PREFIX", "dashborion-"),
		ExcludedPaths:      parsePathList(getEnv("DASHBORION_EXCLUDED_PATHS", defaultExcludedPaths)),
		LogoutPath:         getEnv("DASHBORION_LOGOUT_PATH", "/auth/logout"),
		DefaultRedirectURL: getEnv("DASHBORION_DEFAULT_REDIRECT_URL", "/"),
		Transport:          SessionTransportType(getEnv("DASHBORION_SESSION_TRANSPORT", string(TransportCookie))),
	}
}

// defaultExcludedPaths must always include the SAML and device endpoints,
// otherwise the interceptor would redirect the login flow into itself.
const defaultExcludedPaths = "/health,/saml/acs,/saml/login,/saml/metadata,/auth/device/code,/auth/device/token"

func loadSAMLConfig() SAMLConfig {
	return SAMLConfig{
		EntityID:     getEnv("DASHBORION_SAML_ENTITY_ID", ""),
		MetadataPath: getEnv("DASHBORION_SAML_IDP_METADATA_PATH", ""),
		MetadataXML:  getEnv("DASHBORION_SAML_IDP_METADATA_XML", ""),
		SignRequests: getEnvBool("DASHBORION_SAML_SIGN_REQUESTS", false),
		SPCertPath:   getEnv("DASHBORION_SAML_SP_CERT_PATH", ""),
		SPKeyPath:    getEnv("DASHBORION_SAML_SP_KEY_PATH", ""),
		ClockSkew:    getEnvDuration("DASHBORION_SAML_CLOCK_SKEW", 90*time.Second),

		EmailAttribute:       getEnv("DASHBORION_SAML_ATTR_EMAIL", "email"),
		DisplayNameAttribute: getEnv("DASHBORION_SAML_ATTR_DISPLAY_NAME", "displayName"),
		GroupsAttribute:      getEnv("DASHBORION_SAML_ATTR_GROUPS", "groups"),
		MFAAttribute:         getEnv("DASHBORION_SAML_ATTR_MFA", "mfa_verified"),
	}
}

func loadCryptoConfig() (CryptoConfig, error) {
	cfg := CryptoConfig{
		Backend:     CryptoBackendType(getEnv("DASHBORION_CRYPTO_BACKEND", string(CryptoLocal))),
		KMSKeyID:    getEnv("DASHBORION_KMS_KEY_ID", ""),
		ServiceName: getEnv("DASHBORION_SERVICE_NAME", "dashborion-auth"),
	}

	if encoded := getEnv("DASHBORION_LOCAL_KEY", ""); encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return cfg, fmt.Errorf("DASHBORION_LOCAL_KEY is not valid base64: %w", err)
		}
		cfg.LocalKey = key
	}

	return cfg, nil
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:       StoreBackendType(getEnv("DASHBORION_STORE_BACKEND", string(StoreMemory))),
		DynamoTable:   getEnv("DASHBORION_DYNAMO_TABLE", "dashborion-sessions"),
		AWSRegion:     getEnv("DASHBORION_AWS_REGION", "us-east-1"),
		AWSEndpoint:   getEnv("DASHBORION_AWS_ENDPOINT", ""),
		RedisURL:      getEnv("DASHBORION_REDIS_URL", ""),
		RedisPassword: getEnv("DASHBORION_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("DASHBORION_REDIS_DB", 0),
	}
}

func loadDeviceConfig() DeviceConfig {
	return DeviceConfig{
		CodeTTL:         getEnvDuration("DASHBORION_DEVICE_CODE_TTL", 10*time.Minute),
		PollInterval:    getEnvDuration("DASHBORION_DEVICE_POLL_INTERVAL", 5*time.Second),
		TokenTTL:        getEnvDuration("DASHBORION_DEVICE_TOKEN_TTL", time.Hour),
		VerificationURL: getEnv("DASHBORION_DEVICE_VERIFICATION_URL", "/device"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("DASHBORION_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DASHBORION_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DASHBORION_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DASHBORION_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DASHBORION_OTEL_SERVICE_NAME", "dashborion-auth"),
		OTelServiceVersion: getEnv("DASHBORION_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DASHBORION_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	if c.SAML.EntityID == "" {
		return fmt.Errorf("SAML entity ID is required")
	}
	if c.SAML.MetadataPath == "" && c.SAML.MetadataXML == "" {
		return fmt.Errorf("IdP metadata is required (path or inline XML)")
	}
	if c.SAML.SignRequests && (c.SAML.SPCertPath == "" || c.SAML.SPKeyPath == "") {
		return fmt.Errorf("SP certificate and key are required when request signing is enabled")
	}

	switch c.Auth.Transport {
	case TransportCookie:
	case TransportStore:
		if c.Store.Backend == "" {
			return fmt.Errorf("store backend is required for store transport")
		}
	default:
		return fmt.Errorf("invalid session transport: %s (must be cookie or store)", c.Auth.Transport)
	}

	switch c.Crypto.Backend {
	case CryptoLocal:
		if len(c.Crypto.LocalKey) != 32 {
			return fmt.Errorf("local crypto backend requires a 32-byte key, got %d bytes", len(c.Crypto.LocalKey))
		}
	case CryptoKMS:
		if c.Crypto.KMSKeyID == "" {
			return fmt.Errorf("KMS key ID is required for the kms crypto backend")
		}
	default:
		return fmt.Errorf("invalid crypto backend: %s (must be local or kms)", c.Crypto.Backend)
	}

	switch c.Store.Backend {
	case StoreDynamo:
		if c.Store.DynamoTable == "" {
			return fmt.Errorf("dynamo table name is required for the dynamo store backend")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis store backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store backend: %s (must be dynamo, redis, or memory)", c.Store.Backend)
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Device.CodeTTL <= 0 {
		return fmt.Errorf("device code TTL must be positive")
	}

	return nil
}

// parseSameSite parses a SameSite cookie mode. None is required when the
// browser front-end and the API live on different origins.
func parseSameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}

// parsePathList splits a comma-separated path list, dropping empty entries
func parsePathList(raw string) []string {
	parts := strings.Split(raw, ",")
	paths := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
