package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Port             int
	Environment      string
	AppURL           string
	Database         DatabaseConfig
	Encryption       EncryptionConfig
	LockBackend      string // memory | postgres
	ServiceJWTSecret string
	CORSOrigins      []string
	Providers        map[string]ProviderCredentials
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // sqlite | postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// EncryptionConfig holds the token encryption keyring. The active key seals
// every new write; retired keys only decrypt.
type EncryptionConfig struct {
	ActiveKeyID string
	ActiveKey   []byte
	RetiredKeys map[string][]byte
}

// ProviderCredentials holds one provider's OAuth client configuration.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// providerNames are the env prefixes scanned for credentials.
var providerNames = []string{"strava", "fitbit", "garmin", "whoop", "terra"}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "production")
	appURL := strings.TrimRight(getEnv("APP_URL", ""), "/")

	encryption, err := loadEncryptionConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: env,
		AppURL:      appURL,
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "sqlite"),
			DSN:          getEnv("DATABASE_DSN", "fitvault.db"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Encryption:       encryption,
		LockBackend:      getEnv("LOCK_BACKEND", "memory"),
		ServiceJWTSecret: loadServiceJWTSecret(env),
		CORSOrigins:      loadCORSOrigins(env, appURL),
		Providers:        loadProviderCredentials(appURL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch c.LockBackend {
	case "memory":
	case "postgres":
		if c.Database.Type != "postgres" {
			return fmt.Errorf("LOCK_BACKEND=postgres requires DATABASE_TYPE=postgres")
		}
	default:
		return fmt.Errorf("unsupported lock backend: %s", c.LockBackend)
	}

	if c.Environment == "production" {
		if len(c.ServiceJWTSecret) < 32 {
			return fmt.Errorf("SERVICE_JWT_SECRET must be at least 32 characters in production")
		}
		if c.Database.Type == "sqlite" {
			log.Println("WARNING: SQLite backend in production limits the vault to a single node.")
		}
	}

	if len(c.Providers) == 0 {
		log.Println("WARNING: no provider credentials configured. Connect flows will be rejected.")
	}

	return nil
}

func loadEncryptionConfig() (EncryptionConfig, error) {
	encoded := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if encoded == "" {
		return EncryptionConfig{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required (base64, 32 bytes)")
	}

	key, err := decodeKey(encoded)
	if err != nil {
		return EncryptionConfig{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}

	cfg := EncryptionConfig{
		ActiveKeyID: getEnv("TOKEN_ENCRYPTION_KEY_ID", "v1"),
		ActiveKey:   key,
		RetiredKeys: make(map[string][]byte),
	}

	// Retired keys: "id=base64,id=base64". Old ciphertext stays readable
	// until its record is re-encrypted on the next write.
	if retired := os.Getenv("TOKEN_ENCRYPTION_RETIRED_KEYS"); retired != "" {
		for _, pair := range strings.Split(retired, ",") {
			id, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || id == "" {
				return EncryptionConfig{}, fmt.Errorf("TOKEN_ENCRYPTION_RETIRED_KEYS: malformed entry %q", pair)
			}
			key, err := decodeKey(value)
			if err != nil {
				return EncryptionConfig{}, fmt.Errorf("TOKEN_ENCRYPTION_RETIRED_KEYS[%s]: %w", id, err)
			}
			cfg.RetiredKeys[id] = key
		}
	}

	return cfg, nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func loadServiceJWTSecret(env string) string {
	secret := os.Getenv("SERVICE_JWT_SECRET")

	if secret == "" {
		if env == "production" {
			log.Fatal("FATAL: SERVICE_JWT_SECRET environment variable is required in production")
		}
		log.Println("WARNING: SERVICE_JWT_SECRET not set. Generating random secret for development.")
		log.Println("WARNING: This secret will change on restart. Set SERVICE_JWT_SECRET in production!")
		return generateRandomSecret()
	}

	if len(secret) < 16 {
		log.Fatal("FATAL: SERVICE_JWT_SECRET must be at least 16 characters long")
	}

	return secret
}

func loadCORSOrigins(env, appURL string) []string {
	if appURL != "" {
		return []string{appURL}
	}

	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}

	log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

// loadProviderCredentials scans <PROVIDER>_CLIENT_ID/_CLIENT_SECRET pairs.
// Providers without both values are skipped; the registry rejects them at
// lookup time.
func loadProviderCredentials(appURL string) map[string]ProviderCredentials {
	creds := make(map[string]ProviderCredentials)

	for _, name := range providerNames {
		prefix := strings.ToUpper(name)
		clientID := os.Getenv(prefix + "_CLIENT_ID")
		clientSecret := os.Getenv(prefix + "_CLIENT_SECRET")
		if clientID == "" || clientSecret == "" {
			continue
		}

		redirectURI := os.Getenv(prefix + "_REDIRECT_URI")
		if redirectURI == "" && appURL != "" {
			redirectURI = appURL + "/api/oauth/" + name + "/callback"
		}

		creds[name] = ProviderCredentials{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  redirectURI,
		}
	}

	return creds
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("Failed to generate random secret:", err)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}
