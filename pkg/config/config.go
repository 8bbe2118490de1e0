package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all runtime settings of the table service.
type Config struct {
	Environment string
	Port        string

	// Database
	UseMemory   bool
	PostgresDSN string

	// JWT
	JWTSecret string

	// AdminBranchID is the branch whose members receive edit/delete grants
	// on every row at creation time.
	AdminBranchID string

	// LockTTL is the lifetime of a row edit lock; locks older than this are
	// reaped and treated as expired.
	LockTTL time.Duration

	// CORS
	AllowedOrigins []string

	Debug bool
}

// LoadConfig reads configuration from the environment, with .env file
// support for local development.
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	config := &Config{
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		Port:        getEnvWithDefault("PORT", "3000"),
		UseMemory:   getEnvBool("USE_MEMORY_DB", true),
		JWTSecret:   getEnvWithDefault("JWT_SECRET", "your-secret-key-change-in-production"),
		Debug:       getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.AdminBranchID = strings.TrimSpace(os.Getenv("ADMIN_BRANCH_ID"))
	config.LockTTL = getEnvDuration("LOCK_TTL", 5*time.Minute)

	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		config.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}

	if config.Environment == "production" {
		if config.PostgresDSN != "" {
			config.UseMemory = false
		} else {
			fmt.Println("[warn] production environment without POSTGRES_DSN falls back to the in-memory store; data will not survive restarts")
		}
		config.Debug = false
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config. On serverless it
// initializes once per cold start and reuses it across warm invocations.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate checks that the configuration is usable in its environment.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == "your-secret-key-change-in-production" {
		if c.Environment == "production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		fmt.Println("[warn] using default JWT secret (not recommended for production)")
	}

	if c.Environment == "production" && c.AdminBranchID == "" {
		return fmt.Errorf("ADMIN_BRANCH_ID must be set in production")
	}

	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}

	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		fmt.Printf("[warn] invalid duration in %s, using default %s\n", key, defaultValue)
	}
	return defaultValue
}

// loadEnvFile loads KEY=VALUE pairs from a .env file into the environment.
// Existing environment variables win.
func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return
	}

	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
