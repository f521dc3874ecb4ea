package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
	Store    StoreConfig    `json:"store"`
	Redis    RedisConfig    `json:"redis"`
	SAT      SATConfig      `json:"sat"`
	Zoho     ZohoConfig     `json:"zoho"`
	Blob     BlobConfig     `json:"blob"`
	Sync     SyncConfig     `json:"sync"`
	Profiles string         `json:"profiles"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `json:"port"`
	Environment  string        `json:"environment"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// StoreConfig selects and configures the batch ledger backend
type StoreConfig struct {
	Backend       string `json:"backend"` // memory, mongo or postgres
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
	PostgresDSN   string `json:"postgres_dsn"`
}

// RedisConfig holds the token cache configuration; empty Addr means in-memory
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SATConfig holds the bulk download service endpoints and polling policy
type SATConfig struct {
	AuthURL      string        `json:"auth_url"`
	RequestURL   string        `json:"request_url"`
	VerifyURL    string        `json:"verify_url"`
	DownloadURL  string        `json:"download_url"`
	HTTPTimeout  time.Duration `json:"http_timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	MaxAttempts  int           `json:"max_attempts"`
	Deadline     time.Duration `json:"deadline"`
	WorkDir      string        `json:"work_dir"`
	CheckOCSP    bool          `json:"check_ocsp"`
	OCSPIssuer   string        `json:"ocsp_issuer"` // issuer certificate file
	OCSPURL      string        `json:"ocsp_url"`    // overrides the certificate's responder
	OCSPSoftFail bool          `json:"ocsp_soft_fail"`
}

// ZohoConfig holds the downstream ledger endpoints
type ZohoConfig struct {
	BaseURL           string        `json:"base_url"`
	AccountsURL       string        `json:"accounts_url"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	RefreshAfter      time.Duration `json:"refresh_after"`
	NamePolicy        string        `json:"name_policy"`
}

// BlobConfig configures remote credential storage
type BlobConfig struct {
	Region   string `json:"region"`
	Bucket   string `json:"bucket"`
	Endpoint string `json:"endpoint"`
}

// SyncConfig holds defaults for scheduled runs
type SyncConfig struct {
	Concurrency int `json:"concurrency"`
	WindowDays  int `json:"window_days"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("PORT", 8080),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsSeconds("READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsSeconds("WRITE_TIMEOUT", 30),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", "memory")),
			MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase: getEnv("MONGO_DATABASE", "fiscal_sync"),
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SAT: SATConfig{
			AuthURL:      getEnv("SAT_AUTH_URL", "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/Autenticacion/Autenticacion.svc"),
			RequestURL:   getEnv("SAT_REQUEST_URL", "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/SolicitaDescargaService.svc"),
			VerifyURL:    getEnv("SAT_VERIFY_URL", "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/VerificaSolicitudDescargaService.svc"),
			DownloadURL:  getEnv("SAT_DOWNLOAD_URL", "https://cfdidescargamasiva.clouda.sat.gob.mx/DescargaMasivaService.svc"),
			HTTPTimeout:  getEnvAsSeconds("SAT_HTTP_TIMEOUT", 60),
			PollInterval: getEnvAsSeconds("SAT_POLL_INTERVAL", 60),
			MaxAttempts:  getEnvAsInt("SAT_MAX_ATTEMPTS", 60),
			Deadline:     getEnvAsSeconds("SAT_DEADLINE", 3600),
			WorkDir:      getEnv("WORK_DIR", "downloads"),
			CheckOCSP:    getEnvAsBool("SAT_CHECK_OCSP", false),
			OCSPIssuer:   getEnv("SAT_OCSP_ISSUER", ""),
			OCSPURL:      getEnv("SAT_OCSP_URL", ""),
			OCSPSoftFail: getEnvAsBool("SAT_OCSP_SOFT_FAIL", true),
		},
		Zoho: ZohoConfig{
			BaseURL:           getEnv("ZOHO_BASE_URL", "https://www.zohoapis.com/books/v3"),
			AccountsURL:       getEnv("ZOHO_ACCOUNTS_URL", "https://accounts.zoho.com/oauth/v2/token"),
			RequestsPerMinute: getEnvAsInt("ZOHO_RPM", 100),
			RefreshAfter:      getEnvAsSeconds("ZOHO_REFRESH_AFTER", 3600),
			NamePolicy:        getEnv("RECONCILE_NAME_POLICY", "normalized"),
		},
		Blob: BlobConfig{
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Bucket:   getEnv("CREDENTIAL_BUCKET", ""),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Sync: SyncConfig{
			Concurrency: getEnvAsInt("SYNC_CONCURRENCY", 4),
			WindowDays:  getEnvAsInt("SYNC_WINDOW_DAYS", 0),
		},
		Profiles: getEnv("PROFILES_FILE", "profiles.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "mongo":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.SAT.CheckOCSP && c.SAT.OCSPIssuer == "" {
		return fmt.Errorf("SAT_OCSP_ISSUER is required when SAT_CHECK_OCSP is set")
	}
	if c.SAT.MaxAttempts <= 0 {
		return fmt.Errorf("SAT_MAX_ATTEMPTS must be positive")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}
