package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"donorflow/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`
	LogLevel    string `json:"log_level"`

	// DatabaseURL takes precedence over the DB_* fields when set.
	DatabaseURL    string `json:"-"`
	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret      string      `json:"-"`
	SentryDSN      string      `json:"-"`
	Redis          RedisConfig `json:"redis"`
	AllowedOrigins string      `json:"allowed_origins"`

	// Imports
	MaxUploadBytes  int64 `json:"max_upload_bytes"`
	ImportBatchSize int   `json:"import_batch_size"`
	ImportRateLimit int   `json:"import_rate_limit"` // submissions per user per minute

	// Progress store and scheduled jobs
	ProgressRetention     time.Duration `json:"progress_retention"`
	ProgressSweepSchedule string        `json:"progress_sweep_schedule"`
	AutoExcludeSchedule   string        `json:"auto_exclude_schedule"` // empty disables

	SeedDemoData bool `json:"seed_demo_data"`
}

func init() {
	// A missing .env is fine; the process environment is used as is
	envLoaded = loadDotEnv()
}

// loadDotEnv reports whether an env file was read.
func loadDotEnv(filenames ...string) bool {
	return godotenv.Load(filenames...) == nil
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "donorflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret: getEnv("JWT_SECRET", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		MaxUploadBytes:  int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		ImportBatchSize: getEnvAsInt("IMPORT_BATCH_SIZE", 50),
		ImportRateLimit: getEnvAsInt("IMPORT_RATE_LIMIT", 10),

		ProgressRetention:     getEnvAsDuration("PROGRESS_RETENTION", time.Hour),
		ProgressSweepSchedule: getEnv("PROGRESS_SWEEP_SCHEDULE", "@every 1m"),
		AutoExcludeSchedule:   getEnv("AUTO_EXCLUDE_SCHEDULE", ""),

		SeedDemoData: getEnvAsBool("SEED_DEMO_DATA", false),
	}

	// Validate required configurations
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.DatabaseURL == "" && AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required when DATABASE_URL is not set")
	}
	if AppConfig.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if AppConfig.ImportBatchSize <= 0 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be positive")
	}

	logConfig()
	return nil
}

// Dialector picks the gorm driver from the configuration: sqlite:// and
// postgres:// URLs, or a postgres DSN built from the DB_* settings.
func (c Config) Dialector() (gorm.Dialector, string, error) {
	url := c.DatabaseURL
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		return sqlite.Open(path), url, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), maskURLPassword(url), nil
	case url != "":
		return nil, "", fmt.Errorf("unsupported DATABASE_URL format: %s", maskURLPassword(url))
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
	return postgres.Open(dsn), maskPassword(dsn), nil
}

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dialector, display, err := AppConfig.Dialector()
	if err != nil {
		return err
	}
	logrus.WithField("dsn", display).Info("Using database")

	DB, err = gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger(AppConfig.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	if DB.Dialector.Name() == "sqlite" {
		// One writer at a time keeps SQLite from returning SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
		sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logrus.Info("Successfully connected to the database")

	logrus.Info("Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("Database migration completed")

	if AppConfig.SeedDemoData {
		if err := models.SeedDemoDonors(DB); err != nil {
			return fmt.Errorf("failed to seed demo donors: %w", err)
		}
		logrus.Info("Demo donors seeded")
	}
	return nil
}

func gormLogger(level string) logger.Interface {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return logger.Default.LogMode(logger.Info)
	case "silent":
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.Default.LogMode(logger.Warn)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

// maskURLPassword hides the password of a user:password@host URL.
func maskURLPassword(url string) string {
	schemeEnd := strings.Index(url, "://")
	at := strings.LastIndex(url, "@")
	if schemeEnd == -1 || at == -1 || at < schemeEnd {
		return url
	}
	creds := url[schemeEnd+3 : at]
	colon := strings.Index(creds, ":")
	if colon == -1 {
		return url
	}
	return url[:schemeEnd+3] + creds[:colon] + ":*****" + url[at:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":       AppConfig.Environment,
		"server_port":       AppConfig.ServerPort,
		"database":          fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"database_url_set":  AppConfig.DatabaseURL != "",
		"redis_enabled":     AppConfig.Redis.Enabled,
		"max_upload_bytes":  AppConfig.MaxUploadBytes,
		"import_batch_size": AppConfig.ImportBatchSize,
		"sentry_enabled":    AppConfig.SentryDSN != "",
	}).Info("Loaded configuration")
}

func migrateDB(db *gorm.DB) error {
	return models.Migrate(db)
}
