package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/semmidev/dbkeep/internal/domain"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type DatabaseConfig struct {
	Type                string         `mapstructure:"type"`
	ConnectTimeout      time.Duration  `mapstructure:"connect_timeout"`
	SkipConnectionCheck bool           `mapstructure:"skip_connection_check"`
	Postgres            PostgresConfig `mapstructure:"postgres"`
	MongoDB             MongoDBConfig  `mapstructure:"mongodb"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type MongoDBConfig struct {
	URL          string `mapstructure:"url"`
	Database     string `mapstructure:"database"`
	AuthDatabase string `mapstructure:"auth_database"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	AWS    AWSConfig    `mapstructure:"aws"`
	GCS    GCSConfig    `mapstructure:"gcs"`
	GDrive GDriveConfig `mapstructure:"gdrive"`
}

type AWSConfig struct {
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Prefix          string `mapstructure:"prefix"`
}

type GDriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type BackupConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	Schedule      string `mapstructure:"schedule"`
	Verify        bool   `mapstructure:"verify"`
	PgDumpBin     string `mapstructure:"pg_dump_bin"`
	MongodumpBin  string `mapstructure:"mongodump_bin"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// envBindings maps config keys to the environment variables the tool has
// always been driven by.
var envBindings = map[string]string{
	"app.log_level":                   "LOG_LEVEL",
	"app.log_file":                    "LOG_FILE",
	"database.type":                   "DATABASE_TYPE",
	"database.postgres.host":          "POSTGRES_HOST",
	"database.postgres.port":          "POSTGRES_PORT",
	"database.postgres.user":          "POSTGRES_USER",
	"database.postgres.password":      "POSTGRES_PASSWORD",
	"database.postgres.database":      "POSTGRES_DATABASE",
	"database.postgres.ssl_mode":      "POSTGRES_SSLMODE",
	"database.mongodb.url":            "MONGODB_URL",
	"database.mongodb.database":       "MONGODB_DATABASE",
	"database.mongodb.auth_database":  "MONGODB_AUTH_DATABASE",
	"storage.type":                    "STORAGE_TYPE",
	"storage.aws.access_key":          "AWS_ACCESS_KEY_ID",
	"storage.aws.secret_key":          "AWS_SECRET_ACCESS_KEY",
	"storage.aws.region":              "AWS_REGION",
	"storage.aws.bucket":              "AWS_BUCKET",
	"storage.aws.endpoint":            "AWS_ENDPOINT",
	"storage.gcs.bucket":              "GCS_BUCKET",
	"storage.gcs.credentials_file":    "GCS_CREDENTIALS_FILE",
	"storage.gdrive.credentials_file": "GDRIVE_CREDENTIALS_FILE",
	"storage.gdrive.folder_id":        "GDRIVE_FOLDER_ID",
	"backup.dir":                      "BACKUP_DIR",
	"backup.retention_days":           "RETENTION_DAYS",
	"backup.schedule":                 "BACKUP_SCHEDULE",
	"notify.telegram.bot_token":       "TELEGRAM_BOT_TOKEN",
	"notify.telegram.chat_id":         "TELEGRAM_CHAT_ID",
	"metrics.addr":                    "METRICS_ADDR",
}

// Load reads configuration from the YAML file at path, if any, layered over
// defaults and under environment variables. A .env file in the working
// directory is loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("DBKEEP")
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "DBKEEP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dbkeep")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "prefer")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.aws.region", "us-east-1")
	v.SetDefault("storage.aws.prefix", "backups")
	v.SetDefault("storage.gcs.prefix", "backups")
	v.SetDefault("backup.dir", "./backups")
	v.SetDefault("backup.retention_days", 7)
	v.SetDefault("backup.verify", true)
	v.SetDefault("backup.pg_dump_bin", "pg_dump")
	v.SetDefault("backup.mongodump_bin", "mongodump")
}

// Validate checks the configuration. Every error wraps domain.ErrConfig.
func (c *Config) Validate() error {
	kind, err := domain.ParseDatabaseKind(c.Database.Type)
	if err != nil {
		return err
	}

	switch kind {
	case domain.Postgres:
		if c.Database.Postgres.Host == "" {
			return configErrorf("database.postgres.host is required")
		}
		if c.Database.Postgres.User == "" {
			return configErrorf("database.postgres.user is required")
		}
		if c.Database.Postgres.Database == "" {
			return configErrorf("database.postgres.database is required")
		}
	case domain.MongoDB:
		if c.Database.MongoDB.URL == "" {
			return configErrorf("database.mongodb.url is required")
		}
		u, err := url.Parse(c.Database.MongoDB.URL)
		if err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
			return configErrorf("database.mongodb.url must be a mongodb:// or mongodb+srv:// URL")
		}
		if u.Scheme == "mongodb+srv" && !c.Database.SkipConnectionCheck {
			return configErrorf("database.mongodb.url: mongodb+srv:// cannot be used for the connection check, set database.skip_connection_check")
		}
	}

	storageKind, err := domain.ParseStorageKind(c.Storage.Type)
	if err != nil {
		return err
	}

	switch storageKind {
	case domain.StorageS3:
		if c.Storage.AWS.Bucket == "" {
			return configErrorf("storage.aws.bucket is required for aws storage")
		}
		if c.Storage.AWS.AccessKey == "" || c.Storage.AWS.SecretKey == "" {
			return configErrorf("storage.aws.access_key and storage.aws.secret_key are required for aws storage")
		}
	case domain.StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return configErrorf("storage.gcs.bucket is required for gcs storage")
		}
	case domain.StorageGDrive:
		if c.Storage.GDrive.CredentialsFile == "" {
			return configErrorf("storage.gdrive.credentials_file is required for gdrive storage")
		}
		if c.Storage.GDrive.FolderID == "" {
			return configErrorf("storage.gdrive.folder_id is required for gdrive storage")
		}
	}

	if c.Backup.Dir == "" {
		return configErrorf("backup.dir is required")
	}

	if _, err := domain.NewRetentionPolicy(c.Backup.RetentionDays); err != nil {
		return err
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0) {
		return configErrorf("notify.telegram.bot_token and notify.telegram.chat_id are required when telegram is enabled")
	}

	return nil
}

// DatabaseKind returns the validated database kind.
func (c *Config) DatabaseKind() domain.DatabaseKind {
	kind, _ := domain.ParseDatabaseKind(c.Database.Type)
	return kind
}

func (c *Config) StorageKind() domain.StorageKind {
	kind, _ := domain.ParseStorageKind(c.Storage.Type)
	return kind
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrConfig}, args...)...)
}
