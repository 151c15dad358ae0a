package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Sheet    SheetConfig    `yaml:"sheet"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Admin    AdminConfig    `yaml:"admin"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type TelegramConfig struct {
	Token              string `yaml:"token"`
	APIBaseURL         string `yaml:"api_base_url"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type SheetConfig struct {
	WorkbookPath string `yaml:"workbook_path"`
}

type ScheduleConfig struct {
	Timezone                 string `yaml:"timezone"`
	ReminderHour             int    `yaml:"reminder_hour"`
	ReminderMinute           int    `yaml:"reminder_minute"`
	EscalationDelayMinutes   int    `yaml:"escalation_delay_minutes"`
	FlushHour                int    `yaml:"flush_hour"`
	FlushMinute              int    `yaml:"flush_minute"`
	RetryIntervalMinutes     int    `yaml:"retry_interval_minutes"`
	RetryInitialDelaySeconds int    `yaml:"retry_initial_delay_seconds"`
	ReminderTemplate         string `yaml:"reminder_template"`
	EscalationTemplate       string `yaml:"escalation_template"`
}

type AdminConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"` // bcrypt, takes precedence over Password
	JWTSecret    string `yaml:"jwt_secret"`
}

func Load(configFile string) *Config {
	c := &Config{
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Console: true, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 30},
		Telegram: TelegramConfig{APIBaseURL: "https://api.telegram.org", PollTimeoutSeconds: 30},
		Database: DatabaseConfig{Driver: "sqlite", Path: "data/diary_bot.sqlite3", Port: 3306, Name: "diary_bot"},
		Sheet:    SheetConfig{WorkbookPath: "data/diary.xlsx"},
		Schedule: ScheduleConfig{
			Timezone:                 "Europe/Moscow",
			ReminderHour:             20,
			ReminderMinute:           0,
			EscalationDelayMinutes:   60,
			FlushHour:                23,
			FlushMinute:              59,
			RetryIntervalMinutes:     30,
			RetryInitialDelaySeconds: 60,
			ReminderTemplate:         "%s, you haven't written your diary today! ✏️",
			EscalationTemplate:       "%s, %s still hasn't written their diary! ⚠️",
		},
		Admin: AdminConfig{Username: "admin", Password: "changeme", JWTSecret: "change-this-secret-in-production"},
	}

	paths := []string{"etc/config-dev.yaml", "/etc/diary-bot/config.yaml"}
	if configFile != "" {
		paths = []string{configFile}
	}
	for _, path := range paths {
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, c)
			break
		}
	}

	envOverride(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	envOverride(&c.Database.Driver, "DB_DRIVER")
	envOverride(&c.Database.Path, "DB_PATH")
	envOverride(&c.Database.Host, "DB_HOST")
	envOverride(&c.Database.User, "DB_USER")
	envOverride(&c.Database.Password, "DB_PASS")
	envOverride(&c.Database.Name, "DB_NAME")
	envOverride(&c.Sheet.WorkbookPath, "SHEET_WORKBOOK_PATH")
	envOverride(&c.Schedule.Timezone, "TZ_NAME")
	envOverride(&c.Admin.Username, "ADMIN_USERNAME")
	envOverride(&c.Admin.Password, "ADMIN_PASSWORD")
	envOverride(&c.Admin.JWTSecret, "SECRET_KEY")
	envOverride(&c.Log.Level, "LOG_LEVEL")
	envOverride(&c.Log.File, "LOG_FILE")
	envOverrideInt(&c.Server.Port, "PORT")
	envOverrideInt(&c.Database.Port, "DB_PORT")
	envOverrideInt(&c.Schedule.ReminderHour, "REMINDER_HOUR")
	envOverrideInt(&c.Schedule.ReminderMinute, "REMINDER_MINUTE")
	envOverrideInt(&c.Schedule.EscalationDelayMinutes, "ESCALATION_DELAY_MINUTES")

	return c
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) OpenGormDB() (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if c.Database.Driver == "mysql" {
		cfg := gomysql.NewConfig()
		cfg.User = c.Database.User
		cfg.Passwd = c.Database.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port)
		cfg.DBName = c.Database.Name
		cfg.ParseTime = true

		connector, err := gomysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("create connector: %w", err)
		}
		sqlDB := sql.OpenDB(connector)
		if err := sqlDB.Ping(); err != nil {
			return nil, fmt.Errorf("ping db: %w", err)
		}
		return gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), gormCfg)
	}

	if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return gorm.Open(sqlite.Open(c.Database.Path), gormCfg)
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
