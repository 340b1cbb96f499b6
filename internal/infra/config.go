package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации клирингового центра.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Receipt  ReceiptConfig  `mapstructure:"receipt"`
	Clearing ClearingConfig `mapstructure:"clearing"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig выбирает и настраивает бэкенд хранилища.
// Driver: "postgres", "mongo" или "memory" (dev-режим без внешней БД).
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"` // Postgres DSN
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	MongoURI string `mapstructure:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db"`
}

// RedisConfig описывает подключение к Redis (блок-лист процессов, Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — ключ проверки клиентских токенов (RS256, выдает внешний DAPS).
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// VaultConfig настраивает границу Key Vault.
// Mode: "embedded" — vault живет в процессе клирингового центра;
// "remote" — ходим в отдельный сервис (cmd/vault) по HTTP с сервисным токеном.
type VaultConfig struct {
	Mode           string        `mapstructure:"mode"`
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ListenAddr     string        `mapstructure:"listen_addr"` // только для cmd/vault
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // подпись сервисных токенов
	PublicKeyPath  string        `mapstructure:"public_key_path"`  // их проверка на стороне vault
	PrivateKey     []byte
	PublicKey      []byte
}

// ReceiptConfig — ключ подписи квитанций (RSA-PSS).
type ReceiptConfig struct {
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PrivateKey     []byte
}

// ClearingConfig — настройки ядра логирования.
type ClearingConfig struct {
	JournalBufferSize    int           `mapstructure:"journal_buffer_size"`
	JournalFlushInterval time.Duration `mapstructure:"journal_flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: DATABASE_DRIVER=mongo перекроет database.driver
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла (его отсутствие не фатально — работаем на ENV и дефолтах)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи: сначала смотрим, не лежит ли сам PEM в ENV (Docker/K8s),
	// иначе читаем файл по пути из конфига
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Vault.PrivateKey = loadKeyResource(cfg.Vault.PrivateKeyPath, "VAULT_PRIVATE_KEY_DATA")
	cfg.Vault.PublicKey = loadKeyResource(cfg.Vault.PublicKeyPath, "VAULT_PUBLIC_KEY_DATA")
	cfg.Receipt.PrivateKey = loadKeyResource(cfg.Receipt.PrivateKeyPath, "RECEIPT_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.mongo_db", "clearing")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("vault.mode", "embedded")
	v.SetDefault("vault.timeout", 3*time.Second)
	v.SetDefault("vault.listen_addr", ":8081")
	v.SetDefault("vault.token_ttl", 30*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("clearing.journal_buffer_size", 10000)
	v.SetDefault("clearing.journal_flush_interval", 500*time.Millisecond)
}

// loadKeyResource — универсальный хелпер: ENV с данными ключа имеет приоритет
// над путем к файлу.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
