package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config - настройки реконсилера.
type Config struct {
	JournalFile string       `mapstructure:"journal_file"`
	DrizzleDir  string       `mapstructure:"drizzle_dir"`
	MetaDir     string       `mapstructure:"meta_dir"`
	LogLevel    string       `mapstructure:"log_level"`
	DryRun      bool         `mapstructure:"dry_run"`
	Ledger      LedgerConfig `mapstructure:"ledger"`
	Window      WindowConfig `mapstructure:"window"`
	Merge       MergeConfig  `mapstructure:"merge"`
}

// LedgerConfig указывает на базу журнала действий. Пустой DSN отключает журнал действий.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// WindowConfig ограничивает индексы, которые дедупликатор может перенумеровать.
type WindowConfig struct {
	Disk     int  `mapstructure:"disk"`
	Journal  int  `mapstructure:"journal"`
	Disabled bool `mapstructure:"disabled"`
}

// MergeConfig - пути к файлам команды merge.
type MergeConfig struct {
	Base      string `mapstructure:"base"`
	Feature   string `mapstructure:"feature"`
	Output    string `mapstructure:"output"`
	RenameMap string `mapstructure:"rename_map"`
}

// Load читает настройки из необязательного YAML-файла и переменных окружения.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".drizzle-reconcile")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("DRIZZLE_RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("journal_file", "")
	v.SetDefault("drizzle_dir", ".")
	v.SetDefault("meta_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("dry_run", false)

	v.SetDefault("ledger.dsn", "")

	v.SetDefault("window.disk", 5)
	v.SetDefault("window.journal", 2)
	v.SetDefault("window.disabled", false)

	v.SetDefault("merge.base", "/tmp/theirs_journal.json")
	v.SetDefault("merge.feature", "/tmp/ours_journal.json")
	v.SetDefault("merge.output", "/tmp/merged_journal.json")
	v.SetDefault("merge.rename_map", "/tmp/drizzle_rename_map.txt")
}

// bindEnvVars поддерживает имена переменных, которые используют CI-скрипты.
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("journal_file", "JOURNAL_FILE", "DRIZZLE_RECONCILE_JOURNAL_FILE")
	v.BindEnv("drizzle_dir", "DRIZZLE_DIR", "DRIZZLE_RECONCILE_DRIZZLE_DIR")
	v.BindEnv("meta_dir", "META_DIR", "DRIZZLE_RECONCILE_META_DIR")
	v.BindEnv("log_level", "LOG_LEVEL", "DRIZZLE_RECONCILE_LOG_LEVEL")
}

// Validate отклоняет значения, с которыми реконсилер работать не может.
func (c *Config) Validate() error {
	if c.Window.Disk < 0 {
		return fmt.Errorf("window.disk must not be negative, got %d", c.Window.Disk)
	}
	if c.Window.Journal < 0 {
		return fmt.Errorf("window.journal must not be negative, got %d", c.Window.Journal)
	}
	if c.DrizzleDir == "" {
		return errors.New("drizzle_dir must not be empty")
	}
	return nil
}
