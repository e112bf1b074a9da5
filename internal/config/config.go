package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"invitegate/lib/validate"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	Enabled bool   `yaml:"enabled" env-default:"false"`
	BindIp  string `yaml:"bind_ip" env-default:"127.0.0.1"`
	Port    string `yaml:"port" env-default:"8080"`
	ApiKey  string `yaml:"api_key" env-default:""`
}

type Telegram struct {
	Enabled     bool    `yaml:"enabled" env-default:"true"`
	ApiKey      string  `yaml:"api_key" env:"BOT_TOKEN" env-default:""`
	AdminIds    []int64 `yaml:"admin_ids"`
	NotifyLevel string  `yaml:"notify_level" env-default:"warn"`
	// warnings are batched into a digest; errors are sent at once
	DigestMinutes int `yaml:"digest_minutes" env-default:"30" validate:"min=1,max=1440"`
}

type Database struct {
	Driver   string `yaml:"driver" env-default:"sqlite" validate:"oneof=sqlite mysql"`
	Path     string `yaml:"path" env-default:"invitegate.db"`
	Host     string `yaml:"host" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env-default:"3306"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Name     string `yaml:"name" env-default:"invitegate"`
}

type Mongo struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:"admin"`
	Password string `yaml:"password" env-default:"pass"`
	Database string `yaml:"database" env-default:"invitegate"`
}

type Links struct {
	TTLHours     int     `yaml:"ttl_hours" env-default:"1" validate:"min=1,max=720"`
	MaxUses      int     `yaml:"max_uses" env-default:"1" validate:"min=1,max=99999"`
	Concurrency  int     `yaml:"concurrency" env-default:"5" validate:"min=1,max=50"`
	BulkWorkers  int     `yaml:"bulk_workers" env-default:"10" validate:"min=1,max=100"`
	BulkRate     float64 `yaml:"bulk_rate" env-default:"10" validate:"gt=0"`
	RetryLimited int     `yaml:"retry_rate_limited" env-default:"2" validate:"min=0,max=10"`
}

type Maintenance struct {
	Enabled              bool   `yaml:"enabled" env-default:"true"`
	IntervalHours        int    `yaml:"interval_hours" env-default:"1" validate:"min=1,max=168"`
	CooldownMinutes      int    `yaml:"cooldown_minutes" env-default:"5" validate:"min=1"`
	UsageRetentionDays   int    `yaml:"usage_retention_days" env-default:"30" validate:"min=1"`
	ChannelRetentionDays int    `yaml:"channel_retention_days" env-default:"7" validate:"min=1"`
	StatsRetentionDays   int    `yaml:"stats_retention_days" env-default:"90" validate:"min=1"`
	ScratchDir           string `yaml:"scratch_dir" env-default:""`
	ScratchRetentionDays int    `yaml:"scratch_retention_days" env-default:"7" validate:"min=1"`
}

type Monitor struct {
	Enabled         bool `yaml:"enabled" env-default:"true"`
	IntervalMinutes int  `yaml:"interval_minutes" env-default:"60" validate:"min=1"`
	Grace           int  `yaml:"grace" env-default:"3" validate:"min=1,max=100"`
}

type Config struct {
	Env         string      `yaml:"env" env-default:"local" validate:"oneof=local dev prod"`
	Listen      Listen      `yaml:"listen"`
	Telegram    Telegram    `yaml:"telegram"`
	Database    Database    `yaml:"database"`
	Mongo       Mongo       `yaml:"mongo"`
	Links       Links       `yaml:"links"`
	Maintenance Maintenance `yaml:"maintenance"`
	Monitor     Monitor     `yaml:"monitor"`
}

func (m Maintenance) Interval() time.Duration {
	return time.Duration(m.IntervalHours) * time.Hour
}

func (m Maintenance) Cooldown() time.Duration {
	return time.Duration(m.CooldownMinutes) * time.Minute
}

func (m Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalMinutes) * time.Minute
}

var instance *Config
var once sync.Once

// Load reads and validates a config file without caching the result
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("config: %s; %s", err, desc)
	}
	if err := validate.Struct(conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return conf, nil
}

func MustLoad(path string) *Config {
	once.Do(func() {
		var err error
		instance, err = Load(path)
		if err != nil {
			log.Fatal(err)
		}
	})
	return instance
}
