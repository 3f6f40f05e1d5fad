package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProductConfig описание продукта в каталоге
type ProductConfig struct {
	ID            string   `mapstructure:"id"`
	Title         string   `mapstructure:"title"`
	Price         float64  `mapstructure:"price"`
	TaxRate       float64  `mapstructure:"taxRate"`
	Currency      string   `mapstructure:"currency"`
	PeriodCount   int      `mapstructure:"periodCount"`
	PeriodUnit    string   `mapstructure:"periodUnit"`
	Lifetime      bool     `mapstructure:"lifetime"`
	TrialDays     int      `mapstructure:"trialDays"`
	Roles         []string `mapstructure:"roles"`
	StripePriceID string   `mapstructure:"stripePriceId"`
}

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
	} `mapstructure:"stripe"`
	Manual struct {
		AutoComplete bool `mapstructure:"autoComplete"`
	} `mapstructure:"manual"`
	Scheduler struct {
		RenewalSchedule  string `mapstructure:"renewalSchedule"`
		ExpirySchedule   string `mapstructure:"expirySchedule"`
		ReminderSchedule string `mapstructure:"reminderSchedule"`
		ReminderLeadDays []int  `mapstructure:"reminderLeadDays"`
	} `mapstructure:"scheduler"`
	Products []ProductConfig `mapstructure:"products"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env не обязателен, секреты могут приходить из окружения
		_ = godotenv.Load(path)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("scheduler.renewalSchedule", "0 3 * * *")
	viper.SetDefault("scheduler.expirySchedule", "30 3 * * *")
	viper.SetDefault("scheduler.reminderSchedule", "0 9 * * *")
	viper.SetDefault("scheduler.reminderLeadDays", []int{7, 1})
	viper.SetDefault("manual.autoComplete", true)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
