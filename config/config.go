package config

import (
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"sync"
	"time"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		// .env is optional; real environment variables win over it
		_ = godotenv.Load()

		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("etherscan_api_key", "ETHERSCAN_API_KEY")
		viper.BindEnv("etherscan_api_url", "ETHERSCAN_API_URL")
		viper.BindEnv("api_pro_key", "API_PRO_KEY")
		viper.BindEnv("poll_interval", "POLL_INTERVAL")
		viper.BindEnv("track_interval", "TRACK_INTERVAL")
		viper.BindEnv("fetch_timeout", "FETCH_TIMEOUT")
		viper.BindEnv("send_timeout", "SEND_TIMEOUT")
		viper.BindEnv("quote_ttl", "QUOTE_TTL")
		viper.BindEnv("default_low_threshold", "DEFAULT_LOW_THRESHOLD")
		viper.BindEnv("default_high_threshold", "DEFAULT_HIGH_THRESHOLD")
		viper.BindEnv("alerts_rate_per_sec", "ALERTS_RATE_PER_SEC")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("log_level", "LOG_LEVEL")
		viper.BindEnv("log_format", "LOG_FORMAT")
		viper.BindEnv("lang", "LANG")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("etherscan_api_url", "https://api.etherscan.io/v2/api")
		viper.SetDefault("poll_interval", time.Minute)
		viper.SetDefault("track_interval", 30*time.Second)
		viper.SetDefault("fetch_timeout", 5*time.Second)
		viper.SetDefault("send_timeout", 5*time.Second)
		viper.SetDefault("quote_ttl", time.Minute)
		viper.SetDefault("default_low_threshold", "30")
		viper.SetDefault("default_high_threshold", "35")
		viper.SetDefault("alerts_rate_per_sec", 25)
		viper.SetDefault("db_path", "/app/data/bot.db")
		viper.SetDefault("debug", false)
		viper.SetDefault("log_level", "info")
		viper.SetDefault("log_format", "text")
		viper.SetDefault("lang", "en")
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	InitConfig()
	return viper.GetDuration(key)
}

// RequirePositiveDurations fails on the first key that does not parse to a duration above zero.
func RequirePositiveDurations(keys ...string) error {
	for _, key := range keys {
		if d := GetDuration(key); d <= 0 {
			return errors.Errorf("%s must be a positive duration, got %q", key, viper.GetString(key))
		}
	}
	return nil
}
