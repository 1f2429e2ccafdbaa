package config

import (
	"os"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/spf13/viper"
)

// InitViper reads .env when present and binds the process settings to the environment
func InitViper() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("hsm.master_key", "HSM_MASTER_KEY")
	viper.BindEnv("hsm.salt", "HSM_SALT")

	viper.BindEnv("zipkin.endpoint", "ZIPKIN_ENDPOINT")
	viper.BindEnv("zipkin.sample_rate", "ZIPKIN_SAMPLE_RATE")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("port", "PORT")

	viper.SetDefault("port", "8080")
	viper.SetDefault("log.level", "INFO")
	viper.SetDefault("zipkin.sample_rate", 1.0)

	if err := viper.ReadInConfig(); err != nil {
		logging.LOGGER.Infof("Config file not found, using environment: %v", err)
	}
	logging.Setup(viper.GetString("log.level"), os.Stdout)
}
