/*
Package config loads the process configuration from the environment.  Values
from a .env file are loaded first and never override variables which are
already set.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string `env:"ADDR,default=:3503" validate:"required"`
	LogLevel string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	// Empty RabbitMQUrl disables the publishing of lifecycle notifications.
	RabbitMQUrl string `env:"RABBITMQ_URL"`
	Exchange    string `env:"EXCHANGE,default=hub" validate:"required"`
	// Zero QueueTimeout lets the entries wait until matched or removed.
	QueueTimeout  time.Duration `env:"QUEUE_TIMEOUT,default=0s" validate:"gte=0"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=10s" validate:"gt=0"`
	// Empty JWTSecret disables the handshake authorization.
	JWTSecret     string `env:"JWT_SECRET"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`
	SendBuffer    int    `env:"SEND_BUFFER,default=192" validate:"gt=0"`
}

var validate = validator.New()

/*
Load reads the .env file at the specified path, if it exists, and decodes the
environment into a validated Config.
*/
func Load(path string) (Config, error) {
	var cfg Config

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("cannot load %s: %w", path, err)
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("cannot decode environment: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
