package config

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config defines cross-cutting concerns.
type Config struct {
	Logger      *zap.SugaredLogger
	Environment *Environment
}

// NewConfig builds the logger matching the environment mode and bundles it with the
// environment. The returned logger should be synced by the caller on exit.
func NewConfig(env *Environment) (*Config, error) {
	var logger *zap.Logger
	var err error
	switch env.Mode {
	case "dev":
		logger, err = zap.NewDevelopment()
	case "prod":
		logger, err = zap.NewProduction()
	default:
		err = errors.Errorf("Invalid 'mode' flag: %s", env.Mode)
	}
	if err != nil {
		return nil, err
	}
	return &Config{
		Logger:      logger.Sugar(),
		Environment: env,
	}, nil
}
