package main

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type ServerConfig struct {
	ListenAddr      string        `env:"ROOMSYNC_LISTEN_ADDR,default=:8080" validate:"required"`
	DataDir         string        `env:"ROOMSYNC_DATA_DIR"`
	LogLevel        string        `env:"ROOMSYNC_LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"ROOMSYNC_SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	// AllowAnyOrigin disables the websocket origin check.
	AllowAnyOrigin bool `env:"ROOMSYNC_ALLOW_ANY_ORIGIN"`
}

type ChatConfig struct {
	APIURL   string `env:"ROOMSYNC_API_URL,default=http://localhost:8080/api" validate:"required,url"`
	UserID   string `env:"ROOMSYNC_USER_ID,required=true" validate:"required"`
	Username string `env:"ROOMSYNC_USERNAME"`
	Email    string `env:"ROOMSYNC_EMAIL" validate:"omitempty,email"`
	Room     string `env:"ROOMSYNC_ROOM"`
	LogLevel string `env:"ROOMSYNC_LOG_LEVEL,default=WARN"`
}

func loadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ServerConfig{}, configError{err}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return ServerConfig{}, configError{err}
	}
	return cfg, nil
}

func loadChatConfig() (ChatConfig, error) {
	var cfg ChatConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ChatConfig{}, configError{err}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return ChatConfig{}, configError{err}
	}
	return cfg, nil
}
