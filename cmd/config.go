package main

import (
	"fmt"
	"time"
)

type Config struct {
	BufferSize        int           `env:"BUFFER_SIZE,required=true"`
	SearchLimit       int           `env:"SEARCH_LIMIT,default=20"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,required=true"`
	SinkTimeout       time.Duration `env:"SINK_TIMEOUT,required=true"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=168h"`
	TypingIdleTimeout time.Duration `env:"TYPING_IDLE_TIMEOUT,default=2s"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=1m"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath     string        `env:"BLUGE_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS"`
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}
