package config

import (
	"log"
	"time"

	"github.com/LingByte/LingCall/pkg/logger"
)

var GlobalConfig *Config

// Config System common config
type Config struct {
	Log  logger.LogConfig
	Mode string `env:"MODE"`

	// Session settings
	TransportURL    string        `env:"TRANSPORT_URL"`
	TokenIssuerURL  string        `env:"TOKEN_ISSUER_URL"`
	RoomPrefix      string        `env:"ROOM_PREFIX"`
	ParticipantName string        `env:"PARTICIPANT_NAME"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"`

	// Dev issuer settings
	IssuerAddr   string `env:"ISSUER_ADDR"`
	IssuerSecret string `env:"ISSUER_SECRET"`
}

func Load() error {
	// Load .env for the current mode first; a missing file is not fatal,
	// every setting below has a default.
	mode := GetStringOrDefault("MODE", "development")
	if err := LoadEnv(mode); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	GlobalConfig = &Config{
		Log: logger.LogConfig{
			Level:      GetStringOrDefault("LOG_LEVEL", "info"),
			Filename:   GetStringOrDefault("LOG_FILENAME", "./logs/lingcall.log"),
			MaxSize:    GetIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     GetIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: GetIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      GetBoolOrDefault("LOG_DAILY", true),
		},
		Mode:            mode,
		TransportURL:    GetStringOrDefault("TRANSPORT_URL", "ws://localhost:7880/rtc"),
		TokenIssuerURL:  GetStringOrDefault("TOKEN_ISSUER_URL", "http://localhost:8000/token"),
		RoomPrefix:      GetStringOrDefault("ROOM_PREFIX", "voice_assistant_room_"),
		ParticipantName: GetStringOrDefault("PARTICIPANT_NAME", "user"),
		ConnectTimeout:  GetDurationOrDefault("CONNECT_TIMEOUT", 15*time.Second),
		IssuerAddr:      GetStringOrDefault("ISSUER_ADDR", ":8000"),
		IssuerSecret:    GetStringOrDefault("ISSUER_SECRET", ""),
	}
	return nil
}
