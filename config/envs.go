package config

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application's configuration values.
type Config struct {
	HostIP   string `env:"HOST_IP" envDefault:"0.0.0.0"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
	TCPPort  int    `env:"TCP_PORT" envDefault:"7878"`

	MazeWidth  int `env:"MAZE_WIDTH" envDefault:"10"`
	MazeHeight int `env:"MAZE_HEIGHT" envDefault:"10"`

	MaxTurns        uint64  `env:"MAX_TURNS" envDefault:"100"`
	InitialTreasure float64 `env:"INITIAL_TREASURE" envDefault:"1000"`
	AnteAmount      float64 `env:"ANTE_AMOUNT" envDefault:"100"`

	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"braid_server"`
	OutboxPath    string `env:"OUTBOX_PATH" envDefault:"braid-outbox.db"`
}

// Envs holds the application's configuration loaded from environment variables.
var Envs = initConfig()

// initConfig initializes and returns the application configuration.
// It loads environment variables from a .env file when one is present.
func initConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[APP] [INFO] .env file not found or could not be loaded: %v", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("[APP] [FATAL] Parsing environment: %v", err)
	}
	return cfg
}
