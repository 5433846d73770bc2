package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/m3rciful/artbot/core/app"
	"github.com/m3rciful/artbot/core/cmd"
	coreconfig "github.com/m3rciful/artbot/core/config"
)

func main() {
	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	err := cmd.Run(cmd.Options{
		ConfigEnvVar:      "ARTBOT_CONFIG",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        coreconfig.Load,
		Bootstrap: func(cfg *coreconfig.Config) (cmd.App, error) {
			return app.New(cfg)
		},
	})
	if err != nil {
		log.Fatalf("artbot: %v", err)
	}
}
