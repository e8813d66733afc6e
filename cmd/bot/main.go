package main

import (
	"log"

	corecmd "github.com/m3rciful/mchatbot/core/cmd"
	"github.com/m3rciful/mchatbot/internal/bot"
	"github.com/m3rciful/mchatbot/internal/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: bot.Bootstrap,
	})
	if err != nil {
		log.Fatalf("bot exited: %v", err)
	}
}
