package main

import (
	"log"

	"github.com/bit2swaz/loramesh/internal/logger"
)

func main() {
	if err := logger.Init(cfg.LogPath, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	Execute()
}
