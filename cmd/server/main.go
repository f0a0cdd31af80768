package main

import (
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/app/server"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
