package main

import (
	"github.com/studyflow/auth_service/config"
	"github.com/studyflow/auth_service/internal/api"
)

func main() {
	cfg := config.LoadConfig()
	api.StartServer(cfg)
}
