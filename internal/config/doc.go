// Package config handles configuration loading for taskbot.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion, duration parsing,
// defaults and validation.
//
// # Environment Variable Expansion
//
//	frontends:
//	  telegram:
//	    token: "${TELEGRAM_BOT_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"   # health and admin API
//	  grpc_addr: "127.0.0.1:50051"  # gRPC health service, optional
//
//	database:
//	  path: "~/.local/share/taskbot/taskbot.db"
//
//	auth:
//	  jwt_secret: "${TASKBOT_JWT_SECRET}"  # protects /api/*, at least 32 bytes
//
//	bot:
//	  workers: 8
//	  queue_size: 256
//	  dedupe_ttl: "5m"
//	  send_timeout: "15s"
//	  allow_user_picker: false
//
//	frontends:
//	  telegram: {enabled, token, api_url, poll_timeout}
//	  matrix:   {enabled, homeserver, user_id, access_token | username+password,
//	             recovery_key, crypto_dir, allowed_rooms}
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/taskbot/config.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.RequireFrontend(); err != nil { // serve only
//	    return err
//	}
package config
