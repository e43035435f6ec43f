package config

import "github.com/dmitrijs2005/filegate/internal/flagx"

// parseEnv overlays the settings that are usually injected by the deployment
// environment rather than written to a config file.
//
//	FILEGATE_DATABASE_DSN   PostgreSQL DSN
//	FILEGATE_SECRET_KEY     JWT HMAC secret
//	FILEGATE_TEMP_DIR       upload scratch directory
//	FILEGATE_S3_USER        S3 access key
//	FILEGATE_S3_PASSWORD    S3 secret key
func parseEnv(config *Config) {
	config.DatabaseDSN = flagx.Env("FILEGATE_DATABASE_DSN", config.DatabaseDSN)
	config.SecretKey = flagx.Env("FILEGATE_SECRET_KEY", config.SecretKey)
	config.TempDir = flagx.Env("FILEGATE_TEMP_DIR", config.TempDir)
	config.S3RootUser = flagx.Env("FILEGATE_S3_USER", config.S3RootUser)
	config.S3RootPassword = flagx.Env("FILEGATE_S3_PASSWORD", config.S3RootPassword)
}
