// SPDX-License-Identifier: MIT

package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/pmomusic/pmomusicd/internal/log"
)

// LoadDotEnv loads path (typically ".env") into the process environment
// if present, so secrets (Qobuz app secret and user token, JWT signing
// key) never need to live in the checked-in YAML file. A missing file
// is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnvOverrides overlays select OS environment variables onto fc,
// taking precedence over the YAML file. Only secrets and deploy-time
// values are overridden here; structural config stays in YAML.
func ApplyEnvOverrides(fc FileConfig) FileConfig {
	logger := log.WithComponent("config")

	if v, ok := os.LookupEnv("PMOMUSIC_JWT_SECRET"); ok {
		fc.HTTP.JWTSecret = v
		logger.Debug().Str("key", "PMOMUSIC_JWT_SECRET").Msg("overridden from environment")
	}
	if v, ok := os.LookupEnv("PMOMUSIC_QOBUZ_APP_SECRET"); ok {
		fc.Sources.Qobuz.AppSecret = v
		logger.Debug().Str("key", "PMOMUSIC_QOBUZ_APP_SECRET").Msg("overridden from environment")
	}
	if v, ok := os.LookupEnv("PMOMUSIC_QOBUZ_USER_AUTH_TOKEN"); ok {
		fc.Sources.Qobuz.UserAuthToken = v
		logger.Debug().Str("key", "PMOMUSIC_QOBUZ_USER_AUTH_TOKEN").Msg("overridden from environment")
	}
	if v, ok := os.LookupEnv("PMOMUSIC_HTTP_LISTEN_ADDR"); ok {
		fc.HTTP.ListenAddr = v
	}
	if v, ok := os.LookupEnv("PMOMUSIC_LOG_LEVEL"); ok {
		fc.LogLevel = v
	}
	return fc
}
