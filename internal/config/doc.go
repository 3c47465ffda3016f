// Package config provides the formgate configuration model and its loading.
//
// Configuration is assembled in three layers:
//
//   - an optional YAML file with ${VAR} and ${VAR:-default} substitution
//   - environment variable overrides (LISTEN_ADDR, SITE_URL, REDIS_URL, ...)
//   - defaults for anything left unset
//
// The result is validated before use:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
