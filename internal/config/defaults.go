package config

import (
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Logging
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.error_sample_rate", 1)

	// Resolver
	v.SetDefault("resolver.max_combinations", 10000)
	v.SetDefault("resolver.workers", runtime.GOMAXPROCS(0))
	v.SetDefault("resolver.exempt_components", []string{"TSD_RD", "ITP"})
	v.SetDefault("resolver.data_keys", []string{"climate input", "hydrology input", "underlying surface input"})
	v.SetDefault("resolver.cache_ttl", time.Duration(0))

	// Knowledge base file served when no database is configured
}
