// Package config provides type-safe environment variable loading with
// caching using Go generics. Each configuration type is loaded once and
// cached for subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct
// fields. The backend packages ship ready-made config structs:
//
//	var fileCfg file.Config
//	config.MustLoad(&fileCfg)
//	store, err := file.NewFromConfig(fileCfg)
//
//	var redisCfg redis.Config
//	config.MustLoad(&redisCfg)
//	client, err := redis.Connect(ctx, redisCfg)
//
// Custom structs work the same way:
//
//	type AppConfig struct {
//		Capacity int           `env:"CACHE_CAPACITY" envDefault:"10000"`
//		TTL      time.Duration `env:"CACHE_TTL" envDefault:"1h"`
//	}
//
//	var cfg AppConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
// Each type is parsed only once per process; later Load calls for the same
// type return the cached value, so scattered call sites see identical
// configuration.
package config
