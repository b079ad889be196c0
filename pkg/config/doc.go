// Package config loads typed configuration structs from the process
// environment.
//
// Values are read with github.com/caarlos0/env/v11 using `env` and
// `envDefault` struct tags. A `.env` file in the working directory (or the
// file named by ENV_FILE) is applied once with github.com/joho/godotenv before
// the first parse; variables already present in the environment win.
//
// Each struct type is parsed once and cached for the lifetime of the process:
//
//	var cfg billing.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Tests that change the environment between loads call Reset.
package config
