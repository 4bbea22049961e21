// Package config loads environment-based configuration structs.
//
// Configuration is declared as plain structs with `env` tags parsed by
// caarlos0/env; a .env file in the working directory is loaded once per
// process as a development convenience.
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrNilPointer is returned when Load is called with a nil target.
var ErrNilPointer = errors.New("config target cannot be nil")

var loadDotEnv sync.Once

// Load parses environment variables into the provided configuration struct
// based on its `env` field tags. The default .env file is loaded on the
// first call; a missing .env file is not an error.
func Load[T any](v *T) error {
	loadDotEnv.Do(func() {
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}
	if err := env.Parse(v); err != nil {
		return fmt.Errorf("failed to parse config %T: %w", v, err)
	}
	return nil
}

// MustLoad is Load that panics on error, for static startup wiring.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(err)
	}
}
