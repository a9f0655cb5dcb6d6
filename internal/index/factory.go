// SPDX-License-Identifier: MIT

package index

import (
	"fmt"

	"github.com/thumbgate/thumbgate/internal/config"
)

// New builds the index store selected by cfg.Index.Backend. The memory
// backend is created without its own sweep loop; the janitor job sweeps
// it on the maintenance cadence.
func New(cfg config.Config) (Store, error) {
	switch cfg.Index.Backend {
	case "", "memory":
		return NewMemory(0), nil
	case "badger":
		return NewBadger(cfg.BadgerDir())
	case "redis":
		return NewRedis(cfg.Index.Redis.Addr, cfg.Index.Redis.Password, cfg.Index.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: memory, badger, redis)", cfg.Index.Backend)
	}
}
