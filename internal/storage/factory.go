package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// New returns the store selected by cfg.Driver.
func New(cfg models.StorageConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for the mysql driver")
		}
		return OpenMySQL(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
