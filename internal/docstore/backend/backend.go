// Package backend opens the document store selected by configuration.
package backend

import (
	"fmt"

	"salonbook.app/internal/config"
	"salonbook.app/internal/docstore"
	"salonbook.app/internal/docstore/badgerstore"
	"salonbook.app/internal/docstore/pgstore"
)

// Open returns the configured store. The memory driver keeps nothing across restarts.
func Open(cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := pgstore.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.DriverBadger:
		s, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	case config.DriverMemory, "":
		return docstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
