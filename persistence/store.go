package persistence

import (
	"fmt"

	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/globals"
	"github.com/gofrs/flock"
)

const memoryDSN = ":memory:"

// NewStore creates the Store configured in cfg.PersistenceConfig. BuntDB files are protected by a file lock so that
// two gateway processes never open the same database.
func NewStore(cfg *config.Config) (Store, error) {
	pc := cfg.PersistenceConfig
	switch pc.Type {
	case "", "buntdb":
		dsn := pc.DSN
		if dsn == "" {
			dsn = memoryDSN
		}
		var lock *flock.Flock
		if dsn != memoryDSN {
			lockPath := pc.FlockPath
			if lockPath == "" {
				lockPath = dsn + ".lock"
			}
			lock = flock.New(lockPath)
			locked, err := lock.TryLock()
			if err != nil {
				return nil, err
			}
			if !locked {
				return nil, fmt.Errorf("database %s is locked by another process (%s)", dsn, lockPath)
			}
		}
		store, err := NewBuntStore(dsn)
		if err != nil {
			if lock != nil {
				_ = lock.Unlock()
			}
			return nil, err
		}
		store.lock = lock
		globals.AppLogger.Info("using buntdb store", "dsn", dsn)
		return store, nil

	case "sqlite", "postgres":
		store, err := NewGormStore(pc.Type, pc.DSN)
		if err != nil {
			return nil, err
		}
		globals.AppLogger.Info("using gorm store", "type", pc.Type)
		return store, nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", pc.Type)
}
