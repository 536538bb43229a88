// Package store persists the applied daemon configuration in a bbolt
// database, so the daemon can come back up with its last-known settings
// when the config file is absent.
package store

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"observatory/pkg/config"
)

const (
	bucket    = "observatory"
	configKey = "config"
)

// Store wraps the bbolt database.
type Store struct {
	db *bolt.DB
}

// New creates a store over an open database and seeds defaults when no
// configuration was ever saved.
func New(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if _, err := st.GetConfig(); err != nil {
		log.Info("seeding default configuration")
		if err := st.SetConfig(config.Default()); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// SetConfig saves the configuration as a json string in the database.
func (s *Store) SetConfig(cfg config.Config) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(cfg)
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the saved configuration from the database.
func (s *Store) GetConfig() (config.Config, error) {
	var cfg config.Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key %s not found", configKey)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
