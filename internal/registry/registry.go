// Package registry remembers the devices that completed a handshake, keyed by short id.
package registry

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/PLab-SI/PicoQuake/internal/sensor"
	"github.com/PLab-SI/PicoQuake/internal/utils"
)

const devicesBucket = "devices"

const openTimeout = time.Second

var ErrNotFound = errors.New("device not in registry")

type Entry struct {
	ShortID  string    `json:"short_id"`
	UniqueID string    `json:"unique_id"`
	Firmware string    `json:"firmware"`
	Port     string    `json:"port"`
	LastSeen time.Time `json:"last_seen"`
}

type Registry struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Registry, error) {
	if err := utils.EnsureDir(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open registry %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(devicesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create registry bucket")
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Record stores the device seen on port, replacing an earlier entry with the same short id.
func (r *Registry) Record(port string, info sensor.DeviceInfo) error {
	return r.put(Entry{
		ShortID:  info.ShortID(),
		UniqueID: info.UniqueID,
		Firmware: info.Firmware,
		Port:     port,
		LastSeen: time.Now(),
	})
}

func (r *Registry) put(e Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(devicesBucket)).Put([]byte(e.ShortID), buf)
	})
	if err != nil {
		return errors.Wrapf(err, "record device %s", e.ShortID)
	}
	log.Debugf("registry: recorded %s on %s", e.ShortID, e.Port)
	return nil
}

// Get looks a device up by short id.
func (r *Registry) Get(shortID string) (e Entry, err error) {
	err = r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(devicesBucket)).Get([]byte(shortID))
		if v == nil {
			return errors.Wrap(ErrNotFound, shortID)
		}
		return json.Unmarshal(v, &e)
	})
	return
}

// List returns every entry, most recently seen first.
func (r *Registry) List() (entries []Entry, err error) {
	err = r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(devicesBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				log.Warnf("registry: skipping entry %s: %v", k, err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return
}

// Forget removes a device. Removing an unknown device is not an error.
func (r *Registry) Forget(shortID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(devicesBucket)).Delete([]byte(shortID))
	})
}
