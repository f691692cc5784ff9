// Package state persists the process-wide memos the reconcile loop needs
// to survive a device reboot mid-reconciliation: which containers
// were asked to start since last observed running, which unrecognized
// update-strategy label values have already been logged, and which steps
// the executor gave up retrying.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketContainerStarted = []byte("containerStarted")
	bucketUnknownStrategy  = []byte("unknownStrategy")
	bucketDeferredSteps    = []byte("deferredSteps")
)

// Store wraps an embedded key-value database holding the agent's durable
// bookkeeping.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// every bucket this package uses exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketContainerStarted, bucketUnknownStrategy, bucketDeferredSteps} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("state: init %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// MarkContainerStarted records that containerID was just asked to start.
func (s *Store) MarkContainerStarted(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainerStarted).Put([]byte(containerID), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

// ClearContainerStarted removes containerID from the memo, called by the
// engine-event mirror once the container is observed running (or gone).
func (s *Store) ClearContainerStarted(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainerStarted).Delete([]byte(containerID))
	})
}

// ContainerStarted returns the full containerId -> true set the planner's
// Context.ContainerStarted is built from on every loop tick.
func (s *Store) ContainerStarted() (map[string]bool, error) {
	out := map[string]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainerStarted).ForEach(func(k, v []byte) error {
			out[string(k)] = true
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("state: read containerStarted: %w", err)
	}
	return out, nil
}

// LogUnknownStrategyOnce records value as seen and reports whether this is
// the first time it has been observed, so the caller can warn about an
// unrecognized io.balena.update.strategy value once per device lifetime
// rather than once per reconciliation.
func (s *Store) LogUnknownStrategyOnce(value string) (firstSeen bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnknownStrategy)
		if b.Get([]byte(value)) != nil {
			firstSeen = false
			return nil
		}
		firstSeen = true
		return b.Put([]byte(value), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	return firstSeen, err
}

// DeferredStep is a step the executor gave up retrying.
type DeferredStep struct {
	Key       string    `json:"key"` // e.g. "1/main" (appId/serviceName) or "1/default" (appId/networkName)
	Reason    string    `json:"reason"`
	ErrClass  string    `json:"errClass"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordDeferredStep upserts a deferred-step record, surfaced by the status
// API so an operator can see what the agent has given up retrying.
func (s *Store) RecordDeferredStep(d DeferredStep) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("state: marshal deferred step: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeferredSteps).Put([]byte(d.Key), data)
	})
}

// ClearDeferredStep removes a deferred-step record, called once the step
// succeeds on a later attempt.
func (s *Store) ClearDeferredStep(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeferredSteps).Delete([]byte(key))
	})
}

// DeferredSteps returns every currently deferred step, sorted by key.
func (s *Store) DeferredSteps() ([]DeferredStep, error) {
	var out []DeferredStep
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeferredSteps).ForEach(func(k, v []byte) error {
			var d DeferredStep
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("unmarshal deferred step %q: %w", string(k), err)
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("state: read deferred steps: %w", err)
	}
	return out, nil
}
