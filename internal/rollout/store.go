/*
 * Copyright (c) 2025, WSO2 LLC. (http://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package rollout

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const overrideKeyPrefix = "f:"

// Override is the operator or rollback controlled state of a flag that survives restarts.
type Override struct {
	Enabled    bool      `json:"enabled"`
	Percentage int       `json:"percentage"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StateStore persists flag overrides.
type StateStore interface {
	Load() (map[string]Override, error)
	Save(name string, o Override) error
	Close() error
}

// MemoryStateStore keeps overrides in memory for the lifetime of the process.
type MemoryStateStore struct {
	mu        sync.Mutex
	overrides map[string]Override
}

// NewMemoryStateStore creates an in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{overrides: make(map[string]Override)}
}

// Load returns a copy of the stored overrides.
func (m *MemoryStateStore) Load() (map[string]Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Override, len(m.overrides))
	for k, v := range m.overrides {
		out[k] = v
	}
	return out, nil
}

// Save stores an override.
func (m *MemoryStateStore) Save(name string, o Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[name] = o
	return nil
}

// Close is a no-op.
func (m *MemoryStateStore) Close() error {
	return nil
}

// LevelDBStateStore persists overrides in a LevelDB database.
type LevelDBStateStore struct {
	db *leveldb.DB
}

// OpenLevelDBStateStore opens or creates the database at path.
func OpenLevelDBStateStore(path string) (*LevelDBStateStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStateStore{db: db}, nil
}

// OpenLevelDBStateStoreWith opens the database on an existing storage backend.
func OpenLevelDBStateStoreWith(stor storage.Storage) (*LevelDBStateStore, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStateStore{db: db}, nil
}

// Load reads every stored override. Undecodable records are skipped.
func (l *LevelDBStateStore) Load() (map[string]Override, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(overrideKeyPrefix)), nil)
	defer it.Release()

	out := make(map[string]Override)
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte(overrideKeyPrefix)))
		var o Override
		if err := json.Unmarshal(it.Value(), &o); err != nil {
			continue
		}
		out[name] = o
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes an override.
func (l *LevelDBStateStore) Save(name string, o Override) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return l.db.Put([]byte(overrideKeyPrefix+name), b, nil)
}

// Close closes the database.
func (l *LevelDBStateStore) Close() error {
	return l.db.Close()
}
