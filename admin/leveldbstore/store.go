// Package leveldbstore is the durable AdminStore backing the admind daemon:
// circuits, proposals, member nodes, the event log, and in-flight service
// intents, each namespaced under its own key prefix in a single LevelDB
// database, following the same JSON-blob-per-key convention as
// peerconn.Peerstore.
package leveldbstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"circuitadmin/admin"
)

const (
	prefixProposal = "proposal:"
	prefixCircuit  = "circuit:"
	prefixNode     = "node:"
	prefixEvent    = "event:"
	prefixIntent   = "intent:"
	keyNextEventID = "meta:next_event_id"
)

// Store is a LevelDB-backed admin.AdminStore.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (or creates) a Store at the given directory.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(filepath.Clean(path), nil)
	if err != nil {
		return nil, fmt.Errorf("open admin store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func proposalKey(circuitID string) []byte { return []byte(prefixProposal + circuitID) }
func circuitKey(circuitID string) []byte  { return []byte(prefixCircuit + circuitID) }
func nodeKey(nodeID string) []byte        { return []byte(prefixNode + nodeID) }
func intentKey(circuitID, serviceID string) []byte {
	return []byte(prefixIntent + circuitID + "/" + serviceID)
}

func eventKey(id uint64) []byte {
	var buf [8 + len(prefixEvent)]byte
	copy(buf[:], prefixEvent)
	binary.BigEndian.PutUint64(buf[len(prefixEvent):], id)
	return buf[:]
}

func (s *Store) getJSON(key []byte, out any) (bool, error) {
	blob, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, blob, nil)
}

func (s *Store) GetProposal(circuitID string) (*admin.CircuitProposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p admin.CircuitProposal
	ok, err := s.getJSON(proposalKey(circuitID), &p)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &p, true, nil
}

func (s *Store) AddProposal(p *admin.CircuitProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := proposalKey(p.CircuitID)
	if _, err := s.db.Get(key, nil); err == nil {
		return fmt.Errorf("proposal %s already exists", p.CircuitID)
	} else if err != leveldb.ErrNotFound {
		return err
	}
	return s.putJSON(key, p)
}

func (s *Store) UpdateProposal(p *admin.CircuitProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := proposalKey(p.CircuitID)
	if _, err := s.db.Get(key, nil); err == leveldb.ErrNotFound {
		return fmt.Errorf("proposal %s not found", p.CircuitID)
	} else if err != nil {
		return err
	}
	return s.putJSON(key, p)
}

func (s *Store) RemoveProposal(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(proposalKey(circuitID), nil)
}

func (s *Store) ListProposals(predicates ...admin.ProposalPredicate) ([]*admin.CircuitProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixProposal)), nil)
	defer iter.Release()
	var out []*admin.CircuitProposal
	for iter.Next() {
		var p admin.CircuitProposal
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("decode proposal: %w", err)
		}
		if matchesProposal(&p, predicates) {
			cp := p
			out = append(out, &cp)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CircuitID < out[j].CircuitID })
	return out, nil
}

func matchesProposal(p *admin.CircuitProposal, predicates []admin.ProposalPredicate) bool {
	for _, pred := range predicates {
		if !pred(p) {
			return false
		}
	}
	return true
}

func (s *Store) GetCircuit(circuitID string) (*admin.Circuit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c admin.Circuit
	ok, err := s.getJSON(circuitKey(circuitID), &c)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &c, true, nil
}

func (s *Store) AddCircuit(c *admin.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := circuitKey(c.CircuitID)
	if _, err := s.db.Get(key, nil); err == nil {
		return fmt.Errorf("circuit %s already exists", c.CircuitID)
	} else if err != leveldb.ErrNotFound {
		return err
	}
	if err := s.putJSON(key, c); err != nil {
		return err
	}
	return s.indexNodesLocked(c)
}

func (s *Store) UpdateCircuit(c *admin.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := circuitKey(c.CircuitID)
	if _, err := s.db.Get(key, nil); err == leveldb.ErrNotFound {
		return fmt.Errorf("circuit %s not found", c.CircuitID)
	} else if err != nil {
		return err
	}
	if err := s.putJSON(key, c); err != nil {
		return err
	}
	return s.indexNodesLocked(c)
}

func (s *Store) RemoveCircuit(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(circuitKey(circuitID), nil)
}

func (s *Store) ListCircuits(predicates ...admin.CircuitPredicate) ([]*admin.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixCircuit)), nil)
	defer iter.Release()
	var out []*admin.Circuit
	for iter.Next() {
		var c admin.Circuit
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode circuit: %w", err)
		}
		if matchesCircuit(&c, predicates) {
			cp := c
			out = append(out, &cp)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CircuitID < out[j].CircuitID })
	return out, nil
}

func matchesCircuit(c *admin.Circuit, predicates []admin.CircuitPredicate) bool {
	for _, pred := range predicates {
		if !pred(c) {
			return false
		}
	}
	return true
}

func (s *Store) UpgradeProposalToCircuit(circuitID string, c *admin.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	batch.Delete(proposalKey(circuitID))
	blob, err := json.Marshal(c)
	if err != nil {
		return err
	}
	batch.Put(circuitKey(c.CircuitID), blob)
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	return s.indexNodesLocked(c)
}

func (s *Store) indexNodesLocked(c *admin.Circuit) error {
	for _, m := range c.Members {
		if err := s.putJSON(nodeKey(m.NodeID), m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListNodes() ([]admin.CircuitNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixNode)), nil)
	defer iter.Release()
	var out []admin.CircuitNode
	for iter.Next() {
		var n admin.CircuitNode
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			return nil, fmt.Errorf("decode node: %w", err)
		}
		out = append(out, n)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *Store) nextEventIDLocked() (uint64, error) {
	blob, err := s.db.Get([]byte(keyNextEventID), nil)
	var id uint64 = 1
	if err == nil {
		id = binary.BigEndian.Uint64(blob)
	} else if err != leveldb.ErrNotFound {
		return 0, err
	}
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], id+1)
	if err := s.db.Put([]byte(keyNextEventID), next[:], nil); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) AddEvent(evt *admin.AdminServiceEvent) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.nextEventIDLocked()
	if err != nil {
		return 0, err
	}
	evt.EventID = id
	if err := s.putJSON(eventKey(id), evt); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListEventsByManagementTypeSince(managementType string, sinceEventID uint64) ([]*admin.AdminServiceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := eventKey(sinceEventID + 1)
	r := util.BytesPrefix([]byte(prefixEvent))
	r.Start = start
	iter := s.db.NewIterator(r, nil)
	defer iter.Release()
	out := make([]*admin.AdminServiceEvent, 0)
	for iter.Next() {
		var evt admin.AdminServiceEvent
		if err := json.Unmarshal(iter.Value(), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if managementType != "" && evt.ManagementType != managementType {
			continue
		}
		cp := evt
		out = append(out, &cp)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RecordServiceIntent(circuitID, serviceID, intent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(intentKey(circuitID, serviceID), []byte(intent), nil)
}

func (s *Store) ClearServiceIntent(circuitID, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(intentKey(circuitID, serviceID), nil)
}

func (s *Store) ListServiceIntents() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixIntent)), nil)
	defer iter.Release()
	out := make(map[string]string)
	for iter.Next() {
		key := string(iter.Key())[len(prefixIntent):]
		out[key] = string(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ admin.AdminStore = (*Store)(nil)
