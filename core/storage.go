package core

// storage.go implements the ledger store: a typed wrapper over an ordered
// key-value engine. The engine itself is a WAL-backed in-memory map: state
// lives in memory, every mutation is appended to the WAL first, and the WAL
// is replayed in full on open.

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// walRecord is one line of the write-ahead log: a Put (Tombstone=false) or a
// Delete (Tombstone=true) against the generic key space.
type walRecord struct {
	Key       string `json:"k"`
	Value     []byte `json:"v,omitempty"`
	Tombstone bool   `json:"d,omitempty"`
}

// DeviceSession records a device's current session token and the time it was
// issued, used for the 24h-absolute / 5m-inactivity expiry rule.
type DeviceSession struct {
	Token     string `json:"token"`
	IssuedAt  uint64 `json:"issued_at"`
}

// Store is the ledger's persistent key-value store plus the typed registries
// layered over it. All exported methods are safe for concurrent use;
// mutation always takes the single store-wide lock.
type Store struct {
	mu  sync.Mutex
	dir string
	wal *os.File

	kv map[string][]byte

	// Fast-path in-memory indices kept in sync with kv; rebuilt on replay.
	blocksByHeight map[uint64]*Block
	txByHash       map[string]*Transaction
	deviceIDs      []string // device_ids_registry
	sessionKeys    []string // session_keys_registry
	txHashes       []string // transaction_hashes_registry
}

// OpenStore creates or reopens a ledger store rooted at dir, replaying its
// WAL (dir/ledger.wal) to rebuild in-memory state.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrStorage, dir, err)
	}
	walPath := filepath.Join(dir, "ledger.wal")
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %v", ErrStorage, err)
	}

	s := &Store{
		dir:            dir,
		wal:            f,
		kv:             make(map[string][]byte),
		blocksByHeight: make(map[uint64]*Block),
		txByHash:       make(map[string]*Transaction),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%w: wal unmarshal: %v", ErrStorage, err)
		}
		if rec.Tombstone {
			delete(s.kv, rec.Key)
		} else {
			s.kv[rec.Key] = rec.Value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: wal scan: %v", ErrStorage, err)
	}
	s.rebuildIndices()
	return s, nil
}

// Close releases the underlying WAL file handle.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

func (s *Store) rebuildIndices() {
	for k, v := range s.kv {
		switch {
		case strings.HasPrefix(k, "block:"):
			var b Block
			if json.Unmarshal(v, &b) == nil {
				s.blocksByHeight[b.Header.Height] = &b
			}
		case strings.HasPrefix(k, "tx:"):
			var tx Transaction
			if json.Unmarshal(v, &tx) == nil {
				s.txByHash[tx.Hash] = &tx
			}
		}
	}
	s.deviceIDs = s.decodeList("device_ids_registry")
	s.sessionKeys = s.decodeList("session_keys_registry")
	s.txHashes = s.decodeList("transaction_hashes_registry")
}

func (s *Store) decodeList(key string) []string {
	raw, ok := s.kv[key]
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// ---------------------------------------------------------------------
// generic engine operations
// ---------------------------------------------------------------------

// putLocked writes key=val to the in-memory map and appends a WAL record.
// Callers must hold s.mu.
func (s *Store) putLocked(key string, val []byte) error {
	rec := walRecord{Key: key, Value: val}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", ErrStorage, err)
	}
	if _, err := s.wal.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: write wal: %v", ErrStorage, err)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %v", ErrStorage, err)
	}
	s.kv[key] = val
	return nil
}

func (s *Store) deleteLocked(key string) error {
	rec := walRecord{Key: key, Tombstone: true}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode tombstone: %v", ErrStorage, err)
	}
	if _, err := s.wal.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: write wal: %v", ErrStorage, err)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %v", ErrStorage, err)
	}
	delete(s.kv, key)
	return nil
}

// getLocked reads the raw bytes stored at key. Callers must hold s.mu.
func (s *Store) getLocked(key string) ([]byte, bool) {
	v, ok := s.kv[key]
	return v, ok
}

// Get returns the raw bytes stored at key, if any.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

// Put writes raw bytes at key.
func (s *Store) Put(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, val)
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

// getU64Locked decodes a little-endian uint64 stored at key. Absent keys
// return (0, false). Callers must hold s.mu.
func (s *Store) getU64Locked(key string) (uint64, bool) {
	raw, ok := s.getLocked(key)
	if !ok || len(raw) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(raw), true
}

// GetU64 decodes a little-endian uint64 stored at key. Absent keys return
// (0, false).
func (s *Store) GetU64(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getU64Locked(key)
}

// SetU64 stores n as a little-endian uint64 at key.
func (s *Store) SetU64(key string, n uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return s.Put(key, buf)
}

// ---------------------------------------------------------------------
// registry maintenance — add-if-absent / remove, rewritten wholesale.
// ---------------------------------------------------------------------

func (s *Store) addToRegistryLocked(regKey string, list *[]string, id string) error {
	for _, existing := range *list {
		if existing == id {
			return nil
		}
	}
	*list = append(*list, id)
	data, err := json.Marshal(*list)
	if err != nil {
		return fmt.Errorf("%w: encode registry %s: %v", ErrStorage, regKey, err)
	}
	return s.putLocked(regKey, data)
}

func (s *Store) removeFromRegistryLocked(regKey string, list *[]string, id string) error {
	out := (*list)[:0:0]
	for _, existing := range *list {
		if existing != id {
			out = append(out, existing)
		}
	}
	*list = out
	data, err := json.Marshal(*list)
	if err != nil {
		return fmt.Errorf("%w: encode registry %s: %v", ErrStorage, regKey, err)
	}
	return s.putLocked(regKey, data)
}

// ---------------------------------------------------------------------
// balances
// ---------------------------------------------------------------------

// GetBalance returns an address's balance in micro-units; an absent key
// returns 0, never an error.
func (s *Store) GetBalance(addr Address) uint64 {
	n, _ := s.GetU64(string(addr))
	return n
}

// SetBalance overwrites an address's balance in micro-units.
func (s *Store) SetBalance(addr Address, n uint64) error {
	return s.SetU64(string(addr), n)
}

// AddBalance adds delta (which may conceptually be negative; callers pass
// the already-computed new balance via SetBalance for debits so the
// insufficient-funds check and the write stay atomic under the store lock).
func (s *Store) AddBalance(addr Address, delta uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.getU64Locked(string(addr))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, cur+delta)
	return s.putLocked(string(addr), buf)
}

// Transfer moves amount+fee from `from` to `to` (fee is burned, i.e. simply
// debited), re-checking the balance under the same lock that performs the
// debit to avoid a check-then-act race on the balance.
func (s *Store) Transfer(from, to Address, amount, fee uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, _ := s.getU64Locked(string(from))
	need := amount + fee
	if bal < need {
		return fmt.Errorf("%w: insufficient balance: need %d, have %d", ErrValidation, need, bal)
	}
	fromBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(fromBuf, bal-need)
	if err := s.putLocked(string(from), fromBuf); err != nil {
		return err
	}
	toBal, _ := s.getU64Locked(string(to))
	toBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(toBuf, toBal+amount)
	return s.putLocked(string(to), toBuf)
}

// ---------------------------------------------------------------------
// blocks
// ---------------------------------------------------------------------

// StoreBlock writes block:{height}, appends its transactions (idempotently)
// and advances latest_height to max(current, block.height).
func (s *Store) StoreBlock(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: encode block: %v", ErrStorage, err)
	}
	key := fmt.Sprintf("block:%d", b.Header.Height)
	if err := s.putLocked(key, data); err != nil {
		return err
	}
	cp := *b
	s.blocksByHeight[b.Header.Height] = &cp

	for _, tx := range b.Transactions {
		if err := s.addTransactionLocked(tx); err != nil {
			return err
		}
	}

	cur, _ := s.getU64Locked("latest_height")
	if b.Header.Height > cur {
		if err := s.setU64Locked("latest_height", b.Header.Height); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setU64Locked(key string, n uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return s.putLocked(key, buf)
}

// LatestHeight returns the highest block height written so far.
func (s *Store) LatestHeight() uint64 {
	n, _ := s.GetU64("latest_height")
	return n
}

// GetBlockByHeight returns the block at height h, if any.
func (s *Store) GetBlockByHeight(h uint64) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocksByHeight[h]
	return b, ok
}

// GetLatestBlocks returns up to limit blocks, newest first. If the store
// holds fewer than limit blocks (including just genesis), all of them are
// returned rather than an empty/short-circuited list.
func (s *Store) GetLatestBlocks(limit int) []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	heights := make([]uint64, 0, len(s.blocksByHeight))
	for h := range s.blocksByHeight {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] > heights[j] })
	if limit > 0 && limit < len(heights) {
		heights = heights[:limit]
	}
	out := make([]*Block, 0, len(heights))
	for _, h := range heights {
		out = append(out, s.blocksByHeight[h])
	}
	return out
}

// ---------------------------------------------------------------------
// transactions
// ---------------------------------------------------------------------

// AddTransaction stores a transaction idempotently: re-adding the same hash
// does not increment tx_count or duplicate the registry entry.
func (s *Store) AddTransaction(tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTransactionLocked(tx)
}

func (s *Store) addTransactionLocked(tx *Transaction) error {
	if _, exists := s.txByHash[tx.Hash]; exists {
		return nil
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("%w: encode tx: %v", ErrStorage, err)
	}
	if err := s.putLocked("tx:"+tx.Hash, data); err != nil {
		return err
	}
	cp := *tx
	s.txByHash[tx.Hash] = &cp

	if err := s.addToRegistryLocked("transaction_hashes_registry", &s.txHashes, tx.Hash); err != nil {
		return err
	}
	cur, _ := s.getU64Locked("tx_count")
	return s.setU64Locked("tx_count", cur+1)
}

// GetTransaction looks up a transaction by hash.
func (s *Store) GetTransaction(hash string) (*Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txByHash[hash]
	return tx, ok
}

// TransactionCount returns tx_count, kept equal to both
// len(transaction_hashes_registry) and the number of distinct tx:{h} keys.
func (s *Store) TransactionCount() uint64 {
	n, _ := s.GetU64("tx_count")
	return n
}

// GetLatestTransactions loads every registry entry, sorts by timestamp
// descending and truncates to limit.
func (s *Store) GetLatestTransactions(limit int) []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Transaction, 0, len(s.txByHash))
	for _, tx := range s.txByHash {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// TransactionsForAddress filters the full transaction set by from/to match
// and optional kind filter, newest first.
func (s *Store) TransactionsForAddress(addr Address, kind *TxKind, limit int) []*Transaction {
	s.mu.Lock()
	matches := make([]*Transaction, 0)
	for _, tx := range s.txByHash {
		if tx.From != string(addr) && tx.To != string(addr) {
			continue
		}
		if kind != nil && tx.Kind != *kind {
			continue
		}
		matches = append(matches, tx)
	}
	s.mu.Unlock()
	sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp > matches[j].Timestamp })
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}

// ---------------------------------------------------------------------
// device state
// ---------------------------------------------------------------------

// SetDeviceAddress maps a device id to its wallet address, registering the
// id in device_ids_registry if this is the first time it's seen.
func (s *Store) SetDeviceAddress(deviceID string, addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putLocked("device_addr:"+deviceID, []byte(addr)); err != nil {
		return err
	}
	return s.addToRegistryLocked("device_ids_registry", &s.deviceIDs, deviceID)
}

// GetDeviceAddress returns the wallet address mapped to a device id.
func (s *Store) GetDeviceAddress(deviceID string) (Address, bool) {
	raw, ok := s.Get("device_addr:" + deviceID)
	if !ok {
		return "", false
	}
	return Address(raw), true
}

// GetDeviceIDByAddress performs the reverse lookup in O(n) over the device
// registry, 's documented complexity.
func (s *Store) GetDeviceIDByAddress(addr Address) (string, bool) {
	s.mu.Lock()
	ids := append([]string(nil), s.deviceIDs...)
	s.mu.Unlock()
	for _, id := range ids {
		if a, ok := s.GetDeviceAddress(id); ok && a == addr {
			return id, true
		}
	}
	return "", false
}

// GetAllDeviceAddresses returns every registered device id -> address pair.
func (s *Store) GetAllDeviceAddresses() map[string]Address {
	s.mu.Lock()
	ids := append([]string(nil), s.deviceIDs...)
	s.mu.Unlock()
	out := make(map[string]Address, len(ids))
	for _, id := range ids {
		if a, ok := s.GetDeviceAddress(id); ok {
			out[id] = a
		}
	}
	return out
}

// SetDeviceSession stores a device's session token and issue timestamp,
// registering the id in session_keys_registry.
func (s *Store) SetDeviceSession(deviceID, token string, issuedAt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(DeviceSession{Token: token, IssuedAt: issuedAt})
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", ErrStorage, err)
	}
	if err := s.putLocked("device_session:"+deviceID, data); err != nil {
		return err
	}
	return s.addToRegistryLocked("session_keys_registry", &s.sessionKeys, deviceID)
}

// GetDeviceSession returns a device's current session record.
func (s *Store) GetDeviceSession(deviceID string) (DeviceSession, bool) {
	raw, ok := s.Get("device_session:" + deviceID)
	if !ok {
		return DeviceSession{}, false
	}
	var rec DeviceSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return DeviceSession{}, false
	}
	return rec, true
}

// RemoveDevice deletes every per-device key and drops the id from both
// registries it participates in.
func (s *Store) RemoveDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range []string{
		"device_addr:" + deviceID,
		"device_session:" + deviceID,
		"device_pin:" + deviceID,
		"device_failed_attempts:" + deviceID,
		"device_lockout:" + deviceID,
	} {
		if _, ok := s.kv[key]; ok {
			if err := s.deleteLocked(key); err != nil {
				return err
			}
		}
	}
	if err := s.removeFromRegistryLocked("device_ids_registry", &s.deviceIDs, deviceID); err != nil {
		return err
	}
	return s.removeFromRegistryLocked("session_keys_registry", &s.sessionKeys, deviceID)
}

// SetDevicePIN stores a device's PIN hash.
func (s *Store) SetDevicePIN(deviceID string, pinHash []byte) error {
	return s.Put("device_pin:"+deviceID, pinHash)
}

// IncrementFailedAttempts bumps and returns a device's failed-PIN counter.
func (s *Store) IncrementFailedAttempts(deviceID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "device_failed_attempts:" + deviceID
	cur, _ := s.getU64Locked(key)
	_ = s.setU64Locked(key, cur+1)
	return cur + 1
}

// ClearFailedAttempts resets a device's failed-PIN counter to zero.
func (s *Store) ClearFailedAttempts(deviceID string) error {
	return s.SetU64("device_failed_attempts:"+deviceID, 0)
}

// SetLockoutUntil stores the unix timestamp until which a device is locked.
func (s *Store) SetLockoutUntil(deviceID string, until uint64) error {
	return s.SetU64("device_lockout:"+deviceID, until)
}

// LockoutUntil returns the unix timestamp a device is locked out until (0 if
// never locked).
func (s *Store) LockoutUntil(deviceID string) uint64 {
	n, _ := s.GetU64("device_lockout:" + deviceID)
	return n
}

// AllActiveDeviceIDs returns a snapshot of the device_ids_registry.
func (s *Store) AllActiveDeviceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deviceIDs...)
}

// CleanupOldSessions walks the session registry, deleting every device
// whose session timestamp is older than now-maxAgeSecs, and rewrites the
// registry.
func (s *Store) CleanupOldSessions(now, maxAgeSecs uint64) error {
	s.mu.Lock()
	ids := append([]string(nil), s.sessionKeys...)
	s.mu.Unlock()

	var stale []string
	for _, id := range ids {
		rec, ok := s.GetDeviceSession(id)
		if !ok {
			continue
		}
		if now > rec.IssuedAt && now-rec.IssuedAt > maxAgeSecs {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if err := s.RemoveDevice(id); err != nil {
			return err
		}
		logrus.WithField("device_id", id).Info("cleaned up stale session")
	}
	return nil
}
