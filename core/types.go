package core

// types.go centralises the shared value types referenced across the core
// package: plain data, no behaviour beyond small deterministic helpers.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Hash is a 32-byte digest, used for block hashes and transaction hashes.
type Hash [32]byte

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) Short() string {
	s := h.Hex()
	if len(s) <= 8 {
		return s
	}
	return fmt.Sprintf("%s..%s", s[:4], s[len(s)-4:])
}

func (h Hash) IsZero() bool { return h == Hash{} }

func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	if len(b) != len(h) {
		return Hash{}, fmt.Errorf("hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Address is the 43-character wire/storage address format:
// "fvc" + 36 lowercase hex chars + "emyl".
type Address string

const (
	addressPrefix = "fvc"
	addressSuffix = "emyl"
	addressLen    = 43
	addressBodyLen = 36

	// EcosystemAddress receives the whole block reward when zero devices
	// are active. When any device is active it receives nothing: SplitReward
	// takes no ecosystem cut.
	EcosystemAddress Address = "fvc00000000000000000000000000000000ec00emyl"

	// MiningRewardSender and GenesisSender are the synthetic "from" values
	// used by reward and genesis transactions.
	MiningRewardSender = "Mining-Reward"
	GenesisSender      = "Genesis"
)

var addressBodyRE = regexp.MustCompile(`^[0-9a-f]{36}$`)

// Validate reports whether addr has the exact address shape: prefix,
// suffix and a 36-character lowercase-hex body.
func (a Address) Validate() bool {
	s := string(a)
	if len(s) != addressLen {
		return false
	}
	if s[:len(addressPrefix)] != addressPrefix {
		return false
	}
	if s[len(s)-len(addressSuffix):] != addressSuffix {
		return false
	}
	body := s[len(addressPrefix) : len(s)-len(addressSuffix)]
	return len(body) == addressBodyLen && addressBodyRE.MatchString(body)
}

func (a Address) String() string { return string(a) }

// TxKind enumerates the transaction categories the ledger records.
type TxKind string

const (
	TxTransfer       TxKind = "transfer"
	TxMiningReward   TxKind = "mining_reward"
	TxGenesis        TxKind = "genesis"
	TxDeviceTransfer TxKind = "device_transfer"
)

// Transaction is the wire/storage representation of a single value
// movement. Amounts are always in micro-units (6 decimals, 1 FVC =
// 1_000_000 micro-units).
type Transaction struct {
	Hash        string `json:"hash"`
	From        string `json:"from"` // Address, "Mining-Reward" or "Genesis"
	To          string `json:"to"`   // Address
	Amount      uint64 `json:"amount"`
	Timestamp   uint64 `json:"timestamp"`
	Kind        TxKind `json:"kind"`
	BlockHeight uint64 `json:"block_height"`
}

// BlockHeader carries everything about a block except its transaction list.
type BlockHeader struct {
	Height           uint64 `json:"height"`
	Hash             Hash   `json:"hash"`
	ParentHash       Hash   `json:"parent_hash"`
	Timestamp        uint64 `json:"timestamp"`
	Miner            string `json:"miner"`
	Nonce            uint64 `json:"nonce"`
	Difficulty       uint32 `json:"difficulty"`
	TransactionCount uint64 `json:"transaction_count"`
	Size             uint64 `json:"size"`
}

// Block is an immutable, already-sealed block.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
}

func (b *Block) Height() uint64      { return b.Header.Height }
func (b *Block) Hash() Hash          { return b.Header.Hash }
func (b *Block) ParentHash() Hash    { return b.Header.ParentHash }
func (b *Block) Timestamp() uint64   { return b.Header.Timestamp }

// Validate checks structural invariants that do not require ledger context
// (height continuity against a parent is checked by callers that know the
// parent).
func (b *Block) Validate() error {
	if b.Header.TransactionCount != uint64(len(b.Transactions)) {
		return fmt.Errorf("%w: transaction_count=%d, len(transactions)=%d",
			ErrValidation, b.Header.TransactionCount, len(b.Transactions))
	}
	for _, tx := range b.Transactions {
		if tx.Timestamp != b.Header.Timestamp {
			return fmt.Errorf("%w: tx %s timestamp %d != block timestamp %d",
				ErrValidation, tx.Hash, tx.Timestamp, b.Header.Timestamp)
		}
		if tx.BlockHeight != b.Header.Height {
			return fmt.Errorf("%w: tx %s block_height %d != block height %d",
				ErrValidation, tx.Hash, tx.BlockHeight, b.Header.Height)
		}
	}
	return nil
}

// EncodeJSON/DecodeJSON round-trip a Block through its canonical JSON
// encoding, the same encoding the ledger stores. EncodeJSON is used for
// block hashing and size accounting.
func (b *Block) EncodeJSON() ([]byte, error) { return json.Marshal(b) }

func DecodeBlockJSON(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// nowUnix is the single wall-clock seam used by miner/device code so that
// tests can stub it out without a clock-injection library.
var nowUnix = func() uint64 { return uint64(time.Now().Unix()) }

var nowUnixMilli = func() int64 { return time.Now().UnixMilli() }
