package core

// consensus.go implements the block DAG, validator energy map, pending-tx
// pool and a placeholder voting/finality rule: constants up top, a struct
// owning maps guarded by a single mutex, a constructor, and background-loop
// methods driven by tickers.

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ZeroHash is the all-zero parent hash used by the genesis block.
var ZeroHash Hash

// Vote is the placeholder, explicitly-stubbed structure produced by
// vote_on_block (this "placeholder finality").
type Vote struct {
	BlockHash Hash
	Voter     string
}

// BlockDAG is the in-memory directed acyclic graph of blocks.
type BlockDAG struct {
	blocks map[Hash]*Block
	edges  map[Hash][]Hash // parent -> children
	tips   map[Hash]struct{}
}

func newBlockDAG() *BlockDAG {
	return &BlockDAG{
		blocks: make(map[Hash]*Block),
		edges:  make(map[Hash][]Hash),
		tips:   make(map[Hash]struct{}),
	}
}

func (d *BlockDAG) addBlock(b *Block, parents []Hash) {
	h := b.Header.Hash
	d.blocks[h] = b
	d.tips[h] = struct{}{}
	for _, p := range parents {
		d.edges[p] = append(d.edges[p], h)
		delete(d.tips, p)
	}
}

func (d *BlockDAG) has(h Hash) bool {
	_, ok := d.blocks[h]
	return ok
}

// Tips returns the current tip hashes (blocks with no children).
func (d *BlockDAG) Tips() []Hash {
	out := make([]Hash, 0, len(d.tips))
	for h := range d.tips {
		out = append(out, h)
	}
	return out
}

// Consensus is the per-node consensus core.
type Consensus struct {
	mu sync.Mutex

	dag             *BlockDAG
	validators      map[string]float64 // peer_id -> vortex_energy
	finalized       map[Hash]struct{}
	votes           map[Hash]map[string]struct{}
	pending         []*Transaction
	energyThreshold float64
	fractalLevels   int

	selectedLastRound map[string]bool
}

// NewConsensus creates an uninitialized consensus core.
func NewConsensus(energyThreshold float64, fractalLevels int) *Consensus {
	return &Consensus{
		dag:               newBlockDAG(),
		validators:        make(map[string]float64),
		finalized:         make(map[Hash]struct{}),
		votes:             make(map[Hash]map[string]struct{}),
		energyThreshold:   energyThreshold,
		fractalLevels:     fractalLevels,
		selectedLastRound: make(map[string]bool),
	}
}

// Initialize creates the all-zero-hash genesis block, marks it finalized,
// and sets genesisValidator's energy to 1.0.
func (c *Consensus) Initialize(genesisValidator string) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	genesis := &Block{
		Header: BlockHeader{
			Height:     0,
			Hash:       ZeroHash,
			ParentHash: ZeroHash,
			Miner:      genesisValidator,
		},
	}
	c.dag.addBlock(genesis, nil)
	c.finalized[ZeroHash] = struct{}{}
	c.validators[genesisValidator] = 1.0
	return genesis
}

// SelectValidators enumerates candidates with energy >= threshold, sorted
// descending, and returns the top k (k = 3 + ceil(log_1.585(n)
// * 1.585), clamped to [1, n]).
func (c *Consensus) SelectValidators() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var candidates []string
	for peer, energy := range c.validators {
		if energy >= c.energyThreshold {
			candidates = append(candidates, peer)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return c.validators[candidates[i]] > c.validators[candidates[j]]
	})

	n := len(candidates)
	if n == 0 {
		return nil
	}
	k := 3 + int(math.Ceil(math.Log(float64(n))/math.Log(1.585)*1.585))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	c.selectedLastRound = make(map[string]bool, k)
	for _, p := range candidates[:k] {
		c.selectedLastRound[p] = true
	}
	return candidates[:k]
}

// WasSelected reports whether peer was in the most recent SelectValidators
// result, used by the energy-update background loop.
func (c *Consensus) WasSelected(peer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLastRound[peer]
}

// SubmitTransaction enqueues a transaction for inclusion in the next
// proposed block.
func (c *Consensus) SubmitTransaction(tx *Transaction) {
	c.mu.Lock()
	c.pending = append(c.pending, tx)
	c.mu.Unlock()
}

// ProposeBlock drains the pending-tx queue into a new block whose parents
// are all current DAG tips.
func (c *Consensus) ProposeBlock(validatorID string, height uint64, timestamp uint64) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	energy, ok := c.validators[validatorID]
	if !ok || energy < c.energyThreshold {
		return nil, fmt.Errorf("%w: validator %s not eligible", ErrConsensus, validatorID)
	}

	parents := c.dag.Tips()
	var parentHash Hash
	if len(parents) > 0 {
		parentHash = parents[0]
	}

	txs := c.pending
	c.pending = nil

	header := BlockHeader{
		Height:           height,
		ParentHash:       parentHash,
		Timestamp:        timestamp,
		Miner:            validatorID,
		Difficulty:       DefaultMiningDifficulty,
		TransactionCount: uint64(len(txs)),
	}
	block := &Block{Header: header, Transactions: txs}

	data, err := block.EncodeJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: encode block for hashing: %v", ErrConsensus, err)
	}
	digest := FractalHash(data, c.fractalLevels)
	block.Header.Hash = digest.Digest
	block.Header.Size = uint64(len(data))

	c.dag.addBlock(block, parents)
	return block, nil
}

// ValidateBlock checks that the proposing validator is in the set and
// eligible, every parent is present, and the recomputed digest equals
// block.hash.
func (c *Consensus) ValidateBlock(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	energy, ok := c.validators[b.Header.Miner]
	if !ok {
		return fmt.Errorf("%w: unknown validator %s", ErrConsensus, b.Header.Miner)
	}
	if energy < c.energyThreshold {
		return fmt.Errorf("%w: insufficient energy for validator %s", ErrConsensus, b.Header.Miner)
	}
	if b.Header.Height > 0 && !c.dag.has(b.Header.ParentHash) {
		return fmt.Errorf("%w: unknown parent %s", ErrConsensus, b.Header.ParentHash.Hex())
	}

	recomputed := *b
	recomputed.Header.Hash = Hash{}
	recomputed.Header.Size = 0
	data, err := recomputed.EncodeJSON()
	if err != nil {
		return fmt.Errorf("%w: encode block for validation: %v", ErrConsensus, err)
	}
	digest := FractalHash(data, c.fractalLevels)
	if digest.Digest != b.Header.Hash {
		return fmt.Errorf("%w: digest mismatch for block %d", ErrConsensus, b.Header.Height)
	}
	return nil
}

// AddBlock inserts an externally-validated block into the DAG (used by the
// ecosystem miner to publish its own freshly-sealed blocks).
func (c *Consensus) AddBlock(b *Block, parents []Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dag.addBlock(b, parents)
}

// VoteOnBlock produces an unforgeable-per-threat-model vote for an existing
// block. This is an explicit placeholder : it does not
// verify any cryptographic signature, and a real vote-counting module must
// replace it without breaking this call shape.
func (c *Consensus) VoteOnBlock(hash Hash, voter string) (Vote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dag.has(hash) {
		return Vote{}, fmt.Errorf("%w: block %s not found", ErrConsensus, hash.Hex())
	}
	if c.votes[hash] == nil {
		c.votes[hash] = make(map[string]struct{})
	}
	c.votes[hash][voter] = struct{}{}
	return Vote{BlockHash: hash, Voter: voter}, nil
}

// FinalizeBlocks marks as finalized every block with >= ceil(2/3*|validators|)
// votes. This is a placeholder counting rule, not Byzantine
// fault tolerant.
func (c *Consensus) FinalizeBlocks() []Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := int(math.Ceil(2.0 / 3.0 * float64(len(c.validators))))
	if threshold < 1 {
		threshold = 1
	}

	var newlyFinalized []Hash
	for hash, voters := range c.votes {
		if _, already := c.finalized[hash]; already {
			continue
		}
		if len(voters) >= threshold {
			c.finalized[hash] = struct{}{}
			newlyFinalized = append(newlyFinalized, hash)
		}
	}
	return newlyFinalized
}

// UpdateEnergyDistribution applies a batch of validator energy updates,
// trusting each update's signature as a placeholder.
func (c *Consensus) UpdateEnergyDistribution(updates map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for peer, energy := range updates {
		c.validators[peer] = energy
	}
}

// UpdateOwnEnergy applies the background-loop energy update rule: +0.1 if
// selected as validator last round, else multiply by 0.99; clamp to
// [0.1, 10.0].
func (c *Consensus) UpdateOwnEnergy(peer string, wasSelected bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	energy := c.validators[peer]
	if energy == 0 {
		energy = 1.0
	}
	if wasSelected {
		energy += 0.1
	} else {
		energy *= 0.99
	}
	if energy < 0.1 {
		energy = 0.1
	}
	if energy > 10.0 {
		energy = 10.0
	}
	c.validators[peer] = energy
	return energy
}

// Energy returns a validator's current vortex energy score.
func (c *Consensus) Energy(peer string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validators[peer]
}

// ValidatorCount returns the number of registered validators.
func (c *Consensus) ValidatorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.validators)
}

// TipHashes returns a snapshot of the current DAG tip set.
func (c *Consensus) TipHashes() []Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dag.Tips()
}

// IsFinalized reports whether a block hash has been finalized.
func (c *Consensus) IsFinalized(h Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.finalized[h]
	return ok
}

// logConsensusError logs a recoverable background-loop error and lets the
// caller continue; background loops never crash the process.
func logConsensusError(op string, err error) {
	if err != nil {
		logrus.WithField("op", op).WithError(err).Warn("consensus: recoverable error")
	}
}
