package core

// miner.go implements the ecosystem miner: a 5-second-tick background task
// that mines a block, splits the reward across active devices, and
// publishes the block into the ledger and the consensus DAG.

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// TickInterval is the ecosystem miner's fixed tick period.
const TickInterval = 5 * time.Second

// Miner is the per-node ecosystem miner.
type Miner struct {
	store      *Store
	devices    *DeviceRegistry
	consensus  *Consensus
	minerAddr  Address

	running int32 // atomic
	stop    int32 // atomic, set by Stop()

	history SmartRateHistory
}

// NewMiner creates a miner that writes blocks to store, reads active devices
// from devices, and publishes sealed blocks into consensus.
func NewMiner(store *Store, devices *DeviceRegistry, consensus *Consensus, minerAddr Address) *Miner {
	return &Miner{
		store:     store,
		devices:   devices,
		consensus: consensus,
		minerAddr: minerAddr,
	}
}

// IsRunning reports whether the miner's tick loop is currently active.
func (m *Miner) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

// Stop requests the tick loop exit at the next tick boundary. Cooperative:
// in-flight proof-of-work is not preempted.
func (m *Miner) Stop() {
	atomic.StoreInt32(&m.stop, 1)
}

// Run blocks, ticking every TickInterval until Stop is called or ctx-less
// caller wants to stop it; it is meant to be launched in its own goroutine.
func (m *Miner) Run() {
	atomic.StoreInt32(&m.running, 1)
	atomic.StoreInt32(&m.stop, 0)
	defer atomic.StoreInt32(&m.running, 0)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for range ticker.C {
		if atomic.LoadInt32(&m.stop) == 1 {
			return
		}
		if err := m.tick(); err != nil {
			logrus.WithError(err).Warn("miner: tick failed")
		}
	}
}

// tick performs one mining cycle: mine, split the reward, seal the block,
// publish it, and log. It logs and continues past per-device reward
// errors rather than aborting the whole tick.
func (m *Miner) tick() error {
	ts := nowUnix()

	// Step 1: mine the block digest.
	data := append([]byte(m.minerAddr), timestampLE(ts)...)
	nonce, digest := Mine(data, DefaultMiningDifficulty, DefaultFractalLevels)

	// Step 3: advance height.
	prevHeight := m.store.LatestHeight()
	h := prevHeight + 1

	// Step 4/5: split the reward across active devices.
	active := m.devices.ActiveDevices()
	reward := BlockReward(h)
	var rewardTxs []*Transaction

	if len(active) > 0 {
		perDevice, _ := SplitReward(reward, len(active))
		for deviceID, addr := range active {
			tx := &Transaction{
				Hash:        rewardTxHash(h, ts, deviceID),
				From:        MiningRewardSender,
				To:          string(addr),
				Amount:      perDevice,
				Timestamp:   ts,
				Kind:        TxMiningReward,
				BlockHeight: h,
			}
			if err := m.store.AddTransaction(tx); err != nil {
				logrus.WithError(err).WithField("device_id", deviceID).Warn("miner: reward tx failed")
				continue
			}
			if err := m.store.AddBalance(addr, perDevice); err != nil {
				logrus.WithError(err).WithField("device_id", deviceID).Warn("miner: balance update failed")
				continue
			}
			rewardTxs = append(rewardTxs, tx)
		}
	} else {
		tx := &Transaction{
			Hash:        rewardTxHash(h, ts, "ecosystem"),
			From:        MiningRewardSender,
			To:          string(EcosystemAddress),
			Amount:      reward,
			Timestamp:   ts,
			Kind:        TxMiningReward,
			BlockHeight: h,
		}
		if err := m.store.AddTransaction(tx); err != nil {
			return fmt.Errorf("%w: ecosystem reward tx: %v", ErrStorage, err)
		}
		if err := m.store.AddBalance(EcosystemAddress, reward); err != nil {
			return fmt.Errorf("%w: ecosystem balance update: %v", ErrStorage, err)
		}
		rewardTxs = append(rewardTxs, tx)
	}

	// Step 6: build the block header, chaining the real previous block's
	// hash as the parent rather than a placeholder.
	var parentHash Hash
	if prev, ok := m.store.GetBlockByHeight(prevHeight); ok {
		parentHash = prev.Header.Hash
	}

	header := BlockHeader{
		Height:           h,
		ParentHash:       parentHash,
		Timestamp:        ts,
		Miner:            string(m.minerAddr),
		Nonce:            nonce,
		Difficulty:       DefaultMiningDifficulty,
		TransactionCount: uint64(len(rewardTxs)),
	}
	block := &Block{Header: header, Transactions: rewardTxs}
	block.Header.Hash = digest.Digest
	encoded, err := block.EncodeJSON()
	if err != nil {
		return fmt.Errorf("%w: encode block: %v", ErrStorage, err)
	}
	block.Header.Size = uint64(len(encoded))

	// Step 7: persist.
	if err := m.store.StoreBlock(block); err != nil {
		return fmt.Errorf("%w: store block %d: %v", ErrStorage, h, err)
	}

	// Step 8: publish into the DAG.
	m.consensus.AddBlock(block, m.consensus.TipHashes())

	// Step 9: smart-rate trend bookkeeping and logging.
	rate := SmartRate(SmartRateInputs{
		Height:           h,
		TransactionCount: m.store.TransactionCount(),
		ActiveNodes:      uint64(len(active)) + 1,
		AvgBlockTime:     float64(TargetBlockTimeSecs),
	})
	m.history.Push(rate)

	logrus.WithFields(logrus.Fields{
		"height":       h,
		"reward_txs":   len(rewardTxs),
		"total_txs":    m.store.TransactionCount(),
		"smart_rate":   rate,
	}).Info("miner: sealed block")

	return nil
}

// SmartRateTrend returns the average of recently observed smart-rate
// samples.
func (m *Miner) SmartRateTrend() float64 {
	return m.history.Average()
}

func timestampLE(ts uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, ts)
	return buf
}

// rewardTxHash builds a reward transaction's hash from
// ("mining", height, timestamp, device-id prefix, random).
func rewardTxHash(height, ts uint64, deviceIDOrLabel string) string {
	prefix := deviceIDOrLabel
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	fd := FractalHash([]byte(fmt.Sprintf("mining:%d:%d:%s:%d", height, ts, prefix, rand.Int63())), 1)
	return Hash(fd.Digest).Hex()
}
