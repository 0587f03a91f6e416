package core

// reward.go implements the halving schedule, difficulty retarget and
// smart-rate metric, built around micro-unit uint64 balances since this
// chain's supply fits comfortably in a uint64.

import (
	"math"
)

const (
	// InitialBlockReward is 6.25 FVC expressed in micro-units.
	InitialBlockReward uint64 = 6_250_000

	// HalvingInterval is the number of blocks between reward halvings.
	HalvingInterval uint64 = 12_614_400

	// MaxHalvings is the number of halving epochs after which the reward
	// is permanently zero.
	MaxHalvings uint64 = 32

	// TargetBlockTimeSecs is the target time between blocks.
	TargetBlockTimeSecs uint64 = 5

	// RetargetWindow is the number of blocks between difficulty retargets.
	RetargetWindow = 2023

	// DefaultMiningDifficulty is the difficulty used by the ecosystem miner
	// (this step 1): 2 leading zero bytes.
	DefaultMiningDifficulty = 2

	// DefaultFractalLevels is the mixing depth used by the ecosystem miner.
	DefaultFractalLevels = 3

	// DefaultTransferFee is charged on every wallet-initiated transfer.
	DefaultTransferFee uint64 = 1000
)

// BlockReward returns the miner reward in micro-units for a block at the
// given height (reward(h) == initial >> (h/HalvingInterval)
// for h < 32*HalvingInterval, else 0).
func BlockReward(height uint64) uint64 {
	epoch := height / HalvingInterval
	if epoch >= MaxHalvings {
		return 0
	}
	return InitialBlockReward >> epoch
}

// SplitReward divides a block reward across M active devices and the
// ecosystem address: when M > 0 the 10% ecosystem cut does not apply, the
// full block reward is split evenly (floor(reward/M)) among active
// devices, with any remainder going unclaimed; only when M == 0 does the
// entire reward go to the ecosystem address.
func SplitReward(reward uint64, activeDevices int) (perDevice uint64, ecosystem uint64) {
	if activeDevices <= 0 {
		return 0, reward
	}
	perDevice = reward / uint64(activeDevices)
	return perDevice, 0
}

// RetargetDifficulty implements a 2023-block retarget window:
// factor = expected/actual, clamped to [1/4, 4], new = max(1, round(cur*factor)).
// blockTimes must contain RetargetWindow samples, each already validated to
// lie in (0, 10*target) by the caller.
func RetargetDifficulty(current uint32, blockTimes []uint64) uint32 {
	if len(blockTimes) == 0 {
		return current
	}
	var actualTotal uint64
	for _, t := range blockTimes {
		actualTotal += t
	}
	if actualTotal == 0 {
		return current
	}
	expectedTotal := TargetBlockTimeSecs * uint64(len(blockTimes))
	factor := float64(expectedTotal) / float64(actualTotal)
	if factor < 0.25 {
		factor = 0.25
	}
	if factor > 4 {
		factor = 4
	}
	next := uint32(math.Round(float64(current) * factor))
	if next < 1 {
		next = 1
	}
	return next
}

// ValidBlockTimeSample reports whether a single inter-block time is within
// the (0, 10*target) acceptance window used to reject bad retarget samples.
func ValidBlockTimeSample(secs uint64) bool {
	return secs > 0 && secs < 10*TargetBlockTimeSecs
}

// SmartRateInputs bundles the three raw counters the smart-rate formula
// consumes.
type SmartRateInputs struct {
	Height         uint64
	TransactionCount uint64
	ActiveNodes    uint64
	AvgBlockTime   float64 // actual average block time, seconds
}

const (
	smartRateBase = 1000.0
	phi           = 1.618033988749895
)

var smartRatePattern = [6]float64{1.0, 1.2, 1.4, 1.8, 1.7, 1.5}

// SmartRate computes the weighted-geometric-mean public network metric.
func SmartRate(in SmartRateInputs) float64 {
	ver := smartRateVER(in.Height, in.TransactionCount)
	fcs := smartRateFCS(in.Height, in.TransactionCount)
	mei := smartRateMEI(in.AvgBlockTime)
	nhf := smartRateNHF(in.ActiveNodes)

	// Normalize to (0,1] before the weighted geometric mean; zero inputs
	// are floored to a small epsilon so the geometric mean stays finite.
	const eps = 0.01
	nVer := math.Max(ver/100.0, eps)
	nFcs := math.Max(fcs/100.0, eps)
	nMei := math.Max(mei/100.0, eps)
	nNhf := math.Max(nhf/100.0, eps)

	geoMean := math.Pow(nVer, 0.35) * math.Pow(nFcs, 0.25) * math.Pow(nMei, 0.25) * math.Pow(nNhf, 0.15)

	pattern := smartRatePattern[in.Height%6]
	return smartRateBase * geoMean * pattern
}

func smartRateVER(height, txCount uint64) float64 {
	cyclic := float64(cyclicPattern[height%6])
	return math.Min(100, cyclic*float64(txCount+1)*0.5+float64(height%97))
}

func smartRateFCS(height, txCount uint64) float64 {
	h := float64(height)
	if h < 1 {
		h = 1
	}
	score := math.Log2(h)*1.585 + math.Sqrt(float64(txCount))*0.1
	return math.Min(score, 100)
}

func smartRateMEI(avgBlockTime float64) float64 {
	if avgBlockTime <= 0 {
		avgBlockTime = float64(TargetBlockTimeSecs)
	}
	ratio := float64(TargetBlockTimeSecs) / avgBlockTime
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 2 {
		ratio = 2
	}
	return ratio / 2 * 100
}

func smartRateNHF(activeNodes uint64) float64 {
	n := float64(activeNodes)
	if n < 1 {
		n = 1
	}
	consistencyTerm := 5.0
	score := math.Log2(n)*phi + consistencyTerm
	return math.Min(score, 100)
}

// SmartRateHistory is a bounded ring buffer of recent smart-rate samples,
// so callers can display a trend rather than just the instantaneous value.
type SmartRateHistory struct {
	samples [64]float64
	next    int
	filled  bool
}

// Push records a new sample, overwriting the oldest once the buffer fills.
func (h *SmartRateHistory) Push(v float64) {
	h.samples[h.next] = v
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.filled = true
	}
}

// Average returns the mean of all recorded samples (0 if none yet).
func (h *SmartRateHistory) Average() float64 {
	n := h.next
	if h.filled {
		n = len(h.samples)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += h.samples[i]
	}
	return sum / float64(n)
}

// EstimateDailyReward projects a device's expected daily reward from the
// current block reward, the 5-second tick interval, and its share of the
// currently active device count.
func EstimateDailyReward(currentHeight uint64, activeDevices int) uint64 {
	if activeDevices <= 0 {
		return 0
	}
	perDevice, _ := SplitReward(BlockReward(currentHeight), activeDevices)
	blocksPerDay := uint64(24 * 60 * 60 / int(TargetBlockTimeSecs))
	return perDevice * blocksPerDay
}
