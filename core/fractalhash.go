package core

// fractalhash.go implements the deterministic fractal/vortex mixing function
// and the proof-of-work built on top of it.

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// cyclicPattern is the fixed 6-element Sierpinski-style pattern applied per
// byte position at every mixing level.
var cyclicPattern = [6]byte{1, 2, 4, 8, 7, 5}

// fractalSeed is the opaque constant the per-level XOR mask is derived from.
// Only the (data, levels) -> digest mapping needs to agree between nodes;
// the seed itself carries no security meaning.
var fractalSeed = []byte("fractal-vortex-chain/sierpinski-mask/v1")

// FractalDigest is the output of fractal_hash: a 256-bit digest plus the
// auxiliary side-channels used for validator scoring and address derivation.
type FractalDigest struct {
	Digest         [32]byte
	VortexPattern  [6]byte
	EnergySignature uint64
	IterationDepth uint32
}

// levelMask derives the 32-byte XOR mask for a given mixing level from the
// fixed seed, so every node computes the identical sequence of masks.
func levelMask(level int) [32]byte {
	h := sha3.Sum256(append(append([]byte{}, fractalSeed...), byte(level)))
	return h
}

// digitalRoot repeatedly collapses n to a single base-10 digit, used for
// the vortex_pattern/energy_signature side-channels.
func digitalRoot(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	r := n % 9
	if r == 0 {
		return 9
	}
	return r
}

// FractalHash computes the keyed mixing function over data at the given
// iteration depth.
func FractalHash(data []byte, levels int) FractalDigest {
	base := sha3.Sum256(data)
	digest := base

	for level := 0; level < levels; level++ {
		mask := levelMask(level)
		for i := range digest {
			digest[i] = digest[i] ^ mask[i]
			digest[i] += cyclicPattern[i%6]
		}
	}

	var sum uint64
	for _, b := range data {
		sum += uint64(b)
	}
	dr := digitalRoot(sum)

	var pattern [6]byte
	for i := range pattern {
		pattern[i] = byte((dr + uint64(cyclicPattern[i])*uint64(i+1)) % 256)
	}

	energy := dr
	for i, b := range data {
		energy = energy*31 + uint64(b) + uint64(i)
	}

	return FractalDigest{
		Digest:          digest,
		VortexPattern:   pattern,
		EnergySignature: energy,
		IterationDepth:  uint32(levels),
	}
}

// leadingZeroBytes counts how many leading bytes of digest are zero.
func leadingZeroBytes(digest [32]byte) int {
	n := 0
	for _, b := range digest {
		if b != 0 {
			break
		}
		n++
	}
	return n
}

// Mine searches for the first 64-bit counter (little-endian, appended to
// data) whose fractal hash has at least `difficulty` leading zero bytes.
func Mine(data []byte, difficulty int, levels int) (nonce uint64, digest FractalDigest) {
	for counter := uint64(0); ; counter++ {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, counter)
		candidate := FractalHash(append(append([]byte{}, data...), buf...), levels)
		if leadingZeroBytes(candidate.Digest) >= difficulty {
			return counter, candidate
		}
	}
}

// Verify recomputes the fractal hash of data||nonce and checks it against
// digest, including the leading-zero-byte requirement.
func Verify(data []byte, nonce uint64, difficulty int, levels int, digest FractalDigest) bool {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, nonce)
	recomputed := FractalHash(append(append([]byte{}, data...), buf...), levels)
	if recomputed.Digest != digest.Digest {
		return false
	}
	return leadingZeroBytes(digest.Digest) >= difficulty
}

// NonceBytes returns the little-endian wire encoding of a nonce, for
// callers that want it alongside the digest.
func NonceBytes(nonce uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, nonce)
	return buf
}

func (d FractalDigest) String() string {
	return fmt.Sprintf("fractal(%x, pattern=%x, energy=%d, depth=%d)",
		d.Digest[:4], d.VortexPattern, d.EnergySignature, d.IterationDepth)
}
