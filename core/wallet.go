package core

// wallet.go implements HD key derivation and the fractal-hash based address
// scheme: BIP-39 mnemonic -> seed -> SLIP-0010-style hardened derivation of
// an ECDSA (secp256k1) key -> fractal-hash address derivation -> signing.

import (
	"crypto/ecdsa"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
)

const (
	hardenedOffset uint32 = 0x80000000
	masterHMACKey         = "fractal vortex seed"
)

// HDWallet keeps master key material in memory only. Derivation follows a
// SLIP-0010-like hardened-only scheme: m / account' / index'.
type HDWallet struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
	logger      *logrus.Logger
}

// NewRandomWallet generates entropyBits (128 or 256) of randomness and
// returns a fresh wallet plus its recovery mnemonic. Callers must store the
// mnemonic securely; the wallet never persists it.
func NewRandomWallet(entropyBits int) (*HDWallet, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("%w: unsupported entropy size %d", ErrValidation, entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	w, err := NewHDWalletFromSeed(seed)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// WalletFromMnemonic imports an existing BIP-39 phrase.
func WalletFromMnemonic(mnemonic, passphrase string) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic checksum", ErrValidation)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewHDWalletFromSeed(seed)
}

// NewHDWalletFromSeed builds a wallet directly from raw seed bytes.
func NewHDWalletFromSeed(seed []byte) (*HDWallet, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("%w: seed too short", ErrValidation)
	}
	i := hmacSHA512([]byte(masterHMACKey), seed)
	return &HDWallet{
		seed:        seed,
		masterKey:   i[:32],
		masterChain: i[32:],
		logger:      logrus.StandardLogger(),
	}, nil
}

// Seed returns a copy of the wallet's master seed.
func (w *HDWallet) Seed() []byte {
	out := make([]byte, len(w.seed))
	copy(out, w.seed)
	return out
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// derivePrivate returns the key material and chain code for a hardened
// child index. Only hardened derivation is supported.
func derivePrivate(parentKey, parentChain []byte, index uint32) (key, chain []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("non-hardened derivation not supported")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)
	i := hmacSHA512(parentChain, data)
	return i[:32], i[32:], nil
}

// PrivateKey derives the ECDSA (secp256k1) private key for path
// m / account' / index'.
func (w *HDWallet) PrivateKey(account, index uint32) (*ecdsa.PrivateKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1, err := derivePrivate(w.masterKey, w.masterChain, account)
	if err != nil {
		return nil, err
	}
	k2, _, err := derivePrivate(k1, c1, index)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.ToECDSA(k2)
	if err != nil {
		return nil, fmt.Errorf("derive ecdsa key: %w", err)
	}
	return priv, nil
}

// DeriveAddress computes the 43-character address for the public key at
// path m / account' / index', via a five-step derivation:
//
//  1. fractal_hash over the serialized public key, 3 mixing levels.
//  2. XOR the 32-byte digest with the cyclic pattern [1,2,4,8,7,5].
//  3. Reduce to 18 bytes with a digital-root-style mixing pass.
//  4. XOR each of the 18 bytes with the digest's energy_signature, cycled
//     across its 8 bytes.
//  5. Hex-encode the 18 bytes (36 chars) and wrap with "fvc"/"emyl".
func (w *HDWallet) DeriveAddress(account, index uint32) (Address, error) {
	priv, err := w.PrivateKey(account, index)
	if err != nil {
		return "", err
	}
	pub := crypto.FromECDSAPub(&priv.PublicKey)
	return addressFromPubKey(pub), nil
}

func addressFromPubKey(pub []byte) Address {
	fd := FractalHash(pub, 3)

	var masked [32]byte
	for i, b := range fd.Digest {
		masked[i] = b ^ cyclicPattern[i%6]
	}

	reduced := make([]byte, 18)
	for i := range reduced {
		var sum uint64
		for j, b := range masked {
			sum += uint64(b) * uint64(i+j+1)
		}
		for sum >= 256 {
			sum = sum/256 + sum%256
		}
		reduced[i] = byte(sum)
	}

	energyBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(energyBytes, fd.EnergySignature)
	for i := range reduced {
		reduced[i] ^= energyBytes[i%8]
	}

	return Address(addressPrefix + hex.EncodeToString(reduced) + addressSuffix)
}

// SignDigest signs the fractal-hash digest of msg with the key at
// (account, index); it signs over the digest, not the message directly.
func (w *HDWallet) SignDigest(msg []byte, account, index uint32) ([]byte, error) {
	priv, err := w.PrivateKey(account, index)
	if err != nil {
		return nil, err
	}
	fd := FractalHash(msg, 3)
	sig, err := crypto.Sign(fd.Digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// VerifyDigest checks a signature produced by SignDigest against a raw
// (uncompressed) ECDSA public key.
func VerifyDigest(msg, sig, pubKeyBytes []byte) bool {
	fd := FractalHash(msg, 3)
	sigNoRecovery := sig
	if len(sig) == 65 {
		sigNoRecovery = sig[:64]
	}
	return crypto.VerifySignature(pubKeyBytes, fd.Digest[:], sigNoRecovery)
}

// RandomMnemonicEntropy produces cryptographically secure random entropy.
func RandomMnemonicEntropy(bits int) ([]byte, error) {
	if bits%32 != 0 {
		return nil, fmt.Errorf("%w: entropy bits must be a multiple of 32", ErrValidation)
	}
	b := make([]byte, bits/8)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a byte slice in place, best-effort.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
