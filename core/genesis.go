package core

// genesis.go loads the optional mainnet-genesis.json allocation file,
// pre-funding addresses listed under "alloc" after converting wei (10^18)
// to the chain's micro-units (10^6).

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/sirupsen/logrus"
)

// WeiToMicroUnitDivisor is the 10^12 scale factor between wei and
// micro-units.
var WeiToMicroUnitDivisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// genesisFile is the genesis file's shape: its "alloc" map from address to
// wei-denominated balance string.
type genesisFile struct {
	Alloc map[string]string `json:"alloc"`
}

// LoadGenesis reads path (if it exists) and credits every address in its
// alloc map to store, converting wei to micro-units. A missing file is not
// an error: genesis allocation is optional.
func LoadGenesis(store *Store, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read genesis file %s: %v", ErrStorage, path, err)
	}

	var g genesisFile
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("%w: parse genesis file: %v", ErrStorage, err)
	}

	for addrStr, weiStr := range g.Alloc {
		addr := Address(addrStr)
		if !addr.Validate() {
			logrus.WithField("address", addrStr).Warn("genesis: skipping malformed address")
			continue
		}
		wei, ok := new(big.Int).SetString(weiStr, 10)
		if !ok {
			logrus.WithField("address", addrStr).Warn("genesis: skipping unparsable balance")
			continue
		}
		micro := new(big.Int).Div(wei, WeiToMicroUnitDivisor)
		if err := store.SetBalance(addr, micro.Uint64()); err != nil {
			return fmt.Errorf("%w: credit genesis address %s: %v", ErrStorage, addrStr, err)
		}
	}

	genesisTx := &Transaction{
		Hash:      Hash(FractalHash([]byte("genesis:"+path), 1).Digest).Hex(),
		From:      GenesisSender,
		To:        string(EcosystemAddress),
		Amount:    0,
		Timestamp: nowUnix(),
		Kind:      TxGenesis,
	}
	return store.AddTransaction(genesisTx)
}
