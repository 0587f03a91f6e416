package core

// validation.go collects the pure-function validators for addresses,
// amounts, hashes, and the PIN/device-id/JSON validators needed by the
// device-registration path. Each validator returns a wrapped ErrValidation
// on failure.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// MaxTransferAmount bounds validate_amount at 1 billion FVC in micro-units.
const MaxTransferAmount uint64 = 1_000_000_000_000_000

// MaxBlockHeight bounds validate_block_height (safety ceiling, not a
// protocol limit).
const MaxBlockHeight uint64 = 100_000_000

// DefaultListLimit and MaxListLimit bound pagination parameters.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

var deviceIDRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateAddress checks that addr is a well-formed fvc...emyl address.
func ValidateAddress(addr string) error {
	if addr == "" {
		return errValidationf("address is required")
	}
	if !Address(addr).Validate() {
		return errValidationf("address %q is not a valid fvc...emyl address", addr)
	}
	return nil
}

// ValidateTransactionHash checks that hash is exactly 64 hex characters (a
// full 32-byte digest); upper- and lowercase hex are both accepted.
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return errValidationf("transaction hash is required")
	}
	if len(hash) != 64 {
		return errValidationf("transaction hash must be exactly 64 characters")
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return errValidationf("transaction hash must be hexadecimal")
	}
	return nil
}

// ValidateDeviceID checks the 8-64 char alphanumeric/underscore/hyphen
// device-id format.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return errValidationf("device id is required")
	}
	if len(deviceID) < 8 || len(deviceID) > 64 {
		return errValidationf("device id must be between 8 and 64 characters")
	}
	if !deviceIDRE.MatchString(deviceID) {
		return errValidationf("device id may only contain letters, digits, underscores and hyphens")
	}
	return nil
}

// ValidateAmount checks that amount is a positive, reasonably-bounded
// micro-unit value.
func ValidateAmount(amount uint64) error {
	if amount == 0 {
		return errValidationf("amount must be greater than 0")
	}
	if amount > MaxTransferAmount {
		return errValidationf("amount exceeds maximum allowed value")
	}
	return nil
}

// ValidateBlockHeight checks height against the safety ceiling.
func ValidateBlockHeight(height uint64) error {
	if height > MaxBlockHeight {
		return errValidationf("block height exceeds maximum allowed value")
	}
	return nil
}

// ValidateLimit normalizes an optional pagination limit: nil becomes
// DefaultListLimit, 0 or >MaxListLimit is rejected.
func ValidateLimit(limit *int) (int, error) {
	if limit == nil {
		return DefaultListLimit, nil
	}
	l := *limit
	if l <= 0 {
		return 0, errValidationf("limit must be greater than 0")
	}
	if l > MaxListLimit {
		return 0, errValidationf("limit cannot exceed %d", MaxListLimit)
	}
	return l, nil
}

// ValidatePINHash checks a PIN hash is a 64-character hex SHA-256 digest.
func ValidatePINHash(pinHash string) error {
	if pinHash == "" {
		return errValidationf("pin hash is required")
	}
	if len(pinHash) != 64 {
		return errValidationf("pin hash must be exactly 64 characters")
	}
	if _, err := hex.DecodeString(pinHash); err != nil {
		return errValidationf("pin hash must be hexadecimal")
	}
	return nil
}

// ValidateJSONStructure checks that raw decodes to a JSON object containing
// every field in requiredFields.
func ValidateJSONStructure(raw []byte, requiredFields []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errValidationf("payload must be a json object")
	}
	for _, field := range requiredFields {
		if _, ok := obj[field]; !ok {
			return errValidationf("field %q is required", field)
		}
	}
	return nil
}

func errValidationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
