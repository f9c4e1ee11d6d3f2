// Package assets provides asset-specific validation for deposit addresses.
package assets

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validator checks deposit addresses before they enter the shared pool.
// EVM-family assets (ETH and its tokens) are checked as hex addresses;
// other assets get a basic shape check only, since their formats live with
// the custody provider.
type Validator struct {
	evmAssets map[string]bool
}

// NewValidator creates a validator treating the given assets as EVM-family.
func NewValidator(evmAssets []string) *Validator {
	set := make(map[string]bool, len(evmAssets))
	for _, asset := range evmAssets {
		set[strings.ToUpper(strings.TrimSpace(asset))] = true
	}
	return &Validator{evmAssets: set}
}

// ValidateAddress reports whether an address is acceptable for the asset.
func (v *Validator) ValidateAddress(asset, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("address must not be empty")
	}

	if v.evmAssets[strings.ToUpper(asset)] {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address for %s: %s", asset, address)
		}
		return nil
	}

	if len(address) < 20 || len(address) > 128 {
		return fmt.Errorf("implausible address length for %s: %d", asset, len(address))
	}
	return nil
}
