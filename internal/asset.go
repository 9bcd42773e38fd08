package internal

import (
	"fmt"
	"strings"

	"github.com/stellar/go/strkey"
)

// AssetType is the Horizon asset type name.
type AssetType string

const (
	AssetTypeNative AssetType = "native"
	AssetType4      AssetType = "credit_alphanum4"
	AssetType12     AssetType = "credit_alphanum12"
)

// Asset identifies the native asset or an issued credit.
type Asset struct {
	Type   AssetType `json:"asset_type"`
	Code   string    `json:"asset_code,omitempty"`
	Issuer string    `json:"asset_issuer,omitempty"`
}

// NativeAsset returns the network's native asset.
func NativeAsset() Asset {
	return Asset{Type: AssetTypeNative}
}

// CreditAsset returns an issued asset, picking the alphanum type from the code length.
func CreditAsset(code, issuer string) Asset {
	assetType := AssetType4
	if len(code) > 4 {
		assetType = AssetType12
	}
	return Asset{Type: assetType, Code: code, Issuer: issuer}
}

// ParseAsset parses "native" or "CODE:ISSUER".
func ParseAsset(s string) (Asset, error) {
	if s == "" {
		return Asset{}, fmt.Errorf("asset is empty")
	}
	if strings.EqualFold(s, string(AssetTypeNative)) || strings.EqualFold(s, "xlm") {
		return NativeAsset(), nil
	}
	code, issuer, ok := strings.Cut(s, ":")
	if !ok {
		return Asset{}, fmt.Errorf("asset %q must be \"native\" or CODE:ISSUER", s)
	}
	asset := CreditAsset(code, issuer)
	if err := asset.Validate(); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// IsNative reports whether a is the native asset.
func (a Asset) IsNative() bool {
	return a.Type == AssetTypeNative
}

// Validate checks that the type, code and issuer are consistent.
func (a Asset) Validate() error {
	switch a.Type {
	case AssetTypeNative:
		if a.Code != "" || a.Issuer != "" {
			return fmt.Errorf("native asset cannot have a code or issuer")
		}
		return nil
	case AssetType4:
		if len(a.Code) < 1 || len(a.Code) > 4 {
			return fmt.Errorf("asset code %q must be 1-4 characters for %s", a.Code, a.Type)
		}
	case AssetType12:
		if len(a.Code) < 5 || len(a.Code) > 12 {
			return fmt.Errorf("asset code %q must be 5-12 characters for %s", a.Code, a.Type)
		}
	default:
		return fmt.Errorf("unknown asset type %q", a.Type)
	}
	for _, r := range a.Code {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("asset code %q must be alphanumeric", a.Code)
		}
	}
	if !strkey.IsValidEd25519PublicKey(a.Issuer) {
		return fmt.Errorf("asset issuer %q is not a valid account ID", a.Issuer)
	}
	return nil
}

// String returns "native" or "CODE:ISSUER".
func (a Asset) String() string {
	if a.IsNative() {
		return string(AssetTypeNative)
	}
	return a.Code + ":" + a.Issuer
}
