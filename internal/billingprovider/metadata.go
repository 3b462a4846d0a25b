package billingprovider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	MetadataOrgID       = "org_id"
	MetadataPackageKeys = "package_keys"
	MetadataCustomerID  = "customer_id"
)

var (
	ErrMetadataAbsent  = errors.New("metadata_absent")
	ErrInvalidMetadata = errors.New("invalid_metadata")
)

// PurchaseMetadata is the self-describing contract carried by every
// provider object created through checkout.
type PurchaseMetadata struct {
	OrgID       snowflake.ID
	PackageKeys []string
	CustomerID  *snowflake.ID
}

// ParsePurchaseMetadata returns ErrMetadataAbsent when the object carries
// none of the contract keys, and ErrInvalidMetadata when it carries a
// partial or malformed contract.
func ParsePurchaseMetadata(raw map[string]string) (*PurchaseMetadata, error) {
	orgRaw := strings.TrimSpace(raw[MetadataOrgID])
	keysRaw := strings.TrimSpace(raw[MetadataPackageKeys])
	if orgRaw == "" && keysRaw == "" {
		return nil, ErrMetadataAbsent
	}
	if orgRaw == "" || keysRaw == "" {
		return nil, fmt.Errorf("%w: org_id and package_keys are both required", ErrInvalidMetadata)
	}

	orgID, err := snowflake.ParseString(orgRaw)
	if err != nil || orgID <= 0 {
		return nil, fmt.Errorf("%w: org_id %q", ErrInvalidMetadata, orgRaw)
	}

	keys := SplitPackageKeys(keysRaw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: package_keys empty", ErrInvalidMetadata)
	}

	md := &PurchaseMetadata{OrgID: orgID, PackageKeys: keys}
	if customerRaw := strings.TrimSpace(raw[MetadataCustomerID]); customerRaw != "" {
		customerID, err := snowflake.ParseString(customerRaw)
		if err != nil || customerID <= 0 {
			return nil, fmt.Errorf("%w: customer_id %q", ErrInvalidMetadata, customerRaw)
		}
		md.CustomerID = &customerID
	}
	return md, nil
}

// Encode renders the contract as provider metadata.
func (m PurchaseMetadata) Encode() map[string]string {
	out := map[string]string{
		MetadataOrgID:       m.OrgID.String(),
		MetadataPackageKeys: JoinPackageKeys(m.PackageKeys),
	}
	if m.CustomerID != nil {
		out[MetadataCustomerID] = m.CustomerID.String()
	}
	return out
}

// Without returns a copy of the contract minus one package key.
func (m PurchaseMetadata) Without(key string) PurchaseMetadata {
	remaining := make([]string, 0, len(m.PackageKeys))
	for _, k := range m.PackageKeys {
		if k != key {
			remaining = append(remaining, k)
		}
	}
	m.PackageKeys = remaining
	return m
}

// SplitPackageKeys splits a comma-joined key list, dropping blanks and duplicates.
func SplitPackageKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func JoinPackageKeys(keys []string) string {
	return strings.Join(SplitPackageKeys(strings.Join(keys, ",")), ",")
}
