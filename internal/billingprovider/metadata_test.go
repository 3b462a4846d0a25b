package billingprovider

import (
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePurchaseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		wantErr error
		keys    []string
	}{
		{name: "absent", raw: map[string]string{"other": "x"}, wantErr: ErrMetadataAbsent},
		{name: "nil map", raw: nil, wantErr: ErrMetadataAbsent},
		{name: "missing keys", raw: map[string]string{"org_id": "42"}, wantErr: ErrInvalidMetadata},
		{name: "bad org", raw: map[string]string{"org_id": "acme", "package_keys": "sso"}, wantErr: ErrInvalidMetadata},
		{name: "blank keys", raw: map[string]string{"org_id": "42", "package_keys": " , ,"}, wantErr: ErrInvalidMetadata},
		{name: "bad customer", raw: map[string]string{"org_id": "42", "package_keys": "sso", "customer_id": "-"}, wantErr: ErrInvalidMetadata},
		{name: "multi package", raw: map[string]string{"org_id": "42", "package_keys": "sso, analytics,sso"}, keys: []string{"sso", "analytics"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := ParsePurchaseMetadata(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, snowflake.ID(42), md.OrgID)
			assert.Equal(t, tt.keys, md.PackageKeys)
			assert.Nil(t, md.CustomerID)
		})
	}
}

func TestPurchaseMetadataEncodeRoundTripsWithoutKey(t *testing.T) {
	customerID := snowflake.ID(7)
	md := PurchaseMetadata{OrgID: 42, PackageKeys: []string{"sso", "analytics"}, CustomerID: &customerID}

	encoded := md.Without("sso").Encode()
	assert.Equal(t, map[string]string{
		"org_id":       "42",
		"package_keys": "analytics",
		"customer_id":  "7",
	}, encoded)

	parsed, err := ParsePurchaseMetadata(md.Encode())
	require.NoError(t, err)
	assert.Equal(t, []string{"sso", "analytics"}, parsed.PackageKeys)
	require.NotNil(t, parsed.CustomerID)
	assert.Equal(t, customerID, *parsed.CustomerID)
}
