package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"5.99", 6, "5990000", false},
		{"10", 6, "10000000", false},
		{"100", 18, "100000000000000000000", false},
		{"0.000001", 6, "1", false},
		{"1.50", 1, "15", false},
		{"0.0000001", 6, "", true},
		{"-1", 6, "", true},
		{"abc", 6, "", true},
		{"", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "5.99", FormatUnits(big.NewInt(5_990_000), 6))
	assert.Equal(t, "0.0599", FormatUnits(big.NewInt(59_900), 6))
	assert.Equal(t, "0", FormatUnits(nil, 6))

	gross, _ := new(big.Int).SetString("99000000000000000000", 10)
	assert.Equal(t, "99", FormatUnits(gross, 18))
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9")
	require.NoError(t, err)
	assert.Equal(t, "0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9", a.Hex())

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	assert.Error(t, err)
	_, err = ParseAddress("0x1234")
	assert.Error(t, err)
}

func TestValidateBigInt(t *testing.T) {
	v, err := ValidateBigInt("5990000")
	require.NoError(t, err)
	assert.Equal(t, int64(5_990_000), v.Int64())

	_, err = ValidateBigInt("-1")
	assert.Error(t, err)
	_, err = ValidateBigInt("1.5")
	assert.Error(t, err)
}
