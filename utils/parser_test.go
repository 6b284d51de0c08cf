package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paycore/types"
)

const validConfig = `{
	"admin": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	"treasury": "0x4768d9c51b152153d29efe003aebf19f88152ce9",
	"custody": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	"feeBasisPoints": 100,
	"tokens": [{"address": "0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9", "symbol": "USDC"}],
	"logLevel": "info"
}`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cfg.FeeBasisPoints)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, "USDC", cfg.Tokens[0].Symbol)
}

func TestParseConfigRejects(t *testing.T) {
	tests := map[string]string{
		"malformed":     `{`,
		"missing admin": `{"treasury": "0x4768d9c51b152153d29efe003aebf19f88152ce9", "custody": "0x5FbDB2315678afecb367f032d93F642f64180aa3"}`,
		"fee above max": `{"admin": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "treasury": "0x4768d9c51b152153d29efe003aebf19f88152ce9", "custody": "0x5FbDB2315678afecb367f032d93F642f64180aa3", "feeBasisPoints": 10001}`,
		"bad address":   `{"admin": "0x1234", "treasury": "0x4768d9c51b152153d29efe003aebf19f88152ce9", "custody": "0x5FbDB2315678afecb367f032d93F642f64180aa3"}`,
		"bad log level": `{"admin": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "treasury": "0x4768d9c51b152153d29efe003aebf19f88152ce9", "custody": "0x5FbDB2315678afecb367f032d93F642f64180aa3", "logLevel": "loud"}`,
		"token without symbol": `{"admin": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "treasury": "0x4768d9c51b152153d29efe003aebf19f88152ce9", "custody": "0x5FbDB2315678afecb367f032d93F642f64180aa3", "tokens": [{"address": "0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9"}]}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(raw))
			assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paycore.json")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	t.Setenv(EnvListenAddr, ":9999")
	t.Setenv(EnvPostgresDSN, "postgres://test@localhost/paycore")
	t.Setenv(EnvEnableMetrics, "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "postgres://test@localhost/paycore", cfg.PostgresDSN)
	assert.True(t, cfg.EnableMetrics)

	t.Setenv(EnvEnableMetrics, "maybe")
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, types.ErrInvalidConfiguration)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
}

func TestClientConfigFromEnv(t *testing.T) {
	t.Setenv(EnvRPCUrl, "http://localhost:8545")
	t.Setenv(EnvContract, "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv(EnvChainID, "31337")
	t.Setenv(EnvHexSeed, "")

	cfg, err := ClientConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(31337), cfg.ChainID)

	t.Setenv(EnvContract, "nope")
	_, err = ClientConfigFromEnv()
	assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
}

func TestNormalizeJSON(t *testing.T) {
	out, err := NormalizeJSON(types.TokenConfig{Address: "0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9", Symbol: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"address\": \"0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9\",\n  \"symbol\": \"USDC\"\n}", string(out))
}
