package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/paycore/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Environment variables that override the config file.
const (
	EnvListenAddr    = "PAYCORE_LISTEN_ADDR"
	EnvPostgresDSN   = "PAYCORE_POSTGRES_DSN"
	EnvLogLevel      = "PAYCORE_LOG_LEVEL"
	EnvEnableMetrics = "PAYCORE_ENABLE_METRICS"
	EnvRPCUrl        = "PAYCORE_RPC_URL"
	EnvContract      = "PAYCORE_CONTRACT"
	EnvHexSeed       = "PAYCORE_HEX_SEED"
	EnvChainID       = "PAYCORE_CHAIN_ID"
)

// ParseConfig parses and validates Config from JSON
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, types.NewError(types.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig checks config against its struct tags.
func ValidateConfig(config *types.Config) error {
	if err := validate.Struct(config); err != nil {
		return types.NewError(types.ErrCodeInvalidConfiguration, "validation failed", err)
	}
	return nil
}

// LoadConfig reads a JSON config file, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrCodeInvalidConfiguration, fmt.Sprintf("read config %s", path), err)
	}

	var config types.Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, types.NewError(types.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := ApplyEnv(&config); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyEnv overrides deployment settings from the environment.
func ApplyEnv(config *types.Config) error {
	if v, ok := os.LookupEnv(EnvListenAddr); ok {
		config.ListenAddr = v
	}
	if v, ok := os.LookupEnv(EnvPostgresDSN); ok {
		config.PostgresDSN = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		config.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvEnableMetrics); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return types.NewError(types.ErrCodeInvalidConfiguration, fmt.Sprintf("invalid %s", EnvEnableMetrics), err)
		}
		config.EnableMetrics = b
	}
	return nil
}

// ClientConfigFromEnv builds a ClientConfig from the environment.
func ClientConfigFromEnv() (*types.ClientConfig, error) {
	config := types.ClientConfig{
		RPCUrl:   os.Getenv(EnvRPCUrl),
		Contract: os.Getenv(EnvContract),
		HexSeed:  os.Getenv(EnvHexSeed),
	}
	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, types.NewError(types.ErrCodeInvalidConfiguration, fmt.Sprintf("invalid %s", EnvChainID), err)
		}
		config.ChainID = id
	}

	if err := validate.Struct(&config); err != nil {
		return nil, types.NewError(types.ErrCodeInvalidConfiguration, "validation failed", err)
	}
	return &config, nil
}

// NormalizeJSON formats JSON with consistent indentation
func NormalizeJSON(data interface{}) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}
