package types

import (
	"time"
)

// TokenConfig is a token registered at initialization.
type TokenConfig struct {
	Address string `json:"address" validate:"required,eth_addr"`
	Symbol  string `json:"symbol" validate:"required,max=32"`
}

// Config contains global configuration for a paycore deployment.
type Config struct {
	// Account granted the admin role at initialization.
	Admin string `json:"admin" validate:"required,eth_addr"`

	// Fee recipient. Must not be the zero address.
	Treasury string `json:"treasury" validate:"required,eth_addr"`

	// Address that holds funds between the pull and push legs of a payment.
	Custody string `json:"custody" validate:"required,eth_addr"`

	// Optional relayer granted the relayer role at initialization.
	Relayer string `json:"relayer,omitempty" validate:"omitempty,eth_addr"`

	// Permit/allowance helper address, recorded for operational tooling.
	Entrypoint string `json:"entrypoint,omitempty" validate:"omitempty,eth_addr"`

	FeeBasisPoints uint64        `json:"feeBasisPoints" validate:"lte=10000"`
	MinAdmins      int           `json:"minAdmins,omitempty" validate:"gte=0"`
	Tokens         []TokenConfig `json:"tokens,omitempty" validate:"dive"`

	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`
	LogLevel       string        `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics  bool          `json:"enableMetrics,omitempty"`
	ListenAddr     string        `json:"listenAddr,omitempty"`
	PostgresDSN    string        `json:"postgresDsn,omitempty"`
}

// ClientConfig configures the on-chain PaymentCore client.
type ClientConfig struct {
	RPCUrl   string        `json:"rpcUrl" validate:"required,url"`
	Contract string        `json:"contract" validate:"required,eth_addr"`
	ChainID  int64         `json:"chainId,omitempty" validate:"gte=0"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	HexSeed  string        `json:"hexSeed,omitempty" validate:"omitempty,hexadecimal"`
}
