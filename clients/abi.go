package clients

// PaymentCoreABI covers the PaymentCore / GridPaymentGateway methods used by paycore.
const PaymentCoreABI = `[
	{"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"getProtocolFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTreasuryWallet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isTokenSupported","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"supportedTokens","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"isSupported","type":"bool"},{"name":"symbol","type":"string"}]},
	{"type":"function","name":"getSupportedTokens","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"calculateProtocolFees","stateMutability":"view","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"addSupportedToken","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"symbol","type":"string"}],"outputs":[]},
	{"type":"function","name":"removeSupportedToken","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"}],"outputs":[]},
	{"type":"function","name":"setProtocolFee","stateMutability":"nonpayable","inputs":[{"name":"fee","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setTreasuryWallet","stateMutability":"nonpayable","inputs":[{"name":"wallet","type":"address"}],"outputs":[]},
	{"type":"function","name":"grantAdmin","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]},
	{"type":"function","name":"revokeAdmin","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]},
	{"type":"function","name":"processPayment","stateMutability":"nonpayable","inputs":[{"name":"payer","type":"address"},{"name":"payee","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// ERC20ABI is the read subset of ERC20 needed for preflight checks.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`
