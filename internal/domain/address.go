package domain

// AddressKeyPair couples a controller wallet with the alias of its signing key.
type AddressKeyPair struct {
	ControllerWalletAddress string `json:"controller_wallet_address"`
	KeyAlias                string `json:"key_alias"`
}

// AddressPair is a controller wallet and, once paired, its trading contract.
type AddressPair struct {
	ControllerWalletAddress string  `json:"controller_wallet_address"`
	TradingContractAddress  *string `json:"trading_contract_address"`
}

type KeyedAddressPair struct {
	KeyAlias string      `json:"key_alias"`
	Pair     AddressPair `json:"pair"`
}

type AddressListResponse struct {
	AddressPairs []KeyedAddressPair `json:"address_pairs"`
}

// KeyID identifies a key created by a key management service.
type KeyID struct {
	External string
	Internal string
	Address  string
}
