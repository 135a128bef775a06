// Package config provides the settlement contract registry for the relayer.
//
// ALL settlement contract addresses MUST be defined here. Do not scatter
// contract addresses throughout the codebase.
package config

import "github.com/ethereum/go-ethereum/common"

// settlementContractRegistry maps chainID -> the deployed settlement
// contract address for that chain.
var settlementContractRegistry = map[uint64]common.Address{
	// Ethereum Sepolia (chainID 11155111)
	11155111: common.HexToAddress("0x628c677e7b8889e64564d3f381565a9e6656aade"),

	// Ethereum Mainnet (chainID 1) — TODO: deploy after audit
	1: {},
}

// GetSettlementContract returns the settlement contract address for a
// given chain ID. Returns the zero address if the chain is not
// registered or the contract is not yet deployed.
func GetSettlementContract(chainID uint64) common.Address {
	return settlementContractRegistry[chainID]
}

// IsSettlementDeployed returns true if the settlement contract is
// deployed on the given chain.
func IsSettlementDeployed(chainID uint64) bool {
	return GetSettlementContract(chainID) != (common.Address{})
}

// ListDeployedChains returns all chain IDs with a deployed settlement
// contract.
func ListDeployedChains() []uint64 {
	var chains []uint64
	for chainID, addr := range settlementContractRegistry {
		if addr != (common.Address{}) {
			chains = append(chains, chainID)
		}
	}
	return chains
}

// RegisterSettlementContract registers or updates the settlement contract
// address for a chain. Used at runtime to update addresses from a config
// file once an address has passed deployment.
func RegisterSettlementContract(chainID uint64, address common.Address) {
	settlementContractRegistry[chainID] = address
}
