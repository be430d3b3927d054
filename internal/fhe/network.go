package fhe

import (
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
)

// NetworkConfig binds a service instance to one target network: the chain the
// contracts live on, the gateway chain that runs key management, and the
// relayer that fronts both.
type NetworkConfig struct {
	// Name identifies the preset, e.g. "sepolia".
	Name string

	ChainID        uint64
	GatewayChainID uint64

	// RelayerURL is the base URL of the relayer HTTP API.
	RelayerURL string
	// NetworkURL is the JSON-RPC endpoint of ChainID.
	NetworkURL string

	ACLContract           common.Address
	KMSContract           common.Address
	InputVerifierContract common.Address

	// Verifying contracts on the gateway chain, used in EIP-712 domains.
	DecryptionVerifier        common.Address
	InputVerificationVerifier common.Address
}

// SepoliaConfig is the Sepolia testnet deployment of the encryption service.
var SepoliaConfig = NetworkConfig{
	Name:                      "sepolia",
	ChainID:                   11155111,
	GatewayChainID:            55815,
	RelayerURL:                "https://relayer.testnet.zama.cloud",
	NetworkURL:                "https://ethereum-sepolia-rpc.publicnode.com",
	ACLContract:               common.HexToAddress("0x687820221192C5B662b25367F70076A37bc79b6c"),
	KMSContract:               common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC"),
	InputVerifierContract:     common.HexToAddress("0xbc91f3daD1A5F19F8390c400196e58073B6a0BC4"),
	DecryptionVerifier:        common.HexToAddress("0xb6E160B1ff80D67Bfe90A85eE06Ce0A2613607D1"),
	InputVerificationVerifier: common.HexToAddress("0x7048C39f048125eDa9d678AEbaDfB22F7900a29F"),
}

// NetworkPreset returns the named network configuration.
func NetworkPreset(name string) (NetworkConfig, error) {
	switch name {
	case "", SepoliaConfig.Name:
		return SepoliaConfig, nil
	}
	return NetworkConfig{}, fmt.Errorf("unknown network %q (known networks: %s)", name, SepoliaConfig.Name)
}

// Validate checks that every field needed to talk to the service is set.
func (n NetworkConfig) Validate() error {
	var result *multierror.Error

	if n.ChainID == 0 {
		result = multierror.Append(result, fmt.Errorf("chain ID is required"))
	}
	if n.GatewayChainID == 0 {
		result = multierror.Append(result, fmt.Errorf("gateway chain ID is required"))
	}
	if n.RelayerURL == "" {
		result = multierror.Append(result, fmt.Errorf("relayer URL is required"))
	} else if u, err := url.Parse(n.RelayerURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("relayer URL %q is not an absolute URL", n.RelayerURL))
	}
	if (n.ACLContract == common.Address{}) {
		result = multierror.Append(result, fmt.Errorf("ACL contract address is required"))
	}
	if (n.KMSContract == common.Address{}) {
		result = multierror.Append(result, fmt.Errorf("KMS contract address is required"))
	}
	if (n.InputVerifierContract == common.Address{}) {
		result = multierror.Append(result, fmt.Errorf("input verifier contract address is required"))
	}

	return result.ErrorOrNil()
}
