// Package config loads the veilart configuration from a file, VEILART_*
// environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/internal/ipfs"
	"github.com/veilart/gallery/pkg/homeutils"
)

// EnvPrefix prefixes every environment variable read by veilart.
const EnvPrefix = "VEILART"

// Configuration keys. Nested keys use a dot; the matching flag replaces the
// dot with a dash and the environment variable replaces both with an
// underscore, e.g. ipfs.kubo-url, --ipfs-kubo-url, VEILART_IPFS_KUBO_URL.
const (
	KeyNetwork         = "network"
	KeyRPCURL          = "rpc-url"
	KeyChainID         = "chain-id"
	KeyContractAddress = "contract-address"
	KeyRelayerURL      = "relayer-url"
	KeyRelayerKeyFile  = "relayer-key-file"
	KeyPrivateKey      = "private-key"
	KeyPrivateKeyFile  = "private-key-file"
	KeyCacheTTL        = "cache-ttl"

	KeyIPFSProvider         = "ipfs.provider"
	KeyIPFSPinataAPIKey     = "ipfs.pinata-api-key"
	KeyIPFSPinataSecretKey  = "ipfs.pinata-secret-key"
	KeyIPFSWeb3StorageToken = "ipfs.web3storage-token"
	KeyIPFSKuboURL          = "ipfs.kubo-url"
	KeyIPFSGateway          = "ipfs.gateway"
)

const redacted = "<redacted>"

// Config is the resolved configuration.
type Config struct {
	Network         string        `yaml:"network"`
	RPCURL          string        `yaml:"rpc-url"`
	ChainID         uint64        `yaml:"chain-id"`
	ContractAddress string        `yaml:"contract-address"`
	RelayerURL      string        `yaml:"relayer-url"`
	RelayerKeyFile  string        `yaml:"relayer-key-file,omitempty"`
	PrivateKey      string        `yaml:"private-key,omitempty"`
	PrivateKeyFile  string        `yaml:"private-key-file,omitempty"`
	CacheTTL        time.Duration `yaml:"cache-ttl"`
	IPFS            IPFS          `yaml:"ipfs"`

	// File is the configuration file that was read, if any.
	File string `yaml:"-"`
}

// IPFS configures content storage.
type IPFS struct {
	Provider         string `yaml:"provider,omitempty"`
	PinataAPIKey     string `yaml:"pinata-api-key,omitempty"`
	PinataSecretKey  string `yaml:"pinata-secret-key,omitempty"`
	Web3StorageToken string `yaml:"web3storage-token,omitempty"`
	KuboURL          string `yaml:"kubo-url,omitempty"`
	Gateway          string `yaml:"gateway"`
}

// AddFlags registers a flag for every configuration key.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(KeyNetwork, fhe.SepoliaConfig.Name, "Encryption service network preset.")
	fs.String(KeyRPCURL, "", "JSON-RPC endpoint of the chain. Defaults to the network preset's endpoint.")
	fs.Uint64(KeyChainID, 0, "Chain the contract is deployed on. Defaults to the network preset's chain.")
	fs.String(KeyContractAddress, "", "Address of the contest contract.")
	fs.String(KeyRelayerURL, "", "Base URL of the encryption relayer. Defaults to the network preset's relayer.")
	fs.String(KeyRelayerKeyFile, "", "JWKS file with a pinned relayer public key, instead of fetching it.")
	fs.String(KeyPrivateKey, "", "Hex private key of the account that signs transactions.")
	fs.String(KeyPrivateKeyFile, "", "File containing the hex private key of the account.")
	fs.Duration(KeyCacheTTL, 30*time.Second, "How long entries read from the contract are cached.")
	fs.String(flagName(KeyIPFSProvider), "", fmt.Sprintf("IPFS provider, one of %s. Picked from the configured credentials when empty.", strings.Join(providers, ", ")))
	fs.String(flagName(KeyIPFSPinataAPIKey), "", "Pinata API key.")
	fs.String(flagName(KeyIPFSPinataSecretKey), "", "Pinata secret API key.")
	fs.String(flagName(KeyIPFSWeb3StorageToken), "", "Web3.Storage API token.")
	fs.String(flagName(KeyIPFSKuboURL), "", "Kubo RPC API URL, e.g. http://127.0.0.1:5001.")
	fs.String(flagName(KeyIPFSGateway), ipfs.DefaultGateway, "IPFS HTTP gateway used to read content.")
}

var providers = []string{ipfs.ProviderPinata, ipfs.ProviderWeb3Storage, ipfs.ProviderKubo, ipfs.ProviderLocal}

var keys = []string{
	KeyNetwork, KeyRPCURL, KeyChainID, KeyContractAddress, KeyRelayerURL, KeyRelayerKeyFile,
	KeyPrivateKey, KeyPrivateKeyFile, KeyCacheTTL,
	KeyIPFSProvider, KeyIPFSPinataAPIKey, KeyIPFSPinataSecretKey, KeyIPFSWeb3StorageToken, KeyIPFSKuboURL, KeyIPFSGateway,
}

func flagName(key string) string {
	return strings.ReplaceAll(key, ".", "-")
}

// Load reads the configuration. When configFile is empty, veilart.yaml is
// looked up in the working directory and then in $HOME/.veilart; not finding
// one is not an error. fs may be nil.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyNetwork, fhe.SepoliaConfig.Name)
	v.SetDefault(KeyCacheTTL, 30*time.Second)
	v.SetDefault(KeyIPFSGateway, ipfs.DefaultGateway)

	if configFile != "" {
		v.SetConfigFile(homeutils.ExpandHome(configFile))
	} else {
		if cwd, err := os.Getwd(); err == nil {
			v.AddConfigPath(cwd)
		}
		if home := homeutils.HomeDir(); home != "" {
			v.AddConfigPath(filepath.Join(home, ".veilart"))
		}
		v.SetConfigName("veilart")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if fs != nil {
		for _, key := range keys {
			if f := fs.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	return &Config{
		Network:         v.GetString(KeyNetwork),
		RPCURL:          v.GetString(KeyRPCURL),
		ChainID:         v.GetUint64(KeyChainID),
		ContractAddress: v.GetString(KeyContractAddress),
		RelayerURL:      v.GetString(KeyRelayerURL),
		RelayerKeyFile:  homeutils.ExpandHome(v.GetString(KeyRelayerKeyFile)),
		PrivateKey:      v.GetString(KeyPrivateKey),
		PrivateKeyFile:  homeutils.ExpandHome(v.GetString(KeyPrivateKeyFile)),
		CacheTTL:        v.GetDuration(KeyCacheTTL),
		IPFS: IPFS{
			Provider:         v.GetString(KeyIPFSProvider),
			PinataAPIKey:     v.GetString(KeyIPFSPinataAPIKey),
			PinataSecretKey:  v.GetString(KeyIPFSPinataSecretKey),
			Web3StorageToken: v.GetString(KeyIPFSWeb3StorageToken),
			KuboURL:          v.GetString(KeyIPFSKuboURL),
			Gateway:          v.GetString(KeyIPFSGateway),
		},
		File: v.ConfigFileUsed(),
	}, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := fhe.NetworkPreset(c.Network); err != nil {
		result = multierror.Append(result, err)
	} else if network, err := c.FHENetwork(); err == nil {
		if err := network.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.RPCURL != "" && !absoluteURL(c.RPCURL) {
		result = multierror.Append(result, fmt.Errorf("rpc-url %q is not an absolute URL", c.RPCURL))
	}
	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		result = multierror.Append(result, fmt.Errorf("contract-address %q is not an address", c.ContractAddress))
	}
	if c.PrivateKey != "" && c.PrivateKeyFile != "" {
		result = multierror.Append(result, errors.New("only one of private-key and private-key-file may be set"))
	}
	if c.CacheTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("cache-ttl must not be negative, got %s", c.CacheTTL))
	}
	if c.IPFS.Provider != "" && !slices.Contains(providers, c.IPFS.Provider) {
		result = multierror.Append(result, fmt.Errorf("ipfs.provider %q is not one of %s", c.IPFS.Provider, strings.Join(providers, ", ")))
	}
	if c.IPFS.KuboURL != "" && !absoluteURL(c.IPFS.KuboURL) {
		result = multierror.Append(result, fmt.Errorf("ipfs.kubo-url %q is not an absolute URL", c.IPFS.KuboURL))
	}
	if c.IPFS.Gateway != "" && !absoluteURL(c.IPFS.Gateway) {
		result = multierror.Append(result, fmt.Errorf("ipfs.gateway %q is not an absolute URL", c.IPFS.Gateway))
	}

	return result.ErrorOrNil()
}

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// FHENetwork returns the network preset with the configured overrides
// applied.
func (c *Config) FHENetwork() (fhe.NetworkConfig, error) {
	network, err := fhe.NetworkPreset(c.Network)
	if err != nil {
		return fhe.NetworkConfig{}, err
	}
	if c.RelayerURL != "" {
		network.RelayerURL = c.RelayerURL
	}
	if c.RPCURL != "" {
		network.NetworkURL = c.RPCURL
	}
	if c.ChainID != 0 {
		network.ChainID = c.ChainID
	}
	return network, nil
}

// Contract returns the contest contract address, or the zero address when
// none is configured.
func (c *Config) Contract() common.Address {
	if !common.IsHexAddress(c.ContractAddress) {
		return common.Address{}
	}
	return common.HexToAddress(c.ContractAddress)
}

// IPFSOptions returns the store options for ipfs.NewStore.
func (c *Config) IPFSOptions() ipfs.Options {
	return ipfs.Options{
		Provider:         c.IPFS.Provider,
		PinataAPIKey:     c.IPFS.PinataAPIKey,
		PinataSecretKey:  c.IPFS.PinataSecretKey,
		Web3StorageToken: c.IPFS.Web3StorageToken,
		KuboURL:          c.IPFS.KuboURL,
	}
}

// Dump generates a YAML string of the Config object with secrets redacted.
func (c *Config) Dump() (string, error) {
	out := *c
	for _, secret := range []*string{&out.PrivateKey, &out.IPFS.PinataAPIKey, &out.IPFS.PinataSecretKey, &out.IPFS.Web3StorageToken} {
		if *secret != "" {
			*secret = redacted
		}
	}

	d, err := yaml.Marshal(&out)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to generate YAML dump of config")
	}

	return string(d), nil
}
