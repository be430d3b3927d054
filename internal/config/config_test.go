package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/internal/ipfs"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "veilart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a config file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "sepolia", cfg.Network)
		assert.Equal(t, 30*time.Second, cfg.CacheTTL)
		assert.Equal(t, ipfs.DefaultGateway, cfg.IPFS.Gateway)
		assert.Empty(t, cfg.File)
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
		assert.ErrorContains(t, err, "reading config file")
	})

	t.Run("file is found in the working directory", func(t *testing.T) {
		dir := filepath.Dir(writeConfig(t, `
contract-address: `+testContract+`
cache-ttl: 1m
ipfs:
  provider: kubo
  kubo-url: http://127.0.0.1:5001
`))
		t.Chdir(dir)
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, testContract, cfg.ContractAddress)
		assert.Equal(t, time.Minute, cfg.CacheTTL)
		assert.Equal(t, "kubo", cfg.IPFS.Provider)
		assert.Equal(t, "http://127.0.0.1:5001", cfg.IPFS.KuboURL)
		assert.Equal(t, filepath.Join(dir, "veilart.yaml"), cfg.File)
	})

	t.Run("environment overrides the file and flags override both", func(t *testing.T) {
		path := writeConfig(t, `
rpc-url: http://file.example
chain-id: 1
ipfs:
  gateway: https://file.example/ipfs/
`)
		t.Setenv("VEILART_CHAIN_ID", "31337")
		t.Setenv("VEILART_RPC_URL", "http://env.example")
		t.Setenv("VEILART_IPFS_GATEWAY", "https://env.example/ipfs/")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		AddFlags(fs)
		require.NoError(t, fs.Parse([]string{"--rpc-url=http://flag.example"}))

		cfg, err := Load(path, fs)
		require.NoError(t, err)
		assert.Equal(t, "http://flag.example", cfg.RPCURL)
		assert.Equal(t, uint64(31337), cfg.ChainID)
		assert.Equal(t, "https://env.example/ipfs/", cfg.IPFS.Gateway)
	})

	t.Run("home is expanded in file paths", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Setenv("VEILART_PRIVATE_KEY_FILE", "~/.veilart/key.txt")

		cfg, err := Load(writeConfig(t, "network: sepolia\n"), nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".veilart", "key.txt"), cfg.PrivateKeyFile)
	})

	t.Run("unset flags do not mask the file", func(t *testing.T) {
		path := writeConfig(t, `
ipfs:
  pinata-api-key: key
  pinata-secret-key: secret
`)
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		AddFlags(fs)
		require.NoError(t, fs.Parse([]string{"--ipfs-pinata-api-key=other"}))

		cfg, err := Load(path, fs)
		require.NoError(t, err)
		assert.Equal(t, "other", cfg.IPFS.PinataAPIKey)
		assert.Equal(t, "secret", cfg.IPFS.PinataSecretKey)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Network:         "sepolia",
			ContractAddress: testContract,
			CacheTTL:        time.Second,
			IPFS:            IPFS{Gateway: ipfs.DefaultGateway},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "unknown network",
			mutate:  func(c *Config) { c.Network = "mainnet" },
			wantErr: []string{`unknown network "mainnet"`},
		},
		{
			name:    "relative relayer url",
			mutate:  func(c *Config) { c.RelayerURL = "relayer" },
			wantErr: []string{`relayer URL "relayer" is not an absolute URL`},
		},
		{
			name: "every problem is reported",
			mutate: func(c *Config) {
				c.RPCURL = "localhost"
				c.ContractAddress = "0x1234"
				c.PrivateKey = "aa"
				c.PrivateKeyFile = "key.txt"
				c.CacheTTL = -time.Second
				c.IPFS.Provider = "s3"
			},
			wantErr: []string{
				`rpc-url "localhost" is not an absolute URL`,
				`contract-address "0x1234" is not an address`,
				"only one of private-key and private-key-file may be set",
				"cache-ttl must not be negative",
				`ipfs.provider "s3" is not one of pinata, web3storage, kubo, local`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestFHENetwork(t *testing.T) {
	cfg := &Config{Network: "sepolia"}
	network, err := cfg.FHENetwork()
	require.NoError(t, err)
	assert.Equal(t, fhe.SepoliaConfig, network)

	cfg.RPCURL = "http://127.0.0.1:8545"
	cfg.ChainID = 31337
	cfg.RelayerURL = "http://127.0.0.1:3000"
	network, err = cfg.FHENetwork()
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), network.ChainID)
	assert.Equal(t, "http://127.0.0.1:8545", network.NetworkURL)
	assert.Equal(t, "http://127.0.0.1:3000", network.RelayerURL)
	assert.Equal(t, fhe.SepoliaConfig.ACLContract, network.ACLContract)
}

func TestContract(t *testing.T) {
	assert.Equal(t, common.HexToAddress(testContract), (&Config{ContractAddress: testContract}).Contract())
	assert.Equal(t, common.Address{}, (&Config{ContractAddress: "nope"}).Contract())
}

func TestDump(t *testing.T) {
	cfg := &Config{
		Network:         "sepolia",
		ContractAddress: testContract,
		PrivateKey:      "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		CacheTTL:        30 * time.Second,
		IPFS: IPFS{
			Provider:        "pinata",
			PinataAPIKey:    "key",
			PinataSecretKey: "secret",
			Gateway:         ipfs.DefaultGateway,
		},
	}

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "contract-address: "+testContract)
	assert.Contains(t, out, "private-key: <redacted>")
	assert.Contains(t, out, "pinata-secret-key: <redacted>")
	assert.NotContains(t, out, "secret\n")
	assert.NotContains(t, out, "ac0974")

	// The receiver is left untouched.
	assert.Equal(t, "key", cfg.IPFS.PinataAPIKey)
}
