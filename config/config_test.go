package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/types"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, chain.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, "FederatedLearning", cfg.Pallet)
	assert.Equal(t, uint64(64), cfg.EraPeriod)
	assert.Zero(t, cfg.Timeout())
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flctl.toml")
	contents := `Endpoint = "ws://127.0.0.1:9944"
SignatureScheme = "ecdsa"
EraPeriod = 0
FinalityTimeout = 90
LogLevel = "debug"
LogJSON = true
LogModules = "dispatch,chain"
MetricsAddress = ":9102"
KeystoreDir = "/var/lib/flctl/keys"
JournalPath = "/var/lib/flctl/journal"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9944", cfg.Endpoint)
	assert.Equal(t, "FederatedLearning", cfg.Pallet)
	assert.Equal(t, types.SchemeEcdsa, cfg.Scheme())
	assert.Zero(t, cfg.EraPeriod)
	assert.Equal(t, 90*time.Second, cfg.Timeout())
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "dispatch,chain", cfg.LogModules)
	assert.Equal(t, ":9102", cfg.MetricsAddress)
	assert.Equal(t, "/var/lib/flctl/journal", cfg.JournalPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"scheme":   `SignatureScheme = "sr25519"`,
		"endpoint": `Endpoint = "http://localhost:9933"`,
		"timeout":  `FinalityTimeout = -1`,
		"unknown":  `Endpont = "ws://typo"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "flctl.toml")
			require.NoError(t, os.WriteFile(path, []byte(body+"\n"), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flctl.toml")
	cfg := Default()
	cfg.Endpoint = "wss://rpc.example.org"
	cfg.FinalityTimeout = 30
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
