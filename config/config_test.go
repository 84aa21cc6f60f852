package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
listen: ":9000"
relay: "http://relay.local/message"
data_dir: "/var/lib/marketd"
process_id: "market-process-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"
controller: "controller-process-aaaaaaaaaaaaaaaaaaaaaaaa"
market:
  name: "Points Market"
  ticker: "oPNT"
  denomination: 12
  collateral_id: "collateral-process-aaaaaaaaaaaaaaaaaaaaaaaa"
  collateral_ticker: "PNT"
  collateral_denomination: 12
  collateral_factor: "2"
  liquidation_threshold: "1.1"
  value_limit: "1000000000000000000"
  oracle: "oracle-process-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"
  oracle_delay_tolerance_ms: 3600000
  cooldown_ms: 60000
  reserve_factor: 10
  base_rate: "0.02"
  init_rate: "0.1"
friends:
  - id: "friend-process-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"
    ticker: "AUX"
    denomination: 9
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "http://relay.local/message", cfg.RelayURL)

	params, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, "oPNT", params.Ticker)
	require.Equal(t, "2", params.CollateralFactor.String())
	require.Equal(t, "1.1", params.LiquidationThreshold.String())
	require.Equal(t, "1000000000000000000", params.ValueLimit.String())
	require.Equal(t, int64(3_600_000), params.OracleDelayTolerance)
	require.Equal(t, uint64(10), params.ReserveFactor)

	peers := cfg.PeerMarkets()
	require.Len(t, peers, 1)
	require.Equal(t, "AUX", peers[0].Ticker)
	require.Equal(t, peers[0].ID, peers[0].Token, "token defaults to the peer id")
}

func TestLoadDefaultsListenAddress(t *testing.T) {
	body := strings.Replace(validConfig, `listen: ":9000"`, "", 1)
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Equal(t, ":8390", cfg.ListenAddress)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name: "missing process id",
			mutate: func(s string) string {
				return strings.Replace(s, `process_id: "market-process-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"`, "", 1)
			},
			wantErr: "process_id required",
		},
		{
			name: "missing oracle",
			mutate: func(s string) string {
				return strings.Replace(s, `  oracle: "oracle-process-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"`, "", 1)
			},
			wantErr: "oracle required",
		},
		{
			name: "bad collateral factor",
			mutate: func(s string) string {
				return strings.Replace(s, `collateral_factor: "2"`, `collateral_factor: "-1"`, 1)
			},
			wantErr: "collateral_factor",
		},
		{
			name: "friend without id",
			mutate: func(s string) string {
				return strings.Replace(s, `id: "friend-process-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"`, `id: ""`, 1)
			},
			wantErr: "friends[0]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate(validConfig)))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParamsRejectsBadValueLimit(t *testing.T) {
	body := strings.Replace(validConfig, `value_limit: "1000000000000000000"`, `value_limit: "oops"`, 1)
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err, "value limit is parsed lazily")
	_, err = cfg.Params()
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
