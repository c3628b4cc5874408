package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xredeth/Quittance/pkg/config"
	"github.com/0xredeth/Quittance/pkg/handler"
	"github.com/0xredeth/Quittance/pkg/proof"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "quittance")
	require.Contains(t, out.String(), version)
	require.Contains(t, out.String(), commit)
}

func TestNetworksCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newNetworksCmd()
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	listing := out.String()
	require.Contains(t, listing, "base-mainnet")
	require.Contains(t, listing, "base-sepolia")
	require.Contains(t, listing, "8453")
	require.Contains(t, listing, "84532")
	require.Contains(t, listing, "https://mainnet.base.org")
}

func TestRegisterProofHandlers(t *testing.T) {
	cfg := &config.Config{
		Contracts: map[string]config.ContractConfig{
			"apiproofs": {
				Address: "0x8Ba1f109551bD432803012645Ac136ddd64DBA72",
				ABI:     "abis/apiproofs.json",
				Events:  []string{"ApiCallProved"},
			},
			"other": {
				Address: "0x0000000000000000000000000000000000000002",
				ABI:     "abis/other.json",
				Events:  []string{"Transfer"},
			},
		},
	}

	n := registerProofHandlers(cfg)
	require.Equal(t, 1, n)

	_, ok := handler.Get("apiproofs:" + proof.EventName)
	require.True(t, ok)

	_, ok = handler.Get("other:Transfer")
	require.False(t, ok)
}

func TestRegisterProofHandlersNoMatch(t *testing.T) {
	cfg := &config.Config{
		Contracts: map[string]config.ContractConfig{
			"token": {
				Address: "0x0000000000000000000000000000000000000003",
				ABI:     "abis/token.json",
				Events:  []string{"Transfer", "Approval"},
			},
		},
	}

	require.Equal(t, 0, registerProofHandlers(cfg))
}

func TestSetupLoggingRejectsBadLevel(t *testing.T) {
	old := logLevel
	defer func() { logLevel = old }()

	logLevel = "shouting"
	require.Error(t, setupLogging())

	logLevel = "debug"
	require.NoError(t, setupLogging())
}
