package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrpki/rov-validator/pkg/rov"
)

func TestParseASN(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"64512", 64512, false},
		{"AS64512", 64512, false},
		{"as64512", 64512, false},
		{"AS0", 0, false},
		{"4294967295", 4294967295, false},
		{"4294967296", 0, true},
		{"AS", 0, true},
		{"banana", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseASN(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	require.Equal(t, exitValid, exitCodeFor(rov.StateValid))
	require.Equal(t, exitInvalid, exitCodeFor(rov.StateInvalid))
	require.Equal(t, exitNotFound, exitCodeFor(rov.StateNotFound))
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relyingParty:
  baseUrl: http://rp.internal:8323
  timeoutSeconds: 5
  snapshotMaxAgeSeconds: 120
snapshotFile: /var/lib/rov/vrps.json.gz
jsonOutput: true
`), 0o644))

	cfg, err := readConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "http://rp.internal:8323", cfg.RelyingParty.BaseURL)
	require.Equal(t, 5, cfg.RelyingParty.TimeoutSeconds)
	require.Equal(t, 120, cfg.RelyingParty.SnapshotMaxAgeSeconds)
	require.Equal(t, "/var/lib/rov/vrps.json.gz", cfg.SnapshotFile)
	require.True(t, cfg.JSONOutput)

	_, err = readConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
