package relyingparty

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/openrpki/rov-validator/pkg/errkind"
)

func TestLoadSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrps.json")
	require.NoError(t, os.WriteFile(path, []byte(exportBody), 0o644))

	snap, err := LoadSnapshotFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, snap.VRPs.Size())

	covering := snap.VRPs.CoveringPrefixes(netip.MustParsePrefix("2001:db8::/48"))
	require.Len(t, covering, 1)
	require.Equal(t, uint8(48), covering[0].MaxLength)
}

func TestLoadSnapshotFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrps.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(exportBody))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	snap, err := LoadSnapshotFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, snap.VRPs.Size())
}

func TestLoadSnapshotFileMissing(t *testing.T) {
	_, err := LoadSnapshotFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	require.True(t, errkind.IsKind(err, errkind.FileNotFound))
}

func TestLoadSnapshotFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrps.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadSnapshotFile(path)
	require.Error(t, err)
	require.True(t, errkind.IsKind(err, errkind.MalformedEncoding))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrps.json")
	require.NoError(t, os.WriteFile(path, []byte(exportBody), 0o644))

	h := NewSnapshotHolder(FileSource{Path: path}, 0)
	snap, err := h.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, snap.VRPs.Size())
}
