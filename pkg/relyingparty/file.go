package relyingparty

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/openrpki/rov-validator/pkg/errkind"
)

// LoadSnapshotFile reads a Routinator-format JSON export from disk,
// transparently decompressing .gz files. It backs the offline mode where
// no relying party is reachable.
func LoadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.FileNotFound, err, "opening snapshot file")
		}
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, errkind.Wrap(errkind.MalformedEncoding, err, "reading gzip stream")
		}
		defer zr.Close()
		r = zr
	}

	var exp jsonExport
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return nil, errkind.Wrap(errkind.MalformedEncoding, err, "decoding snapshot export")
	}
	return snapshotFromExport(&exp, time.Now())
}

// FileSource adapts a snapshot file to SnapshotSource.
type FileSource struct {
	Path string
}

func (s FileSource) FetchVRPSnapshot(ctx context.Context) (*Snapshot, error) {
	return LoadSnapshotFile(s.Path)
}
