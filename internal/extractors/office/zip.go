package office

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

const (
	defaultMaxZipEntryBytes = 32 << 20
	// maxZipEntries guards against archives with absurd directory sizes.
	maxZipEntries = 10000
)

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

var zipMagic = []byte("PK\x03\x04")

func isZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// openZip opens an OOXML package held in memory.
func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid zip package: %v", extract.ErrDamaged, err)
	}
	if len(zr.File) > maxZipEntries {
		return nil, fmt.Errorf("%w: zip has %d entries", extract.ErrDamaged, len(zr.File))
	}
	return zr, nil
}

// packageSize sums the declared inflated size of every entry.
func packageSize(zr *zip.Reader) uint64 {
	var total uint64
	for _, f := range zr.File {
		total += f.UncompressedSize64
	}
	return total
}

// readZipFile reads one entry, refusing to inflate more than limit bytes.
func readZipFile(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readEntry(f, limit)
		}
	}
	return nil, fmt.Errorf("missing %s", name)
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if limit > 0 && f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("zip entry %s exceeds %d bytes", f.Name, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	r := io.Reader(rc)
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, fmt.Errorf("zip entry %s exceeds %d bytes", f.Name, limit)
	}
	return b, nil
}
