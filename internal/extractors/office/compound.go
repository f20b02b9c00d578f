package office

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/richardlehane/mscfb"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

// ole2Magic is the compound file binary signature.
var ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Main streams of the legacy binary formats.
var mainStreams = map[string]extract.Format{
	"WordDocument":        extract.FormatDOC,
	"PowerPoint Document": extract.FormatPPT,
	"Workbook":            extract.FormatXLS,
	"Book":                extract.FormatXLS,
}

const maxListedStreams = 64

type compoundInfo struct {
	Streams []string
	// Content is the legacy format implied by the main stream, if any.
	Content extract.Format
	// Encrypted is set when the container wraps an encrypted OOXML package.
	Encrypted bool
}

func isCompoundFile(data []byte) bool {
	return bytes.HasPrefix(data, ole2Magic)
}

// inspectContainer lists the top-level streams of an OLE2 file without
// decoding any of them.
func inspectContainer(data []byte) (info compoundInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = compoundInfo{}
			err = fmt.Errorf("%w: compound file reader panicked: %v", extract.ErrDamaged, r)
		}
	}()

	if !isCompoundFile(data) {
		return compoundInfo{}, fmt.Errorf("%w: missing compound file signature", extract.ErrDamaged)
	}
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return compoundInfo{}, fmt.Errorf("%w: %v", extract.ErrDamaged, err)
	}

	seen := map[string]bool{}
	for entry, nerr := doc.Next(); nerr == nil; entry, nerr = doc.Next() {
		switch entry.Name {
		case "EncryptedPackage", "EncryptionInfo":
			info.Encrypted = true
		}
		if f, ok := mainStreams[entry.Name]; ok && info.Content == "" {
			info.Content = f
		}
		if entry.Size > 0 && !seen[entry.Name] && len(seen) < maxListedStreams {
			seen[entry.Name] = true
			info.Streams = append(info.Streams, entry.Name)
		}
	}
	sort.Strings(info.Streams)
	return info, nil
}
