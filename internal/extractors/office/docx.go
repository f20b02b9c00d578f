package office

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lu4p/cat/docxtxt"
	"go.uber.org/zap"

	"github.com/toricodesthings/document-extraction-service/internal/extract"
)

const docxDocumentXMLPath = "word/document.xml"

// wordRun matches <w:t>text</w:t> with or without attributes, but not <w:tab/>
// or <w:tbl>.
var wordRun = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)

type DOCXExtractor struct {
	maxEntryBytes int64
	logger        *zap.Logger
}

func NewDOCX(logger *zap.Logger) *DOCXExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DOCXExtractor{maxEntryBytes: defaultMaxZipEntryBytes, logger: logger}
}

func (e *DOCXExtractor) Name() string { return "document/docx" }

func (e *DOCXExtractor) Formats() []extract.Format { return []extract.Format{extract.FormatDOCX} }

func (e *DOCXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	// Encrypted OOXML and mislabeled .doc files are OLE2 containers, not zips.
	if isCompoundFile(job.Bytes) {
		info, err := inspectContainer(job.Bytes)
		if err != nil {
			return extract.Result{}, err
		}
		if info.Encrypted {
			return extract.Result{}, fmt.Errorf("%w: encrypted OOXML package", extract.ErrPasswordProtected)
		}
		return legacyResult(job.Document, extract.FormatDOC, &info), nil
	}

	text, err := e.pull(job.Bytes)
	if err != nil {
		return extract.Result{}, err
	}
	if text == "" {
		if extract.IsLegacyMIME(job.MIMEType) {
			return legacyResult(job.Document, extract.FormatDOC, nil), nil
		}
		return extract.Result{
			Text:   extract.NoTextNotice(job.Document, extract.FormatDOCX),
			Method: extract.MethodFailed,
		}, nil
	}
	return extract.Result{Text: text, Method: extract.MethodEmbedded}, nil
}

// pull reads the document with lu4p/cat's DOCX reader and with a direct
// <w:t> run pull, keeping whichever found more text. The cat reader skips
// paragraphs that carry attributes.
func (e *DOCXExtractor) pull(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	var text string
	// docxtxt inflates every entry without a ceiling.
	if size := packageSize(zr); e.maxEntryBytes > 0 && size > uint64(e.maxEntryBytes) {
		e.logger.Debug("docx package too large for docxtxt", zap.Uint64("inflated", size))
	} else if text, err = docxText(data); err != nil {
		e.logger.Debug("docxtxt failed", zap.Error(err))
	}

	runs, err := e.wordRuns(zr)
	if err != nil {
		if text != "" {
			return text, nil
		}
		return "", err
	}
	if utf8.RuneCountInString(runs) > utf8.RuneCountInString(text) {
		return runs, nil
	}
	return text, nil
}

func docxText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: docx reader panicked: %v", extract.ErrDamaged, r)
		}
	}()
	text, err = docxtxt.BytesToStr(data)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(xmlEntities.Replace(text))
	if !plausibleText(text) {
		return "", errors.New("docx reader returned binary output")
	}
	return text, nil
}

// plausibleText rejects reader output that is really package bytes.
func plausibleText(s string) bool {
	return utf8.ValidString(s) && !strings.HasPrefix(s, string(zipMagic))
}

// wordRuns joins the runs of each paragraph in word/document.xml, one line
// per paragraph.
func (e *DOCXExtractor) wordRuns(zr *zip.Reader) (string, error) {
	body, err := readZipFile(zr, docxDocumentXMLPath, e.maxEntryBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", extract.ErrDamaged, err)
	}

	var lines []string
	for _, para := range strings.Split(string(body), "</w:p>") {
		var sb strings.Builder
		for _, m := range wordRun.FindAllStringSubmatch(para, -1) {
			sb.WriteString(m[1])
		}
		if line := strings.TrimSpace(xmlEntities.Replace(sb.String())); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
