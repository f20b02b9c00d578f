package extract

// Method records how the text in a Result was produced.
type Method string

const (
	MethodEmbedded     Method = "embedded"
	MethodOCRMixed     Method = "ocr-mixed"
	MethodMetadataOnly Method = "metadata-only"
	MethodUnsupported  Method = "unsupported"
	MethodFailed       Method = "failed"
)

// Job is the unit of work handed to an Extractor.
type Job struct {
	Document
	Format   Format
	ForceOCR bool
}

// Result is the only value that leaves the engine.
type Result struct {
	Text           string           `json:"text"`
	Method         Method           `json:"method"`
	Truncated      bool             `json:"truncated"`
	SourceCount    *int             `json:"sourceCount,omitempty"`
	Format         Format           `json:"format"`
	OriginalLength int              `json:"originalLength"`
	Pages          []PageAssessment `json:"pages,omitempty"`
}

// PageAssessment is the scan detector's verdict for one PDF page.
type PageAssessment struct {
	PageNumber    int  `json:"pageNumber"`
	EmbeddedChars int  `json:"embeddedChars"`
	Trusted       bool `json:"trusted"`
	ImageCount    int  `json:"imageCount,omitempty"`
}

// Count returns a pointer to n, for Result.SourceCount.
func Count(n int) *int { return &n }
