package extract

import (
	"errors"
	"fmt"
	"strings"
)

var formatLabels = map[Format]string{
	FormatPDF:  "PDF document",
	FormatTXT:  "text file",
	FormatDOC:  "Word document (.doc)",
	FormatDOCX: "Word document (.docx)",
	FormatPPT:  "PowerPoint presentation (.ppt)",
	FormatPPTX: "PowerPoint presentation (.pptx)",
	FormatXLS:  "Excel workbook (.xls)",
	FormatXLSX: "Excel workbook (.xlsx)",
}

// Label returns a human-readable name for f.
func (f Format) Label() string {
	if l, ok := formatLabels[f]; ok {
		return l
	}
	return "file"
}

// HumanSize formats a byte count the way notices display it.
func HumanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// UnsupportedNotice explains that name has no handler and lists what does.
func UnsupportedNotice(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Unsupported file type: %q cannot be processed for text extraction.\n\n", displayName(name))
	sb.WriteString("Supported formats:\n")
	for _, s := range supportedList {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("\nPlease convert the file to one of these formats and upload it again.")
	return sb.String()
}

// FailureNotice turns an extraction error into user guidance.
func FailureNotice(doc Document, f Format, err error) string {
	name := displayName(doc.Name)
	switch {
	case errors.Is(err, ErrPasswordProtected):
		return fmt.Sprintf("The %s %q is password protected or encrypted, so its text could not be read.\n\n"+
			"To fix this, open the file, remove the password protection (or save an unprotected copy), and upload it again.",
			f.Label(), name)
	case errors.Is(err, ErrDamaged):
		return fmt.Sprintf("The %s %q appears to be damaged or is not a valid %s file, so its text could not be read.\n\n"+
			"To fix this, re-export or re-save the file from the application that created it and upload it again. "+
			"Exporting to PDF usually works.\n\nDetails: %s",
			f.Label(), name, strings.ToUpper(string(f)), TruncateRunes(err.Error(), 300))
	case errors.Is(err, ErrEmptyDocument):
		return fmt.Sprintf("The file %q is empty (0 bytes). Please check the file and upload it again.", name)
	case errors.Is(err, ErrTooLarge):
		return fmt.Sprintf("The file %q (%s) is too large for text extraction. "+
			"Please split it into smaller files or export the relevant part to PDF.", name, HumanSize(doc.Size()))
	default:
		return fmt.Sprintf("Error extracting text from the %s %q: %s\n\n"+
			"The file was stored, but its content is not available for search or chat. "+
			"Re-saving the file or exporting it to PDF may help.",
			f.Label(), name, TruncateRunes(err.Error(), 300))
	}
}

// NoTextNotice is used when a reader succeeded but found nothing.
func NoTextNotice(doc Document, f Format) string {
	return fmt.Sprintf("No extractable text was found in the %s %q (%s). "+
		"The file may contain only images or embedded objects. Exporting it to PDF lets image text be recognized.",
		f.Label(), displayName(doc.Name), HumanSize(doc.Size()))
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	return name
}

