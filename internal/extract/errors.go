package extract

import (
	"errors"
	"strings"
)

var (
	// ErrPasswordProtected marks input that cannot be opened without a password.
	ErrPasswordProtected = errors.New("document is password protected")
	// ErrDamaged marks input whose container or structure could not be parsed.
	ErrDamaged = errors.New("document is damaged or invalid")
	// ErrEmptyDocument marks a zero-byte upload.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrTooLarge marks input above the configured byte ceiling.
	ErrTooLarge = errors.New("document exceeds size limit")
)

var (
	passwordMarkers = []string{"password", "encrypt", "decrypt"}
	damageMarkers   = []string{
		"corrupt", "damaged", "not a valid zip", "unexpected eof",
		"malformed", "invalid", "checksum", "missing %%eof", "not a pdf",
	}
)

// ClassifyError maps a library error onto ErrPasswordProtected or ErrDamaged
// by its message. Errors already carrying a sentinel are returned unchanged;
// unrecognized errors are returned as-is.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPasswordProtected) || errors.Is(err, ErrDamaged) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, passwordMarkers...) {
		return errors.Join(ErrPasswordProtected, err)
	}
	if containsAny(msg, damageMarkers...) {
		return errors.Join(ErrDamaged, err)
	}
	return err
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
