package acquire

import "github.com/pkg/errors"

var (
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrHTTPStatus        = errors.New("unexpected http status")
	ErrCorruptImage      = errors.New("corrupt image")
	ErrSizeMismatch      = errors.New("image size mismatch")
	ErrChecksumMismatch  = errors.New("image checksum mismatch")
)
