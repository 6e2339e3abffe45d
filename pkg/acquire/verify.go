package acquire

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	// decoders registered for DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Verify checks that path holds a decodable image matching the size and checksum expected by
// target, when known. It returns the hex encoded sha256 of the file.
func Verify(path string, target Target) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to open image")
	}
	defer f.Close()

	h := sha256.New()
	tee := io.TeeReader(f, h)
	cfg, _, err := image.DecodeConfig(tee)
	if err != nil {
		return "", errors.Wrap(ErrCorruptImage, err.Error())
	}
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return "", errors.Wrap(err, "unable to read image")
	}

	if target.Width > 0 && target.Height > 0 && (cfg.Width != target.Width || cfg.Height != target.Height) {
		return "", errors.Wrapf(ErrSizeMismatch, "got %dx%d, want %dx%d", cfg.Width, cfg.Height, target.Width, target.Height)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if target.SHA256 != "" && !strings.EqualFold(target.SHA256, sum) {
		return "", errors.Wrapf(ErrChecksumMismatch, "got %s, want %s", sum, target.SHA256)
	}

	return sum, nil
}
