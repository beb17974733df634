package metadata

import (
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"camclass/pkg/logger"
)

// Extractor is the narrow interface the batch runner depends on for
// capture timestamps. A missing or unparseable timestamp is reported as
// absent, never as an error: metadata can never halt a run.
type Extractor interface {
	CapturedAt(imagePath string) (time.Time, bool)
}

// Func adapts a plain function to the Extractor interface.
type Func func(imagePath string) (time.Time, bool)

func (f Func) CapturedAt(imagePath string) (time.Time, bool) {
	return f(imagePath)
}

// EXIFExtractor reads the capture timestamp from the image's EXIF block
// (DateTimeOriginal, falling back to DateTime).
type EXIFExtractor struct {
	logger logger.Logger
}

// NewEXIF creates an EXIF-based capture timestamp extractor
func NewEXIF() *EXIFExtractor {
	return &EXIFExtractor{logger: logger.GetLogger()}
}

// CapturedAt returns the EXIF capture time of the image, if present
func (e *EXIFExtractor) CapturedAt(imagePath string) (time.Time, bool) {
	file, err := os.Open(imagePath)
	if err != nil {
		e.logger.DebugWithFields("Cannot open image for metadata", map[string]interface{}{
			"path":  imagePath,
			"error": err.Error(),
		})
		return time.Time{}, false
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return time.Time{}, false
	}

	tm, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}

	return tm, true
}
