package walker

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	errs "camclass/pkg/errors"
	"camclass/pkg/logger"
	"camclass/pkg/models"
)

// Walker enumerates the work items of a survey tree. It holds no state
// between calls: every Enumerate re-walks the filesystem.
type Walker struct {
	extensions     map[string]bool
	segmentPattern *regexp.Regexp
	logger         logger.Logger
}

// Option configures a Walker
type Option func(*Walker)

// WithExtensions overrides the image extension allow-list
func WithExtensions(exts []string) Option {
	return func(w *Walker) {
		w.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			w.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithSegmentPattern overrides the block/camera segment validation pattern
func WithSegmentPattern(pattern string) Option {
	return func(w *Walker) {
		if re, err := regexp.Compile(pattern); err == nil {
			w.segmentPattern = re
		}
	}
}

// New creates a Walker with the default allow-list (.jpg, .jpeg, .png)
func New(opts ...Option) *Walker {
	w := &Walker{
		extensions: map[string]bool{
			".jpg":  true,
			".jpeg": true,
			".png":  true,
		},
		segmentPattern: regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]*$`),
		logger:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enumerate walks the tree rooted at rootPath and returns one WorkItem
// per recognized image, sorted lexicographically by path. Sorting makes
// the enumeration deterministic across repeated calls on an unchanged
// tree, which is what keeps checkpoint lookups by path valid on resume.
//
// Unreadable subdirectories are logged and skipped; only a root that
// cannot be walked at all fails the enumeration.
func (w *Walker) Enumerate(rootPath string) ([]models.WorkItem, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeEnumeration, "failed to resolve root path", err)
	}

	seen := make(map[string]bool)
	var items []models.WorkItem

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return errs.Wrap(errs.ErrorTypeEnumeration, "failed to walk root directory", err)
			}
			// A single unreadable subfolder must not abort the batch.
			w.logger.WarnWithFields("Skipping unreadable path", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != absRoot && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}

		// AppleDouble sidecar files masquerade as images.
		if strings.HasPrefix(name, "._") || strings.HasPrefix(name, ".") {
			return nil
		}
		if !w.extensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if seen[path] {
			return nil
		}
		seen[path] = true

		items = append(items, w.itemForPath(absRoot, path))
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})

	w.logger.InfoWithFields("Enumeration complete", map[string]interface{}{
		"root":  absRoot,
		"items": len(items),
	})

	return items, nil
}

// itemForPath derives the work item identifiers from the survey naming
// convention <block>/<camera>/<group>/<image> relative to the root.
// Segments that are missing or malformed resolve to the Unknown sentinel
// rather than failing the enumeration.
func (w *Walker) itemForPath(root, path string) models.WorkItem {
	item := models.WorkItem{
		Path:       path,
		GroupLabel: models.UnknownSegment,
		BlockID:    models.UnknownSegment,
		CameraID:   models.UnknownSegment,
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return item
	}

	parts := strings.Split(rel, string(filepath.Separator))
	// parts[len-1] is the file itself; group, camera and block sit one,
	// two and three levels above it.
	if label, ok := w.segment(parts, 2); ok {
		item.GroupLabel = label
	}
	if camera, ok := w.segment(parts, 3); ok {
		item.CameraID = camera
	}
	if block, ok := w.segment(parts, 4); ok {
		item.BlockID = block
	}

	return item
}

// segment returns the path segment sitting levelsFromFile above the file,
// validated against the segment pattern.
func (w *Walker) segment(parts []string, levelsFromFile int) (string, bool) {
	idx := len(parts) - levelsFromFile
	if idx < 0 {
		return "", false
	}
	seg := parts[idx]
	if !w.segmentPattern.MatchString(seg) {
		return "", false
	}
	return seg, true
}
