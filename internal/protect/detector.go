package protect

import (
	"path/filepath"
	"strings"
	"sync"
)

// Detector checks if file paths are in protected areas.
// Two strategies apply, in order:
// 1. Glob patterns (e.g., .git/**, **/secrets/**)
// 2. File types (e.g., .pem, .env)
type Detector struct {
	mu        sync.RWMutex
	patterns  []glob
	fileTypes []string
}

// New creates a detector with the default patterns plus any extra ones.
func New(extraPatterns ...string) *Detector {
	d := &Detector{fileTypes: append([]string{}, DefaultFileTypes...)}
	for _, p := range DefaultPatterns {
		d.patterns = append(d.patterns, compileGlob(p))
	}
	for _, p := range extraPatterns {
		d.patterns = append(d.patterns, compileGlob(p))
	}
	return d
}

// IsProtected checks if a repo-relative path matches any protected area.
func (d *Detector) IsProtected(path string) bool {
	protected, _ := d.IsProtectedWithReason(path)
	return protected
}

// IsProtectedWithReason checks if a path is protected and returns the reason.
func (d *Detector) IsProtectedWithReason(path string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "./")

	for _, g := range d.patterns {
		if g.match(normalized) {
			return true, "path matches protected pattern " + g.String()
		}
	}

	base := strings.ToLower(filepath.Base(normalized))
	ext := strings.ToLower(filepath.Ext(normalized))
	for _, protectedExt := range d.fileTypes {
		// Dotfiles such as ".env" have no extension of their own.
		if ext == protectedExt || base == protectedExt {
			return true, "file type is protected: " + protectedExt
		}
	}
	return false, ""
}

// AddPattern adds a glob pattern to the protected patterns list.
func (d *Detector) AddPattern(pattern string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, compileGlob(pattern))
}

// AddFileType adds a file extension to the protected file types list.
func (d *Detector) AddFileType(ext string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileTypes = append(d.fileTypes, strings.ToLower(ext))
}
