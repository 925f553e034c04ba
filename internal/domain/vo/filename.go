package vo

import (
	"errors"
	"path"
	"strings"
	"unicode/utf8"
)

// Filename represents a sanitized, path-safe file name value object.
// Construction strips directory components and characters that are unsafe
// on common filesystems, so a Filename can always be joined under a
// destination directory without escaping it.
type Filename struct {
	name string
}

// MaxFilenameBytes caps the byte length of a sanitized name. Most
// filesystems reject longer components.
const MaxFilenameBytes = 255

var (
	ErrEmptyFilename = errors.New("filename is empty after sanitization")
)

// reservedChars are rejected on at least one supported platform.
const reservedChars = `<>:"|?*`

// NewFilename sanitizes raw and returns it as a Filename value object.
// Returns ErrEmptyFilename when nothing safe remains.
func NewFilename(raw string) (Filename, error) {
	name := sanitize(raw)
	if name == "" {
		return Filename{}, ErrEmptyFilename
	}
	return Filename{name: name}, nil
}

// MustFilename creates a new Filename, panicking if invalid.
func MustFilename(raw string) Filename {
	f, err := NewFilename(raw)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the sanitized name.
func (f Filename) String() string {
	return f.name
}

// IsZero returns true if the value object is empty.
func (f Filename) IsZero() bool {
	return f.name == ""
}

// Ext returns the extension including the leading dot, or "".
func (f Filename) Ext() string {
	return path.Ext(f.name)
}

// Stem returns the name without its extension.
func (f Filename) Stem() string {
	return strings.TrimSuffix(f.name, path.Ext(f.name))
}

// WithExt returns a copy whose extension is replaced by ext. An empty
// ext removes the extension; a missing leading dot is added.
func (f Filename) WithExt(ext string) Filename {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Filename{name: truncate(f.Stem()+ext, MaxFilenameBytes)}
}

// Equals returns true if both names are equal.
func (f Filename) Equals(other Filename) bool {
	return f.name == other.name
}

// sanitize reduces raw to a single safe path component. The empty string
// means no safe name could be salvaged and the caller should fall back
// to its next candidate.
func sanitize(raw string) string {
	raw = strings.ReplaceAll(raw, "\\", "/")
	raw = path.Base(raw)
	if raw == "." || raw == ".." || raw == "/" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if strings.ContainsRune(reservedChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	name := strings.Trim(b.String(), " .")
	return truncate(name, MaxFilenameBytes)
}

// truncate shortens name to at most limit bytes, keeping the extension
// and never splitting a rune.
func truncate(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := path.Ext(name)
	if len(ext) >= limit {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	keep := limit - len(ext)
	for keep > 0 && !utf8.RuneStart(stem[keep]) {
		keep--
	}
	return stem[:keep] + ext
}
