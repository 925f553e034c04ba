package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/domain/vo"
)

// Resolver derives a safe target filename for a remote resource. The
// candidates are tried in priority order: the caller's explicit override,
// the name declared by the server, the last URL path segment, and a
// generated fallback. A candidate that sanitizes to nothing falls through
// to the next one rather than failing.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a new Resolver
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve produces a non-empty, filesystem-safe filename for the
// resource. Returns domain.ErrNoFilename only when even the generated
// fallback sanitizes to nothing.
func (r *Resolver) Resolve(res *domain.RemoteResource, override string) (string, error) {
	if override != "" {
		if name, err := vo.NewFilename(override); err == nil {
			return name.String(), nil
		}
		r.logger.Debug("override filename unusable, falling through",
			zap.String("override", override))
	}

	if res.Filename != "" {
		if name, err := vo.NewFilename(res.Filename); err == nil {
			r.logger.Debug("filename from content disposition",
				zap.String("filename", name.String()))
			return name.String(), nil
		}
	}

	if segment := lastURLSegment(res.URL); segment != "" {
		if name, err := vo.NewFilename(segment); err == nil {
			if name.Ext() == "" {
				if ext := extFromContentType(res.ContentType); ext != "" {
					name = name.WithExt(ext)
				}
			}
			r.logger.Debug("filename from url path",
				zap.String("filename", name.String()))
			return name.String(), nil
		}
	}

	fallback := fmt.Sprintf("download-%s", domain.HashURL(res.URL)[:12])
	if ext := extFromContentType(res.ContentType); ext != "" {
		fallback += ext
	}
	if name, err := vo.NewFilename(fallback); err == nil {
		r.logger.Debug("filename generated from url hash",
			zap.String("filename", name.String()))
		return name.String(), nil
	}

	return "", domain.ErrNoFilename
}

// lastURLSegment returns the decoded last path segment of the URL with
// query and fragment stripped, or "" when the path has none.
func lastURLSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segment := path.Base(parsed.Path)
	if segment == "/" || segment == "." {
		return ""
	}
	return segment
}

// extFromContentType guesses a file extension from a media type. Only
// the unambiguous top-level types get one, so an octet-stream never
// grows a bogus suffix.
func extFromContentType(contentType string) string {
	parts := strings.SplitN(contentType, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	switch parts[0] {
	case "image", "video", "audio", "text":
		subtype := parts[1]
		// svg+xml and friends keep only the part before the plus
		if i := strings.Index(subtype, "+"); i >= 0 {
			subtype = subtype[:i]
		}
		if subtype == "" {
			return ""
		}
		return "." + subtype
	}
	return ""
}
