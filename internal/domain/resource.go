package domain

// SizeUnknown marks a transfer whose total length was never announced by
// the server. Percent and ETA are undefined while a size is unknown.
const SizeUnknown int64 = -1

// RemoteResource describes what probing the source URL revealed before
// any bytes were streamed.
type RemoteResource struct {
	// URL is the source after following redirects.
	URL string

	// Size is the announced total length, SizeUnknown when absent.
	Size int64

	// Filename is the name parsed from Content-Disposition, may be empty.
	Filename string

	// ContentType is the announced media type, may be empty.
	ContentType string

	// ETag is the validator used to detect server-side changes between
	// a failed attempt and its resume.
	ETag string

	// AcceptsRanges is true when the server honours byte-range requests.
	AcceptsRanges bool
}

// SizeKnown returns true when the server announced a total length
func (r *RemoteResource) SizeKnown() bool {
	return r.Size >= 0
}
