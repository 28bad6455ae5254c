package icap

import "strings"

// TransferPreviewAll requests preview data for every content type.
const TransferPreviewAll = "*"

// ServiceConfig is the mutable handle passed to Service.Activate. The host
// freezes it into Settings once activation succeeds.
type ServiceConfig struct {
	previewSize     int
	allow204        bool
	transferPreview string
}

// SetPreview sets the number of preview bytes requested from the client.
func (c *ServiceConfig) SetPreview(n int) {
	if n < 0 {
		n = 0
	}
	c.previewSize = n
}

// Enable204 allows "no modification needed" responses.
func (c *ServiceConfig) Enable204() {
	c.allow204 = true
}

// SetTransferPreview sets the content types for which preview is requested.
// The pattern is "*" or a comma-separated list of content-type prefixes.
func (c *ServiceConfig) SetTransferPreview(pattern string) {
	c.transferPreview = strings.TrimSpace(pattern)
}

// Settings returns the immutable snapshot of the configuration.
func (c *ServiceConfig) Settings() Settings {
	return Settings{
		PreviewSize:     c.previewSize,
		Allow204:        c.allow204,
		TransferPreview: c.transferPreview,
	}
}

// Settings is the process-wide service configuration after activation.
type Settings struct {
	PreviewSize     int
	Allow204        bool
	TransferPreview string
}

// WantsPreview reports whether preview bytes are requested for the given
// Content-Type value.
func (s Settings) WantsPreview(contentType string) bool {
	if s.PreviewSize <= 0 || s.TransferPreview == "" {
		return false
	}
	if s.TransferPreview == TransferPreviewAll {
		return true
	}
	ct := strings.ToLower(contentType)
	for _, p := range strings.Split(s.TransferPreview, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}
