package frames

import (
	"regexp"
	"strings"
)

// Vendor-specific rewrites from a main high-resolution stream URL to its
// low-resolution substream. Detection polls the substream so the main stream
// stays free for full-quality playback. Kept as a pure pattern table so it
// is testable without touching any camera.
var substreamRules = []struct {
	pattern *regexp.Regexp
	replace string
}{
	// Hikvision: /Streaming/Channels/101 -> /Streaming/Channels/102
	{regexp.MustCompile(`(/Streaming/Channels/\d)01(\b|$)`), "${1}02$2"},
	// Dahua / Amcrest: subtype=0 -> subtype=1
	{regexp.MustCompile(`([?&]subtype=)0(\b|$)`), "${1}1$2"},
	// Uniview: /media/video1 -> /media/video2
	{regexp.MustCompile(`(/media/video)1(\b|$)`), "${1}2$2"},
	// Reolink: main -> sub channel path
	{regexp.MustCompile(`(/h26\dPreview_\d\d_)main`), "${1}sub"},
	// Generic: .../main or stream1 suffixes
	{regexp.MustCompile(`(/)main(\b|$)`), "${1}sub$2"},
	{regexp.MustCompile(`(/stream)1(\b|$)`), "${1}2$2"},
}

// SubstreamURL derives the low-resolution variant of mainURL. If no known
// vendor pattern matches, the main URL is returned unchanged.
func SubstreamURL(mainURL string) string {
	for _, rule := range substreamRules {
		if rule.pattern.MatchString(mainURL) {
			return rule.pattern.ReplaceAllString(mainURL, rule.replace)
		}
	}
	return mainURL
}

// Rewrites from an IP-camera base or snapshot URL to its MJPEG streaming
// endpoint. Applied to http/https URLs before handing them to the decoder.
var mjpegRules = []struct {
	pattern *regexp.Regexp
	replace string
}{
	// Axis: /jpg/image.jpg snapshot -> mjpg stream
	{regexp.MustCompile(`/jpg/image\.jpg$`), "/mjpg/video.mjpg"},
	// Foscam-style CGI snapshot -> videostream
	{regexp.MustCompile(`/snapshot\.cgi(\?.*)?$`), "/videostream.cgi$1"},
	// Generic: bare host root -> conventional mjpeg path
	{regexp.MustCompile(`^(https?://[^/]+)/?$`), "${1}/video.mjpg"},
}

// NormalizeHTTPStream maps an HTTP camera URL to its streaming endpoint.
// URLs already pointing at a stream pass through unchanged.
func NormalizeHTTPStream(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, ".mjpg") || strings.Contains(lower, ".mjpeg") ||
		strings.Contains(lower, "videostream") || strings.Contains(lower, "/video") {
		return rawURL
	}
	for _, rule := range mjpegRules {
		if rule.pattern.MatchString(rawURL) {
			return rule.pattern.ReplaceAllString(rawURL, rule.replace)
		}
	}
	return rawURL
}

// IsSnapshotURL reports whether the URL points at a single-image endpoint
// rather than a stream.
func IsSnapshotURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") ||
		strings.Contains(lower, "snapshot")
}
