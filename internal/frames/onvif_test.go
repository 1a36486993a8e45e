package frames

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeProfileToken(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{
			"trt prefix",
			`<trt:GetProfilesResponse><trt:Profiles token="Profile_1" fixed="true"><tt:Name>main</tt:Name></trt:Profiles></trt:GetProfilesResponse>`,
			"Profile_1", true,
		},
		{
			"no prefix",
			`<GetProfilesResponse><Profiles token="prof0"/></GetProfilesResponse>`,
			"prof0", true,
		},
		{
			"singular element",
			`<Profile token="MediaProfile000" fixed="true"/>`,
			"MediaProfile000", true,
		},
		{
			"first of several",
			`<trt:Profiles token="main"/><trt:Profiles token="sub"/>`,
			"main", true,
		},
		{"empty response", `<trt:GetProfilesResponse/>`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ScrapeProfileToken(tt.body)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScrapeStreamURI(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{
			"tt prefix",
			`<trt:GetStreamUriResponse><trt:MediaUri><tt:Uri>rtsp://192.168.1.10:554/Streaming/Channels/101</tt:Uri></trt:MediaUri></trt:GetStreamUriResponse>`,
			"rtsp://192.168.1.10:554/Streaming/Channels/101", true,
		},
		{
			"no prefix with escaped query",
			`<MediaUri><Uri>rtsp://cam/live?channel=1&amp;subtype=0</Uri></MediaUri>`,
			"rtsp://cam/live?channel=1&subtype=0", true,
		},
		{
			"whitespace around uri",
			"<tt:Uri>\n  rtsp://cam/main\n</tt:Uri>",
			"rtsp://cam/main", true,
		},
		{
			"http fallback",
			`<tt:Uri>http://cam/video.mjpg</tt:Uri>`,
			"http://cam/video.mjpg", true,
		},
		{"no uri element", `<trt:GetStreamUriResponse/>`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ScrapeStreamURI(tt.body)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOnvifDigest(t *testing.T) {
	nonce := []byte("0123456789abcdef")
	created := "2026-03-10T09:00:00Z"

	digest := onvifDigest(nonce, created, "secret")
	raw, err := base64.StdEncoding.DecodeString(digest)
	require.NoError(t, err)
	assert.Len(t, raw, 20, "SHA1 digest")

	assert.Equal(t, digest, onvifDigest(nonce, created, "secret"))
	assert.NotEqual(t, digest, onvifDigest(nonce, created, "other"))
	assert.NotEqual(t, digest, onvifDigest([]byte("ffffffffffffffff"), created, "secret"))
}

func TestOnvifRequestEnvelope(t *testing.T) {
	req := onvifRequest("admin", "hunter2!", onvifGetProfilesBody)
	assert.Contains(t, req, `<wsse:Username>admin</wsse:Username>`)
	assert.Contains(t, req, "PasswordDigest")
	assert.NotContains(t, req, "hunter2!", "password never travels in clear")
	assert.Contains(t, req, onvifGetProfilesBody)

	anon := onvifRequest("", "", onvifGetProfilesBody)
	assert.Contains(t, anon, "<s:Header></s:Header>")
}

func TestResolveONVIF(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.Contains(string(body), "GetProfiles"):
			assert.Contains(t, string(body), "<wsse:Username>admin</wsse:Username>")
			io.WriteString(w, `<s:Envelope><s:Body><trt:GetProfilesResponse><trt:Profiles token="Profile_1"/></trt:GetProfilesResponse></s:Body></s:Envelope>`)
		case strings.Contains(string(body), "GetStreamUri"):
			assert.Contains(t, string(body), "<trt:ProfileToken>Profile_1</trt:ProfileToken>")
			io.WriteString(w, `<s:Envelope><s:Body><trt:GetStreamUriResponse><trt:MediaUri><tt:Uri>rtsp://cam:554/main&amp;unicast=true</tt:Uri></trt:MediaUri></trt:GetStreamUriResponse></s:Body></s:Envelope>`)
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}))
	defer ts.Close()

	src := NewSource(NewGrabberRegistry(""), nil, "")
	uri, err := src.ResolveONVIF(context.Background(), ts.URL+"/onvif/media", "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam:554/main&unicast=true", uri)
}

func TestResolveONVIFNoProfiles(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<s:Envelope><s:Body><trt:GetProfilesResponse/></s:Body></s:Envelope>`)
	}))
	defer ts.Close()

	src := NewSource(NewGrabberRegistry(""), nil, "")
	_, err := src.ResolveONVIF(context.Background(), ts.URL, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no media profile")
}

func TestResolveONVIFDeviceDown(t *testing.T) {
	src := NewSource(NewGrabberRegistry(""), nil, "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := src.ResolveONVIF(ctx, "http://127.0.0.1:1/onvif/media", "", "")
	assert.Error(t, err)
}
