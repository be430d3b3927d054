package version

import (
	"fmt"
	"net/http"
	"runtime"
)

// This variables are injected at build time.

// VeilArtVersion hosts the version of the app.
var VeilArtVersion = "development"

// Commit is the commit hash of the build
var Commit string

// BuildDate is the date it was built
var BuildDate string

// GoVersion is the go version that was used to compile this
var GoVersion string

// UserAgent returns the User-Agent sent with every outbound HTTP request.
func UserAgent() string {
	return fmt.Sprintf("veilart/%s (%s/%s)", VeilArtVersion, runtime.GOOS, runtime.GOARCH)
}

// SetUserAgent sets the User-Agent header on req.
func SetUserAgent(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent())
}
