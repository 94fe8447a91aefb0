// Package version holds build identification baked into Plex client headers
// and the status API.
package version

// Version is the release version, overridable at build time with
// -ldflags "-X introskip/internal/version.Version=x.y.z".
var Version = "dev"

// Product is the application name presented to Plex.
const Product = "introskip"
