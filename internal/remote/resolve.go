package remote

import "strings"

// Well-known ports behind the default one.
const (
	RestconfPort = "8545"
	MDTPort      = "8547"
)

// ResolveURL maps a server-relative path to a full https URL.
//
// With the default (or empty) port, and for log queries, the default https
// port is used. Any other configured port is used as-is, except that when it
// is the RESTCONF port, non-RESTCONF paths are sent to the MDT port.
func ResolveURL(address, port, path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path
	}
	base := "https://" + address
	switch {
	case port == "443" || port == "":
		return base + path
	case strings.HasPrefix(path, "/logviewer"):
		return base + path
	case port != RestconfPort:
		return base + ":" + port + path
	case strings.HasPrefix(path, "/restconf"):
		return base + ":" + RestconfPort + path
	default:
		return base + ":" + MDTPort + path
	}
}
