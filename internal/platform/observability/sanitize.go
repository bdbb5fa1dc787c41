package observability

import "github.com/shopsite/fulfillment/internal/platform/textutil"

// Caps on request-derived values written to logs and span attributes.
const (
	routeLimit     = 180
	methodLimit    = 10
	userIDLimit    = 64
	addressLimit   = 64
	hostLimit      = 128
	userAgentLimit = 256
)

// SanitizeRoute strips control characters from a path or route pattern. Empty routes
// log as "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return textutil.StripControl(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return textutil.StripControl(method, methodLimit)
}

// SanitizeUserID bounds caller ids copied into log fields.
func SanitizeUserID(uid string) string {
	return textutil.StripControl(uid, userIDLimit)
}
