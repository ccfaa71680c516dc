package httpapi

import "golang.org/x/time/rate"

const defaultMaxBodyBytes = 1 << 20

// maxBodyBytes caps JSON request bodies.
var maxBodyBytes int64 = defaultMaxBodyBytes

// SetMaxBodyBytes sets the request body limit; n <= 0 restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// queryTimeout bounds a /query request in seconds. Zero means no limit
// beyond server and connection timeouts.
var queryTimeout = int64(0)

// SetQueryTimeoutSeconds sets the /query timeout (0 disables).
func SetQueryTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	queryTimeout = sec
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS for muxes built afterwards.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// queryLimiter throttles POST /query; nil disables rate limiting.
var queryLimiter *rate.Limiter

// SetRateLimit allows rps queries per second with the given burst. rps <= 0
// disables the limit.
func SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		queryLimiter = nil
		return
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	queryLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}
