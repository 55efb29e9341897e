package retry

import "net/http"

// StatusFunc extracts a backend status code and error code name from err.
// ok is false when err carries no backend metadata (e.g. a dial failure).
type StatusFunc func(err error) (status int, code string, ok bool)

var terminalCodes = map[string]struct{}{
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"AccessDenied":          {},
}

// HTTPStatusClassifier treats credential errors and 4xx responses other than
// 429 as terminal; network failures, 5xx and 429 are retried.
func HTTPStatusClassifier(statusOf StatusFunc) Classifier {
	return func(err error) bool {
		status, code, ok := statusOf(err)
		if !ok {
			return true
		}
		if _, terminal := terminalCodes[code]; terminal {
			return false
		}
		if status >= 400 && status < 500 {
			return status == http.StatusTooManyRequests
		}
		return true
	}
}
