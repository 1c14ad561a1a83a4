package webutil

const (
	// Header Keys
	HeaderContentType = "Content-Type"
	HeaderRetryAfter  = "Retry-After"
	HeaderAppToken    = "cl-x-token"

	// Content Types
	ContentTypeJSON          = "application/json"
	ContentTypeJSONUTF8      = "application/json; charset=utf-8"
	ContentTypeTextPlainUTF8 = "text/plain; charset=utf-8"
)
