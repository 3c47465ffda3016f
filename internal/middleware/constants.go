package middleware

// HTTP header constants.
const (
	HeaderContentType       = "Content-Type"
	HeaderOrigin            = "Origin"
	HeaderVary              = "Vary"
	HeaderXRequestID        = "X-Request-ID"
	HeaderXForwardedFor     = "X-Forwarded-For"
	HeaderXRealIP           = "X-Real-IP"
	HeaderCacheControl      = "Cache-Control"
	HeaderXContentType      = "X-Content-Type-Options"
	HeaderReferrerPolicy    = "Referrer-Policy"
	HeaderXFrameOptions     = "X-Frame-Options"
	HeaderAccessControlReqM = "Access-Control-Request-Method"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// errInternalServerError is written when a panic is recovered.
const errInternalServerError = `{"success":false,"code":"server_error","error":"Unexpected server error."}`
