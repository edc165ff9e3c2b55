package httpapi

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer checks the Authorization header against the configured
// static token. The comparison is constant time so the token cannot be
// recovered byte by byte from response timing.
func authorizeBearer(authHeader, token string) *authError {
	raw, ok := parseBearer(authHeader)
	if !ok {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "missing bearer token",
		}
	}
	if !hmac.Equal([]byte(raw), []byte(token)) {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "invalid bearer token",
		}
	}
	return nil
}

func parseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
