package auth

import (
	"net/http"
	"strings"

	"peritaje/api/internal/logger"
)

type TokenValidator interface {
	Validate(token string) (Claims, error)
}

// Middleware attaches an authentication Result to every request. It never
// writes a response; handlers decide what an anonymous caller may do.
func Middleware(validator TokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := Anonymous()
			if token, ok := BearerToken(r); ok {
				claims, err := validator.Validate(token)
				if err != nil {
					log.Debug("bearer token rejected", "kind", FailureKind(err), "path", r.URL.Path)
				} else {
					result = Authenticated(BuildPrincipal(claims))
				}
			}
			next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), result)))
		})
	}
}

// BearerToken reports the token of an "Authorization: Bearer" header. ok is
// false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}
