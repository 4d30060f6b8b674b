package auth

import (
	"net/http"
	"time"
)

const cookieName = "token"

// SetAuthCookie attaches the session token to the response as an
// httpOnly, same-site cookie so scripts never read it.
func SetAuthCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookie expires the session cookie immediately.
func ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// IdentityFromRequest extracts the caller's identity from the session
// cookie. A missing, invalid or expired token is not an error: the
// request simply proceeds as anonymous (nil claims).
func IdentityFromRequest(r *http.Request) *CustomClaims {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	claims, err := ValidateToken(cookie.Value)
	if err != nil {
		return nil
	}
	return claims
}
