package schemas

// -- Session Artifact Models --

// CookieSameSite mirrors the browser's SameSite attribute values.
type CookieSameSite string

const (
	SameSiteStrict CookieSameSite = "Strict"
	SameSiteLax    CookieSameSite = "Lax"
	SameSiteNone   CookieSameSite = "None"
)

// Cookie is a single browser cookie captured from the driver.
type Cookie struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Domain   string         `json:"domain"`
	Path     string         `json:"path"`
	Expires  float64        `json:"expires"` // Unix timestamp; <= 0 means a session cookie.
	HTTPOnly bool           `json:"http_only"`
	Secure   bool           `json:"secure"`
	SameSite CookieSameSite `json:"same_site,omitempty"`
}

// SessionArtifact is the opaque blob sufficient to resume an authenticated
// session without repeating the login exchange.
type SessionArtifact struct {
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
}

// Empty reports whether the artifact carries nothing worth restoring.
func (a *SessionArtifact) Empty() bool {
	return a == nil || (len(a.Cookies) == 0 && len(a.LocalStorage) == 0 && len(a.SessionStorage) == 0)
}
