package core

// Config holds the identity-provider settings shared by every platform
// embedding. It is immutable once constructed; the controller reads it once.
type Config struct {
	// AuthDomain is the origin of the provider's hosted UI,
	// e.g. "https://myapp.auth.eu-west-1.amazoncognito.com".
	AuthDomain string
	ClientID   string
	// RedirectURI is the default callback target. Mobile embeddings may
	// override it per call with a deep-link scheme.
	RedirectURI string
	APIBaseURL  string

	// UserPoolID identifies the provider's user pool. Only the web embedding
	// needs it; set RequireUserPool there so IsConfigured enforces it.
	UserPoolID      string
	RequireUserPool bool
}

// IsConfigured reports whether the settings needed to run the login flow are
// present. Pure; safe to call before any I/O. An unconfigured core turns
// every session operation into a logged no-op rather than an error.
func (c Config) IsConfigured() bool {
	if c.AuthDomain == "" || c.ClientID == "" {
		return false
	}
	if c.RequireUserPool && c.UserPoolID == "" {
		return false
	}
	return true
}
