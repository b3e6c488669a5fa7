package domain

// Context carries the request-scoped identity and metadata that every core
// operation needs for authorisation and auditing. It replaces ambient
// request-local state (session user, client IP) with an explicit value
// passed down the call chain.
type Context struct {
	User      string
	RequestIP string
	Headers   map[string]string
	Site      string
}

// Header returns the named header, case-sensitively, or "" if absent.
func (c Context) Header(name string) string {
	if c.Headers == nil {
		return ""
	}
	return c.Headers[name]
}

// IsSystemManager reports whether the caller has been granted the
// system-manager role, read from the X-Role-System-Manager header ("1")
// that whoever builds the Context sets. Role storage lives outside the
// core; the core only ever consults this flag, never a role table.
func (c Context) IsSystemManager() bool {
	return c.Headers["X-Role-System-Manager"] == "1"
}
