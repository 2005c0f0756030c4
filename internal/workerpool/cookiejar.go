package workerpool

import (
	"net/http/cookiejar"
)

// newCookieJar builds a fresh, empty in-memory cookie jar. A new jar per
// scenario execution keeps one virtual user's cookies from leaking into
// another's.
func newCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(nil)
}
