// Package cookies holds the cookie types shared by the browser acquirer and
// the session gateway, plus the name-keyed jar the gateway replays from.
package cookies

import (
	"net/http"
	"sort"
	"strings"
)

// Cookie is one cookie as seen by the browser.
// Value is sensitive: it must never be logged or put in an error message.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	// Expiry is a Unix timestamp in seconds. Zero means a session cookie.
	Expiry int64 `json:"expiry,omitempty"`
}

// Find returns the first cookie called name.
func Find(cs []Cookie, name string) (Cookie, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return Cookie{}, false
}

// Names returns the cookie names in the order given. Safe to log.
func Names(cs []Cookie) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return names
}

// Jar maps cookie name to value. Cookies that differ only by domain or path
// collapse into one entry, which is fine while a single storefront is targeted.
type Jar map[string]string

// FromCookies builds a jar from a browser cookie list. Later duplicates win.
func FromCookies(cs []Cookie) Jar {
	j := make(Jar, len(cs))
	for _, c := range cs {
		j[c.Name] = c.Value
	}
	return j
}

// Clone returns an independent copy of j.
func (j Jar) Clone() Jar {
	out := make(Jar, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// Merge overlays the Set-Cookie entries of a response onto j, inserting or
// overwriting by name. Entries absent from set are left alone.
// It returns the names that were written.
func (j Jar) Merge(set []*http.Cookie) []string {
	written := make([]string, 0, len(set))
	for _, c := range set {
		if c == nil || c.Name == "" {
			continue
		}
		j[c.Name] = c.Value
		written = append(written, c.Name)
	}
	return written
}

// Header serializes j into a Cookie request header value. Names from extra
// are appended only when j does not already carry them. Output is sorted by
// name so the same jar always yields the same header.
func (j Jar) Header(extra map[string]string) string {
	all := make(map[string]string, len(j)+len(extra))
	for k, v := range extra {
		all[k] = v
	}
	for k, v := range j {
		all[k] = v
	}

	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+all[name])
	}
	return strings.Join(parts, "; ")
}
