package remote

import "strings"

// Normalize converts backslashes to forward slashes, collapses runs of '/', and strips a trailing slash except on
// root "/". It is idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")

	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	p = b.String()

	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// Join normalizes base and part, strips base's trailing slash and part's leading slash, and concatenates them with a
// single '/'. An empty base yields a result prefixed with '/'.
func Join(base, part string) string {
	base = Normalize(base)
	part = Normalize(part)

	base = strings.TrimRight(base, "/")
	part = strings.TrimLeft(part, "/")

	if base == "" {
		return "/" + part
	}
	if part == "" {
		return base
	}
	return base + "/" + part
}
