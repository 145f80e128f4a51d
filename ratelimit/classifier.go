package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClassifyByIP is the default Classifier. It prefers proxy-supplied client
// addresses (first X-Forwarded-For entry, then X-Real-IP) over the socket
// peer address.
func ClassifyByIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		return strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// ClassifyByHeader builds a Classifier that joins the given header values
// into one classification key. Use headers that are unique per client, such
// as an API key. A request missing any of the headers is not classified and
// therefore not limited.
func ClassifyByHeader(headers ...string) Classifier {
	return func(r *http.Request) string {
		values := make([]string, 0, len(headers))
		for _, key := range headers {
			value := strings.TrimSpace(r.Header.Get(key))
			if value == "" {
				return ""
			}
			values = append(values, value)
		}
		return strings.Join(values, "-")
	}
}
