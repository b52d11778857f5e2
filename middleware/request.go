package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

// ClientIP returns the host part of RemoteAddr. Forwarding headers are
// ignored because any client can set them; use [ProxyTrust] behind a
// reverse proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ProxyTrust resolves client addresses behind reverse proxies. Forwarding
// headers are read only when the direct peer is inside a trusted range.
// A nil *ProxyTrust trusts nobody.
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust parses CIDR ranges (or bare addresses) of trusted proxies.
func NewProxyTrust(ranges ...string) (*ProxyTrust, error) {
	p := &ProxyTrust{}
	for _, raw := range ranges {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: invalid address", raw)
			}
			bits := 128
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 32
			}
			p.nets = append(p.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		p.nets = append(p.nets, n)
	}
	return p, nil
}

// Ranges returns the parsed trusted ranges.
func (p *ProxyTrust) Ranges() []*net.IPNet {
	if p == nil {
		return nil
	}
	return p.nets
}

func (p *ProxyTrust) trusts(addr string) bool {
	if p == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the nearest untrusted address. When the direct peer is a
// trusted proxy, X-Forwarded-For is walked from the right past trusted hops;
// X-Real-IP is used when no forwarded hop remains.
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	peer := ClientIP(r)
	if !p.trusts(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			return peer
		}
		if !p.trusts(hop) {
			return hop
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return peer
}

// RequestMeta copies the client IP and User-Agent into the request context
// so Engine rate limits and security events see them.
func (p *ProxyTrust) RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), p.ClientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestMeta is [ProxyTrust.RequestMeta] with no trusted proxies.
func RequestMeta(next http.Handler) http.Handler {
	var p *ProxyTrust
	return p.RequestMeta(next)
}

// ErrorBody is the JSON shape written for rejected requests.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteError renders err as its public status and code. Rate limit errors
// also set Retry-After in whole seconds.
func WriteError(w http.ResponseWriter, err error) {
	status, code := authcore.PublicError(err)
	if wait, ok := authcore.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(wait.Seconds())))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: code})
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(seconds float64) int {
	n := int(math.Ceil(seconds))
	if n < 1 {
		return 1
	}
	return n
}
