package tools

import (
	"net"
	"net/http"
	"time"
)

const (
	layoutInput = "2006-01-02T15:04"
	// Matches how go-sqlite3 stores DATETIME columns
	LayoutDB = "2006-01-02 15:04:05"
)

var privateBlocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, block := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8", "::1/128", "fc00::/7"} {
		_, cidr, _ := net.ParseCIDR(block)
		blocks = append(blocks, cidr)
	}
	return blocks
}()

// Prevent out-of-network requests to dashboard endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !IsLocalAddress(parsedIP) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IsLocalAddress reports whether ip is loopback or in a private range.
func IsLocalAddress(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseStartAndEndDate reads the start and end form values (layout
// 2006-01-02T15:04, interpreted in loc) and returns them in UTC. Missing or
// malformed values fall back to the last 8 hours.
func ParseStartAndEndDate(r *http.Request, loc *time.Location, now time.Time) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	end := now.UTC()
	start := end.Add(-8 * time.Hour)

	_ = r.ParseForm()
	startDate := r.FormValue("start")
	endDate := r.FormValue("end")
	if startDate == "" || endDate == "" {
		return start, end
	}

	s, err := time.ParseInLocation(layoutInput, startDate, loc)
	if err != nil {
		return start, end
	}
	e, err := time.ParseInLocation(layoutInput, endDate, loc)
	if err != nil {
		return start, end
	}
	return s.UTC(), e.UTC()
}
