package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// 호출자 IP
//
// SNS 는 AWS public 대역에서 호출하지만, shipper 는 보통 ALB 뒤에
// 있으므로 RemoteAddr 는 LB 주소다. 로그의 "caller" 필드에는
// X-Forwarded-For 의 첫 번째 public IP 를 우선 사용한다.
// 인증 용도로 쓰지 않는다 (헤더는 위조 가능).
// ------------------------------------------------------------

func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}

func parseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

// clientIP 우선순위:
//  1. X-Forwarded-For 의 첫 번째 public IP
//  2. RemoteAddr (private 이어도 그대로, 로컬 테스트 호출 구분용)
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// 예: "54.240.197.1, 10.0.1.24"
		for _, part := range strings.Split(xff, ",") {
			if ip := parseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
