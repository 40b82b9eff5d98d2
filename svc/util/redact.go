package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"unicode/utf8"
)

const previewRunes = 60

// RedactPasteContent returns a short preview of a paste body for logs.
func RedactPasteContent(content string) string {
	if len(content) == 0 {
		return ""
	}
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	n := 0
	for i := range content {
		if n == previewRunes {
			return content[:i] + "...[TRUNCATED]"
		}
		n++
	}
	return content
}
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
