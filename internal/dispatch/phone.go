package dispatch

import "strings"

// NormalizePhone strips every character that is not an ASCII digit. The
// session layer appends its own addressing suffix.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
