package helper

import (
	"regexp"
	"strings"
)

// UserServer is the domain suffix of individual WhatsApp accounts.
const UserServer = "s.whatsapp.net"

var (
	phoneFormat   = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigitChars = regexp.MustCompile(`[^\d]`)
)

// NormalizeAddress turns a caller-supplied recipient into a full address.
// Anything that already carries a domain ("...@s.whatsapp.net", "...@g.us")
// is kept; a bare phone number is stripped of formatting and gets the user
// server appended.
func NormalizeAddress(to string) string {
	to = strings.TrimSpace(to)
	if to == "" || strings.Contains(to, "@") {
		return to
	}
	if phoneFormat.MatchString(to) {
		to = nonDigitChars.ReplaceAllString(to, "")
	}
	return to + "@" + UserServer
}

// ExtractPhoneFromJID drops the device and server parts of a JID:
// "5511999999999:12@s.whatsapp.net" -> "5511999999999".
func ExtractPhoneFromJID(jid string) string {
	beforeAt, _, _ := strings.Cut(jid, "@")
	user, _, _ := strings.Cut(beforeAt, ":")
	return user
}

// CleanNumber keeps only the digits of a phone number.
func CleanNumber(phone string) string {
	return nonDigitChars.ReplaceAllString(phone, "")
}
