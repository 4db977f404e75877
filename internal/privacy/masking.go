package privacy

import "strings"

// MaskPhone hides a phone number down to its last four digits.
// "+5511999990000" becomes "+**********0000".
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		rest := phone[1:]
		if len(rest) <= 4 {
			return "+" + strings.Repeat("*", len(rest))
		}
		return "+" + strings.Repeat("*", len(rest)-4) + rest[len(rest)-4:]
	}

	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskJID masks the user part of a gateway jid while keeping the domain,
// so log lines still show whether an id was a phone jid or an opaque one.
// "5511999990000@s.whatsapp.net" becomes "*********0000@s.whatsapp.net".
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	at := strings.Index(jid, "@")
	if at < 0 {
		return MaskPhone(jid)
	}
	return MaskPhone(jid[:at]) + jid[at:]
}

// MaskName keeps the first rune of a contact name and hides the rest.
func MaskName(name string) string {
	if name == "" {
		return ""
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return "*"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}
