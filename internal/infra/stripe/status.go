package stripe

import "strings"

// DisplayStatus collapses order states into the coarse paid / not-paid
// view end users get; the full state stays server-side.
func DisplayStatus(status string) string {
	switch strings.TrimSpace(status) {
	case "paid":
		return "paid"
	case "created", "pending":
		return "awaiting_payment"
	case "":
		return "none"
	default:
		return "not_paid"
	}
}
