package surface

import "fmt"

// Banners are written inline into the terminal widget, between PTY output.
// Each one lands on its own line and resets styling afterwards so it never
// bleeds into session output.

// Banner formats an informational line.
func Banner(format string, args ...interface{}) string {
	return fmt.Sprintf("\r\n\x1b[2m── %s ──\x1b[0m\r\n", fmt.Sprintf(format, args...))
}

// ErrorBanner formats a failure line with a concrete next action.
func ErrorBanner(format string, args ...interface{}) string {
	return fmt.Sprintf("\r\n\x1b[31m✖ %s\x1b[0m\r\n", fmt.Sprintf(format, args...))
}

// SuccessBanner formats a recovery line.
func SuccessBanner(format string, args ...interface{}) string {
	return fmt.Sprintf("\r\n\x1b[32m✔ %s\x1b[0m\r\n", fmt.Sprintf(format, args...))
}
