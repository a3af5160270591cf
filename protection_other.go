//go:build unix && !linux

package detour

// protection assumes span is text. There is no portable way to read the
// current protection of a page.
func protection(span []byte) []protRun {
	return textProtection(span)
}
