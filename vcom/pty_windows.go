//go:build windows

package vcom

import "fmt"

// newPtyPair has no Windows backend: the pty-pair fallback depends on
// POSIX pseudo-terminals. On Windows, configure WritePortName to point at
// a com0com paired port instead.
func newPtyPair() (Provider, error) {
	return nil, fmt.Errorf("vcom: no pty-pair fallback on windows, configure a paired serial port")
}
