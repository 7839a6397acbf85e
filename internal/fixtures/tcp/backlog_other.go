//go:build !linux

package tcp

import "net"

// setBacklog is a no-op off Linux; the net package default applies.
func setBacklog(net.Listener, int) error {
	return nil
}
