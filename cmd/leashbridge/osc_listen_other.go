//go:build !linux

package main

import "net"

// oscListenConfig returns the default ListenConfig; port sharing is Linux-only.
func oscListenConfig() *net.ListenConfig {
	return &net.ListenConfig{}
}
