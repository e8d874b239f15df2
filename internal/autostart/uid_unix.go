//go:build !windows

package autostart

import "golang.org/x/sys/unix"

func currentUID() (int, error) {
	return unix.Getuid(), nil
}
