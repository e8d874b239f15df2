//go:build !windows

package setup

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CheckUser rejects running under sudo. Registration is per-user: as root the
// descriptors would be written to root's home and the agent would never start
// for the person who installed the app.
func CheckUser() error {
	if unix.Geteuid() != 0 {
		return nil
	}
	if user := os.Getenv("SUDO_USER"); user != "" && user != "root" {
		return fmt.Errorf("running as root via sudo; run again without sudo so registration applies to %s", user)
	}
	return nil
}
