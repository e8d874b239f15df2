//go:build windows

package setup

// CheckUser has nothing to check on Windows.
func CheckUser() error {
	return nil
}
