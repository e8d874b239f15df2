//go:build windows

package autostart

func currentUID() (int, error) {
	return 0, ErrUnsupported
}
