//go:build !linux

package rsynctest

import "fmt"

const (
	unixCharDevice  = 0
	unixBlockDevice = 0
)

func mknod(path string, mode, major, minor uint32) error {
	return fmt.Errorf("mknod not supported on this platform")
}

func deviceNumber(path string) (uint64, error) {
	return 0, fmt.Errorf("device numbers not supported on this platform")
}
