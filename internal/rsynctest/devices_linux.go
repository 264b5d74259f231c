package rsynctest

import "syscall"

const (
	unixCharDevice  = syscall.S_IFCHR | 0666
	unixBlockDevice = syscall.S_IFBLK | 0660
)

func mknod(path string, mode, major, minor uint32) error {
	return syscall.Mknod(path, mode, int(unixDev(major, minor)))
}

func unixDev(major, minor uint32) uint64 {
	return syscall.Mkdev(major, minor)
}

func deviceNumber(path string) (uint64, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Rdev), nil
}
