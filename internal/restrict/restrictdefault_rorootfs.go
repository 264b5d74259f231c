//go:build rorootfs

package restrict

var defaultRoDirs = []string{
	// See restrictdefault_others.go for rationale
	"/etc",
	// On systems with a read-only root file system, /etc/resolv.conf is
	// typically a symlink to /tmp/resolv.conf, so we also need read-only
	// access to /tmp.
	"/tmp",
}
