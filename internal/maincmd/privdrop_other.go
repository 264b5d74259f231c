//go:build !linux || nonamespacing

package maincmd

import "github.com/deltacopy/rsync/internal/rsyncos"

func dropPrivileges(osenv *rsyncos.Env) error {
	return nil
}
