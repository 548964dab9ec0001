//go:build debug

package store

import "privateer/log"

// AssertLockOrder, compiled only under the debug build tag, logs the call
// site and the lock names passed to it at verbose level. It does not check
// the users-before-torrents-before-whitelist ordering, and no code calls it.
func AssertLockOrder(site string, order ...string) {
	log.Verbose.Printf("lockorder[%s]: %v", site, order)
}
