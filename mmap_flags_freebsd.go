//go:build freebsd

package detour

import "golang.org/x/sys/unix"

// FreeBSD refuses a MAP_FIXED request over an existing mapping when MAP_EXCL
// is also set, which is what MAP_FIXED_NOREPLACE does on Linux.
//
// https://man.freebsd.org/cgi/man.cgi?mmap(2)
const _MAP_FIXED_NOREPLACE = unix.MAP_FIXED | unix.MAP_EXCL
