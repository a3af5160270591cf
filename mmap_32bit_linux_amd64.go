package detour

import "golang.org/x/sys/unix"

// Keep the fallback arena in the low 2GiB, where the non-PIE text segment
// lives, so it is often still in rel32 range.
const map_32bit = unix.MAP_32BIT
