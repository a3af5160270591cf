package detour

import "golang.org/x/sys/unix"

// Fail instead of replacing an existing mapping. Kernels before 4.17 ignore
// the flag, which mapAt catches by checking the address it got.
const _MAP_FIXED_NOREPLACE = unix.MAP_FIXED_NOREPLACE
