//go:build unix && !linux && !freebsd

package detour

// Darwin, NetBSD and OpenBSD don't have an equivalent to MAP_FIXED_NOREPLACE.
// On BSD, MAP_FIXED would almost work except that it would replace existing
// mappings. The address is passed as a hint and mapAt rejects anything else.
//
// https://developer.apple.com/library/archive/documentation/System/Conceptual/ManPages_iPhoneOS/man2/mmap.2.html
// https://man.netbsd.org/mmap.2
// https://man.openbsd.org/mmap.2
const _MAP_FIXED_NOREPLACE = 0
