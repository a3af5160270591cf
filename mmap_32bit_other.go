//go:build !(linux && amd64)

package detour

const map_32bit = 0
