package detour

import (
	"unsafe"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// protection returns the current protection of the pages in span, read from
// /proc/self/maps. If any page isn't accounted for the whole span is taken
// to be text.
func protection(span []byte) []protRun {
	start := uintptr(unsafe.Pointer(unsafe.SliceData(span)))
	end := start + uintptr(len(span))

	proc, err := procfs.Self()
	if err != nil {
		debugf("reading memory map: %v", err)
		return textProtection(span)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		debugf("reading memory map: %v", err)
		return textProtection(span)
	}

	var runs []protRun
	pos := start
	for _, m := range maps {
		if m.EndAddr <= pos || m.StartAddr >= end {
			continue
		}
		if m.StartAddr > pos {
			break
		}

		run := protRun{start: pos, end: min(m.EndAddr, end), prot: mapProt(m.Perms)}
		runs = append(runs, run)
		pos = run.end
		if pos == end {
			return runs
		}
	}

	debugf("memory map doesn't cover %#x-%#x", pos, end)
	return textProtection(span)
}

func mapProt(perms *procfs.ProcMapPermissions) int {
	if perms == nil {
		return mprotectRX
	}

	prot := unix.PROT_NONE
	if perms.Read {
		prot |= unix.PROT_READ
	}
	if perms.Write {
		prot |= unix.PROT_WRITE
	}
	if perms.Execute {
		prot |= unix.PROT_EXEC
	}
	return prot
}
