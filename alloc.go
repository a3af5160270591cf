package detour

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"github.com/pboyd/malloc"
	"github.com/pkg/errors"
)

const (
	// slabSize is the unit of near mappings. It matches the Windows
	// allocation granularity so the same probe works everywhere.
	slabSize   = 64 << 10
	chunkSize  = 16
	slabChunks = slabSize / chunkSize

	// Lowest address worth probing. Linux refuses mappings below
	// vm.mmap_min_addr, which defaults to 64KiB.
	minProbeAddr = 1 << 16
)

// block is a piece of executable memory holding one trampoline.
type block struct {
	addr uintptr
	mem  []byte

	// slab is nil when the block came from the arena.
	slab *slab
}

// slab is a mapping near some target, carved into chunkSize pieces.
type slab struct {
	mem  []byte
	base uintptr
	used *bitset.BitSet
}

func newSlab(mem []byte) *slab {
	return &slab{
		mem:  mem,
		base: uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		used: bitset.New(slabChunks),
	}
}

// take reserves n bytes and returns their offset.
func (s *slab) take(n int) (int, bool) {
	want := uint((n + chunkSize - 1) / chunkSize)

	for i, ok := s.used.NextClear(0); ok && i+want <= slabChunks; i, ok = s.used.NextClear(i) {
		next, found := s.used.NextSet(i)
		if found && next < i+want {
			i = next
			continue
		}

		for j := i; j < i+want; j++ {
			s.used.Set(j)
		}
		return int(i) * chunkSize, true
	}
	return 0, false
}

func (s *slab) release(off, n int) {
	first := uint(off / chunkSize)
	for j := first; j < first+uint((n+chunkSize-1)/chunkSize); j++ {
		s.used.Clear(j)
	}
}

// within reports whether every byte of the slab and target can reach each
// other with a near branch.
func (s *slab) within(target uintptr) bool {
	end := s.base + slabSize - chunkSize
	return reachable(target, s.base) && reachable(target, end) &&
		reachable(s.base, target) && reachable(end, target)
}

// allocator hands out executable memory for trampolines. Near requests come
// from slabs mapped close to the target; the rest come from an arena.
//
// Memory is only writable between beginMutate and endMutate.
type allocator struct {
	*malloc.Arena
	mprotect func(int) error
	initOnce sync.Once

	// mu is held from beginMutate to endMutate.
	mu      sync.Mutex
	mutable bool
	slabs   []*slab
}

func (a *allocator) init(startSize int) error {
	var err error
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(malloc.MmapProt(mprotectExec), malloc.MmapFlags(map_32bit))
		if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.mprotect = protBE.Protect
		} else {
			a.mprotect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			err = errors.New("unable to initialize arena")
		}
	})
	return err
}

func (a *allocator) beginMutate() error {
	a.mu.Lock()

	// The arena may not exist yet; it starts out writable.
	if a.mprotect != nil {
		if err := a.mprotect(mprotectRWX); err != nil {
			a.mu.Unlock()
			return errors.Wrapf(ErrProtectionDenied, "arena: %v", err)
		}
	}
	for _, s := range a.slabs {
		if err := mprotect(s.mem, mprotectRWX); err != nil {
			a.mu.Unlock()
			return errors.Wrapf(ErrProtectionDenied, "slab %#x: %v", s.base, err)
		}
	}

	a.mutable = true
	return nil
}

func (a *allocator) endMutate() error {
	defer a.mu.Unlock()

	if !a.mutable {
		return nil
	}
	a.mutable = false

	var err error
	if a.mprotect != nil {
		if perr := a.mprotect(mprotectRX); perr != nil {
			err = errors.Wrapf(ErrProtectionDenied, "arena: %v", perr)
		}
	}
	for _, s := range a.slabs {
		if perr := mprotect(s.mem, mprotectRX); perr != nil && err == nil {
			err = errors.Wrapf(ErrProtectionDenied, "slab %#x: %v", s.base, perr)
		}
	}
	return err
}

// allocate returns size bytes of executable memory. With near set the block
// is within direct branch range of hint, or the call fails.
func (a *allocator) allocate(hint uintptr, size int, near bool) (*block, error) {
	if !a.mutable {
		panic("allocate called in immutable state")
	}

	if near {
		return a.allocateNear(hint, size)
	}

	if err := a.init(size); err != nil {
		return nil, errors.Wrapf(ErrOutOfExecutableMemory, "error initializing allocator: %v", err)
	}

	buf, err := malloc.MallocSlice[byte](a.Arena, size)
	if err != nil {
		return nil, errors.Wrapf(ErrOutOfExecutableMemory, "arena: %v", err)
	}

	return &block{
		addr: uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		mem:  buf,
	}, nil
}

func (a *allocator) allocateNear(target uintptr, size int) (*block, error) {
	if size > slabSize {
		return nil, errors.Wrapf(ErrOutOfExecutableMemory, "%d bytes is larger than a slab", size)
	}

	for _, s := range a.slabs {
		if !s.within(target) {
			continue
		}
		if off, ok := s.take(size); ok {
			return s.block(off, size), nil
		}
	}

	s, err := a.mapSlab(target)
	if err != nil {
		return nil, err
	}
	a.slabs = append(a.slabs, s)

	off, _ := s.take(size)
	return s.block(off, size), nil
}

func (s *slab) block(off, size int) *block {
	return &block{
		addr: s.base + uintptr(off),
		mem:  s.mem[off : off+size : off+size],
		slab: s,
	}
}

// mapSlab probes outward from target, alternating below and above, for a
// free slab-aligned range that is still in branch range.
func (a *allocator) mapSlab(target uintptr) (*slab, error) {
	base := uint64(target) &^ (slabSize - 1)
	limit := uint64(branchReach)

	for dist := uint64(slabSize); dist+slabSize <= limit; dist += slabSize {
		candidates := [2]uint64{base - dist, base + dist}
		for i, addr := range candidates {
			if i == 0 && (dist > base || addr < minProbeAddr) {
				continue
			}
			if addr+slabSize < addr || addr > uint64(^uintptr(0))-slabSize {
				continue
			}

			mem, err := mapAt(uintptr(addr), slabSize)
			if err != nil {
				continue
			}

			s := newSlab(mem)
			if !s.within(target) {
				unmap(mem)
				continue
			}

			debugf("mapped slab at %#x for target %#x", s.base, target)
			return s, nil
		}
	}

	return nil, errors.Wrapf(ErrOutOfExecutableMemory, "no free memory within %s of %#x", formatReach(), target)
}

// free returns a block to where it came from. Slabs that become empty are
// unmapped.
func (a *allocator) free(b *block) {
	if !a.mutable {
		panic("free called in immutable state")
	}

	if b.slab == nil {
		malloc.FreeSlice(a.Arena, b.mem)
		return
	}

	s := b.slab
	s.release(int(b.addr-s.base), len(b.mem))
	if s.used.Any() {
		return
	}

	for i, other := range a.slabs {
		if other == s {
			a.slabs = append(a.slabs[:i], a.slabs[i+1:]...)
			break
		}
	}
	if err := unmap(s.mem); err != nil {
		debugf("unmap slab %#x: %v", s.base, err)
	}
}

func formatReach() string {
	return fmt.Sprintf("%dMiB", uint64(branchReach)>>20)
}

var trampolineAllocator = &allocator{}
