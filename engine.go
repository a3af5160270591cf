package detour

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// blockAlign separates the trampoline from the relay in a block.
const blockAlign = 16

// destination is where an enabled detour sends callers.
type destination struct {
	// addr is a code address, or a func value pointer when closure is set.
	addr    uintptr
	closure bool

	// keep holds the Go value behind addr so the collector can't free it
	// while machine code refers to it.
	keep any
}

// thunk is position independent code that enters the destination.
func (d destination) thunk() []byte {
	if d.closure {
		return closureJump(d.addr)
	}
	return absJump(d.addr)
}

func (d destination) thunkSize() int {
	if d.closure {
		return closureJumpSize
	}
	return absJumpSize
}

// detour is the engine behind every handle. It owns the trampoline and the
// saved prologue, and moves between enabled and disabled by writing one or
// the other into the target.
type detour struct {
	mu sync.Mutex

	target uintptr
	dest   destination

	// prologue is the original patch region. It is captured once and only
	// ever written back.
	prologue []byte

	// patch is written over the start of the patch region on enable. It is
	// never longer than prologue.
	patch []byte

	block      *block
	trampoline uintptr

	// resume redirects the target's morestack call to the stub in block.
	// It is written before patch and removed after it.
	resume *codePatch

	enabled bool
	freed   bool
}

// blockLayout places the parts of a block after the trampoline. Parts the
// block doesn't have are at -1.
type blockLayout struct {
	// relay holds the resume check, when there is a stub, then the thunk.
	relay int
	stub  int
	mark  int
	size  int
}

func planBlock(bound int, dest destination, relay bool, ms *morestackPath) blockLayout {
	l := blockLayout{relay: -1, stub: -1, mark: -1, size: alignUp(bound, blockAlign)}
	if !relay {
		return l
	}

	l.relay = l.size
	l.size += dest.thunkSize()
	if ms != nil {
		l.size += resumeCheckSize
		l.stub = l.size
		l.mark = alignUp(l.stub+morestackStubSize, 8)
		l.size = l.mark + 8
	}
	return l
}

// layout is what debug logging dumps after construction.
type layout struct {
	Target     uintptr
	Name       string
	PatchLen   int
	Patch      []byte
	Block      uintptr
	BlockSize  int
	Trampoline int
	Relay      int
	Stub       int
	Resume     *codePatch
	Near       bool
}

// newDetour builds the trampoline for target. On any failure the target is
// untouched and nothing stays allocated.
func newDetour(target uintptr, dest destination, cfg *config) (*detour, error) {
	if target == 0 {
		return nil, errors.New("nil target")
	}
	if dest.addr == 0 {
		return nil, errors.New("nil replacement")
	}

	if err := activeTargets.reserve(target); err != nil {
		return nil, err
	}

	d, err := construct(target, dest, cfg)
	if err != nil {
		activeTargets.release(target)
		return nil, errors.WithMessagef(err, "detour %s", funcName(target))
	}
	return d, nil
}

func construct(target uintptr, dest destination, cfg *config) (d *detour, err error) {
	code := readCode(target, codeExtent(target))
	ms := findMorestackPath(target, code)

	if err := trampolineAllocator.beginMutate(); err != nil {
		return nil, err
	}
	defer func() {
		// Releasing the block needs the protection change that just
		// failed, so it stays allocated.
		if merr := trampolineAllocator.endMutate(); merr != nil && err == nil {
			d, err = nil, merr
		}
	}()

	if !cfg.forceAbsolute {
		d, err := constructNear(target, code, dest, ms)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrOutOfExecutableMemory) {
			return nil, err
		}
		debugf("%s: no memory in branch range, using an absolute patch: %v", funcName(target), err)
	}

	return constructFar(target, code, dest, ms)
}

// constructNear places the trampoline within branch range of the target so
// the patch is a single near jump. The jump goes to the relay, or straight to
// a raw replacement when that is in range too and the relay has nothing else
// to do.
func constructNear(target uintptr, code []byte, dest destination, ms *morestackPath) (*detour, error) {
	n, err := patchLength(code, nearJumpSize)
	if err != nil {
		return nil, err
	}

	bound, err := maxRelocatedSize(code[:n])
	if err != nil {
		return nil, err
	}
	l := planBlock(bound, dest, true, ms)

	blk, err := trampolineAllocator.allocate(target, l.size, true)
	if err != nil {
		return nil, err
	}

	d, stub, err := fill(target, code[:n], blk, l, dest, ms)
	if err != nil {
		trampolineAllocator.free(blk)
		return nil, err
	}

	relay := blk.addr + uintptr(l.relay)
	if stub == 0 && !dest.closure && reachable(target, dest.addr) {
		relay = dest.addr
	}

	patch, ok := nearJump(target, relay)
	if !ok {
		trampolineAllocator.free(blk)
		return nil, errors.Wrapf(ErrOutOfExecutableMemory, "relay %#x out of range", relay)
	}
	d.patch = patch
	if stub != 0 {
		d.resume = morestackPatch(ms, stub)
	}

	logLayout(d, l, true)
	return d, nil
}

// constructFar places the trampoline anywhere and patches the target with an
// absolute jump to the relay, or with the whole thunk when there is no
// morestack path to look after.
func constructFar(target uintptr, code []byte, dest destination, ms *morestackPath) (*detour, error) {
	size := dest.thunkSize()
	if ms != nil {
		size = absJumpSize
	}

	n, err := patchLength(code, size)
	if err != nil && ms != nil {
		debugf("%s: no room for a jump to the relay: %v", funcName(target), err)
		ms = nil
		n, err = patchLength(code, dest.thunkSize())
	}
	if err != nil {
		return nil, err
	}

	bound, err := maxRelocatedSize(code[:n])
	if err != nil {
		return nil, err
	}
	l := planBlock(bound, dest, ms != nil, ms)

	// The tail's call has to reach the stub, so a block near the target is
	// still preferred.
	var blk *block
	if ms != nil {
		blk, err = trampolineAllocator.allocate(target, l.size, true)
	}
	if blk == nil {
		blk, err = trampolineAllocator.allocate(target, l.size, false)
	}
	if err != nil {
		return nil, err
	}

	d, stub, err := fill(target, code[:n], blk, l, dest, ms)
	if err != nil {
		trampolineAllocator.free(blk)
		return nil, err
	}

	d.patch = dest.thunk()
	if l.relay >= 0 {
		d.patch = absJump(blk.addr + uintptr(l.relay))
	}
	if stub != 0 {
		d.resume = morestackPatch(ms, stub)
	}

	logLayout(d, l, false)
	return d, nil
}

// fill relocates region into blk and writes the rest of the layout. It
// returns the address of the morestack stub, or 0 when there is none.
func fill(target uintptr, region []byte, blk *block, l blockLayout, dest destination, ms *morestackPath) (*detour, uintptr, error) {
	tramp, err := relocate(region, target, blk.addr)
	if err != nil {
		return nil, 0, err
	}

	end := len(blk.mem)
	if l.relay >= 0 {
		end = l.relay
	}
	if len(tramp) > end {
		return nil, 0, errors.Errorf("trampoline is %d bytes, expected at most %d", len(tramp), end)
	}

	n := copy(blk.mem, tramp)
	for i := n; i < len(blk.mem); i++ {
		blk.mem[i] = codePad
	}

	var stub uintptr
	if l.relay >= 0 {
		off := l.relay
		if ms != nil {
			stub = fillMorestack(blk, l, ms)
			if stub != 0 {
				check, _ := resumeCheck(blk.addr+uintptr(off), blk.addr+uintptr(l.mark), blk.addr)
				off += copy(blk.mem[off:], check)
			}
		}
		copy(blk.mem[off:], dest.thunk())
	}
	cacheflush(blk.addr, len(blk.mem))

	return &detour{
		target:     target,
		dest:       dest,
		prologue:   append([]byte(nil), region...),
		block:      blk,
		trampoline: blk.addr,
	}, stub, nil
}

// fillMorestack writes the stub and its marker. The marker is the stub's own
// address, which no Go value can equal. It returns 0 if the block's address
// doesn't suit the encodings.
func fillMorestack(blk *block, l blockLayout, ms *morestackPath) uintptr {
	stub := blk.addr + uintptr(l.stub)
	mark := blk.addr + uintptr(l.mark)

	code, ok := morestackStub(stub, stub, mark, ms.morestack)
	if ok {
		_, ok = resumeCheck(blk.addr+uintptr(l.relay), mark, blk.addr)
	}
	if !ok {
		debugf("block %#x can't hold a morestack stub", blk.addr)
		return 0
	}

	copy(blk.mem[l.stub:], code)
	binary.LittleEndian.PutUint64(blk.mem[l.mark:], uint64(stub))
	return stub
}

func logLayout(d *detour, l blockLayout, near bool) {
	trampSize := len(d.block.mem)
	if l.relay >= 0 {
		trampSize = l.relay
	}

	debugDump("layout", layout{
		Target:     d.target,
		Name:       funcName(d.target),
		PatchLen:   len(d.prologue),
		Patch:      d.patch,
		Block:      d.block.addr,
		BlockSize:  len(d.block.mem),
		Trampoline: trampSize,
		Relay:      l.relay,
		Stub:       l.stub,
		Resume:     d.resume,
		Near:       near,
	})
	debugf("prologue of %s:\n%s", funcName(d.target), disassemble(d.prologue, d.target))
	debugf("trampoline:\n%s", disassemble(d.block.mem, d.block.addr))
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func (d *detour) enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.freed {
		return ErrFreed
	}
	if d.enabled {
		return ErrAlreadyEnabled
	}

	if d.resume != nil {
		if err := writeCode(d.resume.addr, d.resume.patch); err != nil {
			return err
		}
	}
	if err := writeCode(d.target, d.patch); err != nil {
		if d.resume != nil {
			if rerr := writeCode(d.resume.addr, d.resume.orig); rerr != nil {
				debugf("%s: restoring morestack call: %v", funcName(d.target), rerr)
			}
		}
		return err
	}
	d.enabled = true
	return nil
}

func (d *detour) disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.freed {
		return ErrFreed
	}
	return d.disableLocked()
}

func (d *detour) disableLocked() error {
	if !d.enabled {
		return ErrAlreadyDisabled
	}

	if err := writeCode(d.target, d.prologue[:len(d.patch)]); err != nil {
		return err
	}
	d.enabled = false

	if d.resume != nil {
		return writeCode(d.resume.addr, d.resume.orig)
	}
	return nil
}

func (d *detour) isEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// free disables the detour if needed and releases the trampoline. The
// caller must make sure no thread is still running in the trampoline.
func (d *detour) free() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.freed {
		return nil
	}
	if d.enabled {
		if err := d.disableLocked(); err != nil {
			return err
		}
	}

	if err := trampolineAllocator.beginMutate(); err != nil {
		return err
	}
	trampolineAllocator.free(d.block)
	err := trampolineAllocator.endMutate()

	activeTargets.release(d.target)
	d.block = nil
	d.trampoline = 0
	d.dest.keep = nil
	d.freed = true
	return err
}

// registry tracks targets with a live detour. A second detour on the same
// target would save the first one's patch as its prologue.
type registry struct {
	mu      sync.Mutex
	targets map[uintptr]struct{}
}

func (r *registry) reserve(target uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.targets[target]; ok {
		return errors.Wrapf(ErrAlreadyDetoured, "%s", funcName(target))
	}
	if r.targets == nil {
		r.targets = make(map[uintptr]struct{})
	}
	r.targets[target] = struct{}{}
	return nil
}

func (r *registry) release(target uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, target)
}

var activeTargets = &registry{}
