package arm64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitFunc is a function at testSrc laid out the way the Go compiler emits a
// stack check, with the morestack tail after the body.
func splitFunc() []uint32 {
	return []uint32{
		0xf9400b90, // ldr x16, [x28, #16]
		0xeb3063ff, // cmp sp, x16
		0x54000089, // b.ls tail
		0xf81f0ffe, // str x30, [sp, #-16]!
		0x8b010000, // add x0, x0, x1
		0xd65f03c0, // ret
		0xaa1e03e3, // tail: mov x3, x30
		0x94001000, // bl testSrc+0x401c
		0x17fffff8, // b testSrc
	}
}

func readFrom(code []byte, base uint64) func(uint64) []byte {
	return func(addr uint64) []byte {
		if addr < base || addr-base >= uint64(len(code)) {
			return nil
		}
		return code[addr-base:]
	}
}

func TestFindStackSplit(t *testing.T) {
	fn := words(splitFunc()...)
	split, ok := FindStackSplit(fn, testSrc, readFrom(fn, testSrc))
	require.True(t, ok)
	assert.Equal(t, StackSplit{Call: testSrc + 0x1c, Callee: testSrc + 0x401c}, split)
}

func TestFindStackSplitMissing(t *testing.T) {
	tests := []struct {
		name string
		edit func([]uint32) []uint32
	}{
		{
			name: "no stack check",
			edit: func([]uint32) []uint32 {
				return []uint32{0x8b010000, 0xd65f03c0}
			},
		},
		{
			name: "tail returns",
			edit: func(fn []uint32) []uint32 {
				fn[8] = 0xd65f03c0
				return fn
			},
		},
		{
			name: "tail jumps elsewhere",
			edit: func(fn []uint32) []uint32 {
				fn[8] = 0x17fffff9
				return fn
			},
		},
		{
			name: "no call",
			edit: func(fn []uint32) []uint32 {
				fn[7] = instNOP
				return fn
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := words(tt.edit(splitFunc())...)
			_, ok := FindStackSplit(fn, testSrc, readFrom(fn, testSrc))
			assert.False(t, ok)
		})
	}
}

func TestJumpTarget(t *testing.T) {
	code := words(
		0x910003ff, // mov sp, sp
		0x5280001a, // mov w26, #0
		0x14000100, // b +0x400
	)
	dest, ok := JumpTarget(code, testDst)
	require.True(t, ok)
	assert.Equal(t, uint64(testDst+0x408), dest)

	_, ok = JumpTarget(words(0x5280001a, 0xd65f03c0), testDst)
	assert.False(t, ok)
}

func TestResumeCheck(t *testing.T) {
	got, ok := ResumeCheck(testDst+0x20, testDst+0x60, testDst)
	require.True(t, ok)
	assert.Equal(t, words(
		0x58000211, // ldr x17, mark
		0xeb11035f, // cmp x26, x17
		0x54000061, // b.ne +12
		0xaa1f03fa, // mov x26, xzr
		0x17fffff4, // b testDst
	), got)
	assert.Len(t, got, ResumeCheckSize)

	_, ok = ResumeCheck(testDst+0x20, testDst+0x60, farAway)
	assert.False(t, ok)
}

func TestMorestackStub(t *testing.T) {
	got, ok := MorestackStub(testDst+0x40, testDst+0x60, testDst+0x10000)
	require.True(t, ok)
	assert.Equal(t, words(0x5800011a, 0x14003fef), got)

	got, ok = MorestackStub(testDst+0x40, testDst+0x60, farAway)
	require.True(t, ok)
	assert.Equal(t, concat(words(0x5800011a), AbsJump(farAway)), got)
	assert.Len(t, got, MorestackStubSize)

	_, ok = MorestackStub(testDst+0x40, testDst+0x62, farAway)
	assert.False(t, ok, "misaligned")
}

func TestNearCall(t *testing.T) {
	got, ok := NearCall(testSrc+0x1c, testDst+0x40)
	require.True(t, ok)
	assert.Equal(t, words(0x94004009), got)

	_, ok = NearCall(testSrc, farAway)
	assert.False(t, ok)
}
