package x86

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitFunc is a function at 0x1000 laid out the way the Go compiler emits a
// stack check, with the morestack tail after the body.
func splitFunc() []byte {
	return []byte{
		0x49, 0x3b, 0x66, 0x10, // cmp rsp, [r14+0x10]
		0x76, 0x09, // jbe 0x100f
		0x55,             // push rbp
		0x48, 0x89, 0xe5, // mov rbp, rsp
		0x48, 0x01, 0xd8, // add rax, rbx
		0x5d,                         // pop rbp
		0xc3,                         // ret
		0x48, 0x89, 0x44, 0x24, 0x08, // mov [rsp+8], rax
		0xe8, 0xe7, 0x3f, 0x00, 0x00, // call 0x5000
		0x48, 0x8b, 0x44, 0x24, 0x08, // mov rax, [rsp+8]
		0xeb, 0xe0, // jmp 0x1000
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
	fn := splitFunc()
	split, ok := FindStackSplit(fn, 0x1000, readFrom(fn, 0x1000), 64)
	require.True(t, ok)
	assert.Equal(t, StackSplit{Call: 0x1014, Callee: 0x5000}, split)
}

func TestFindStackSplitMissing(t *testing.T) {
	tests := []struct {
		name string
		edit func([]byte) []byte
	}{
		{
			name: "no stack check",
			edit: func([]byte) []byte {
				return []byte{0x48, 0x01, 0xd8, 0xc3}
			},
		},
		{
			name: "tail returns",
			edit: func(fn []byte) []byte {
				fn[30] = 0xc3
				return fn
			},
		},
		{
			name: "tail jumps elsewhere",
			edit: func(fn []byte) []byte {
				fn[31] = 0xe1
				return fn
			},
		},
		{
			name: "tail runs off the end",
			edit: func(fn []byte) []byte {
				return fn[:30]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := tt.edit(splitFunc())
			_, ok := FindStackSplit(fn, 0x1000, readFrom(fn, 0x1000), 64)
			assert.False(t, ok)
		})
	}
}

func TestJumpTarget(t *testing.T) {
	code := []byte{
		0xba, 0x00, 0x00, 0x00, 0x00, // mov edx, 0
		0xe9, 0xf6, 0x0f, 0x00, 0x00, // jmp 0x6000
	}
	dest, ok := JumpTarget(code, 0x5000, 64)
	require.True(t, ok)
	assert.Equal(t, uint64(0x6000), dest)

	_, ok = JumpTarget([]byte{0x31, 0xd2, 0xc3}, 0x5000, 64)
	assert.False(t, ok)
}

func TestResumeCheck(t *testing.T) {
	got, ok := ResumeCheck(0x2020, 0x2060, 0x2000, 64)
	require.True(t, ok)
	assert.Equal(t, []byte{
		0x48, 0x3b, 0x15, 0x39, 0x00, 0x00, 0x00, // cmp rdx, [rip+0x39]
		0x75, 0x07, // jne +7
		0x31, 0xd2, // xor edx, edx
		0xe9, 0xd0, 0xff, 0xff, 0xff, // jmp 0x2000
	}, got)
	assert.Len(t, got, ResumeCheckSize64)

	got, ok = ResumeCheck(0x2020, 0x2060, 0x2000, 32)
	require.True(t, ok)
	assert.Equal(t, []byte{
		0x3b, 0x15, 0x60, 0x20, 0x00, 0x00, // cmp edx, [0x2060]
		0x75, 0x07, // jne +7
		0x31, 0xd2, // xor edx, edx
		0xe9, 0xd1, 0xff, 0xff, 0xff, // jmp 0x2000
	}, got)
	assert.Len(t, got, ResumeCheckSize32)

	_, ok = ResumeCheck(0x2020, farAway, 0x2000, 64)
	assert.False(t, ok)
}

func TestMorestackStub(t *testing.T) {
	assert.Equal(t,
		concat(
			[]byte{0x48, 0xba}, le64(0x2040), // mov rdx, 0x2040
			[]byte{0xe9, 0xb1, 0x3f, 0x00, 0x00}, // jmp 0x6000
		),
		MorestackStub(0x2040, 0x2040, 0x6000, 64))

	assert.Equal(t,
		[]byte{
			0xba, 0x40, 0x20, 0x00, 0x00, // mov edx, 0x2040
			0xe9, 0xb6, 0x3f, 0x00, 0x00, // jmp 0x6000
		},
		MorestackStub(0x2040, 0x2040, 0x6000, 32))

	far := MorestackStub(0x2040, 0x2040, farAway, 64)
	assert.Len(t, far, MorestackStubSize64)
	assert.Equal(t, AbsJump(farAway, 64), far[movabsSize:])
}

func TestNearCall(t *testing.T) {
	got, ok := NearCall(0x1014, 0x5000, 64)
	require.True(t, ok)
	assert.Equal(t, []byte{0xe8, 0xe7, 0x3f, 0x00, 0x00}, got)

	_, ok = NearCall(0x1014, farAway, 64)
	assert.False(t, ok)
}
