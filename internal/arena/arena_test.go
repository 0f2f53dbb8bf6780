package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFixedClampsNonPositiveCapacity(t *testing.T) {
	a := NewFixed(0)
	assert.Equal(t, 1, a.Cap())

	a = NewFixed(-10)
	assert.Equal(t, 1, a.Cap())
}

func TestFixedExtendGrowsMonotonically(t *testing.T) {
	a := NewFixed(64)

	addr1, ok := a.Extend(16)
	require.True(t, ok)
	assert.Equal(t, a.Lo(), addr1)

	addr2, ok := a.Extend(16)
	require.True(t, ok)
	assert.Equal(t, addr1+16, addr2)

	assert.Equal(t, 32, a.Used())
	assert.Equal(t, addr2+16-1, a.Hi())
}

func TestFixedExtendFailsOnExhaustion(t *testing.T) {
	a := NewFixed(16)

	_, ok := a.Extend(20)
	assert.False(t, ok)
	assert.Equal(t, 0, a.Used(), "a failed Extend must not mutate the arena")

	_, ok = a.Extend(16)
	require.True(t, ok)

	_, ok = a.Extend(1)
	assert.False(t, ok, "arena is now fully committed")
}

func TestFixedExtendRejectsNegativeDelta(t *testing.T) {
	a := NewFixed(16)
	_, ok := a.Extend(-1)
	assert.False(t, ok)
}

func TestFixedExtendZeroReturnsCurrentBreak(t *testing.T) {
	a := NewFixed(16)
	addr, ok := a.Extend(8)
	require.True(t, ok)

	again, ok := a.Extend(0)
	require.True(t, ok)
	assert.Equal(t, addr+8, again)
}

func TestCopyMovesBytes(t *testing.T) {
	a := NewFixed(32)
	addr, ok := a.Extend(32)
	require.True(t, ok)

	src := addr
	dst := addr + 16
	buf := unsafe.Slice((*byte)(unsafe.Pointer(src)), 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	Copy(dst, src, 16)

	got := unsafe.Slice((*byte)(unsafe.Pointer(dst)), 16)
	for i := range got {
		assert.Equal(t, byte(i+1), got[i])
	}
}

func TestFillSetsBytes(t *testing.T) {
	a := NewFixed(16)
	addr, ok := a.Extend(16)
	require.True(t, ok)

	Fill(addr, 0xAB, 16)

	got := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 16)
	for _, b := range got {
		assert.Equal(t, byte(0xAB), b)
	}
}

func TestInBounds(t *testing.T) {
	a := NewFixed(32)
	_, ok := a.Extend(32)
	require.True(t, ok)

	assert.True(t, InBounds(a, a.Lo(), 32))
	assert.True(t, InBounds(a, a.Lo(), 1))
	assert.False(t, InBounds(a, a.Lo(), 33))
	assert.False(t, InBounds(a, a.Lo()-1, 1))
	assert.False(t, InBounds(a, a.Lo(), -1))
}
