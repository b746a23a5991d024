package dtb

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointerOf(data []byte) uintptr {
	return uintptr(unsafe.Pointer(&data[0]))
}

// builder assembles a well-formed blob token by token so each test can bend
// exactly one thing.
type builder struct {
	structb bytes.Buffer
	strings bytes.Buffer
	strOff  map[string]uint32
}

func newBuilder() *builder {
	return &builder{strOff: map[string]uint32{}}
}

func (b *builder) u32(v uint32) {
	var w [4]byte
	binary.BigEndian.PutUint32(w[:], v)
	b.structb.Write(w[:])
}

func (b *builder) pad() {
	for b.structb.Len()%4 != 0 {
		b.structb.WriteByte(0)
	}
}

func (b *builder) begin(name string) {
	b.u32(tokenBeginNode)
	b.structb.WriteString(name)
	b.structb.WriteByte(0)
	b.pad()
}

func (b *builder) end() {
	b.u32(tokenEndNode)
}

func (b *builder) nameOffset(name string) uint32 {
	if off, ok := b.strOff[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.strOff[name] = off
	return off
}

func (b *builder) prop(name string, data []byte) {
	b.u32(tokenProp)
	b.u32(uint32(len(data)))
	b.u32(b.nameOffset(name))
	b.structb.Write(data)
	b.pad()
}

func (b *builder) propU32(name string, v uint32) {
	var w [4]byte
	binary.BigEndian.PutUint32(w[:], v)
	b.prop(name, w[:])
}

func (b *builder) finish() []byte {
	b.u32(tokenEnd)

	const rsvmap = 16 // one terminating (0,0) reservation entry
	offStruct := uint32(headerSize + rsvmap)
	offStrings := offStruct + uint32(b.structb.Len())
	total := offStrings + uint32(b.strings.Len())

	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:], Magic)
	binary.BigEndian.PutUint32(out[4:], total)
	binary.BigEndian.PutUint32(out[8:], offStruct)
	binary.BigEndian.PutUint32(out[12:], offStrings)
	binary.BigEndian.PutUint32(out[16:], headerSize)
	binary.BigEndian.PutUint32(out[20:], 17) // version
	binary.BigEndian.PutUint32(out[24:], 16) // last compatible version
	binary.BigEndian.PutUint32(out[28:], 0)  // boot cpu
	binary.BigEndian.PutUint32(out[32:], uint32(b.strings.Len()))
	binary.BigEndian.PutUint32(out[36:], uint32(b.structb.Len()))
	copy(out[offStruct:], b.structb.Bytes())
	copy(out[offStrings:], b.strings.Bytes())
	return out
}

func regPair(addrCells, sizeCells int, addr, size uint64) []byte {
	var out []byte
	put := func(cells int, v uint64) {
		var w [8]byte
		if cells == 1 {
			binary.BigEndian.PutUint32(w[:4], uint32(v))
			out = append(out, w[:4]...)
			return
		}
		binary.BigEndian.PutUint64(w[:], v)
		out = append(out, w[:]...)
	}
	put(addrCells, addr)
	put(sizeCells, size)
	return out
}

// virtBlob mirrors the shape of the qemu-virt tree the firmware hands over:
// root cells 2/2, a memory node, a cpus node with two cpu children.
func virtBlob() []byte {
	b := newBuilder()
	b.begin("")
	b.propU32("#address-cells", 2)
	b.propU32("#size-cells", 2)
	b.prop("model", append([]byte("riscv-virtio,qemu"), 0))
	b.begin("memory@80000000")
	b.prop("device_type", append([]byte("memory"), 0))
	b.prop("reg", regPair(2, 2, 0x80000000, 0x8000000))
	b.end()
	b.begin("cpus")
	b.propU32("#address-cells", 1)
	b.propU32("#size-cells", 0) // cpu reg is a bare hart id
	b.begin("cpu@0")
	b.propU32("reg", 0)
	b.end()
	b.begin("cpu@1")
	b.propU32("reg", 1)
	b.end()
	b.end()
	b.end()
	return b.finish()
}

func TestParseRejectsBadMagic(t *testing.T) {
	// Exactly one header's worth of bytes: a reader that touched anything
	// past the header would run off the slice.
	data := make([]byte, headerSize)
	binary.BigEndian.PutUint32(data[0:], 0xfeedd00d)
	_, err := Parse(data)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bad magic", perr.Reason)
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	_, err := Parse(make([]byte, headerSize-1))
	assert.Error(t, err)
}

func TestParseRejectsTotalSizeBeyondBlob(t *testing.T) {
	data := virtBlob()
	binary.BigEndian.PutUint32(data[4:], uint32(len(data))+4)
	_, err := Parse(data)
	assert.Error(t, err)
}

func TestParseRejectsStructBlockBeyondTotalSize(t *testing.T) {
	data := virtBlob()
	binary.BigEndian.PutUint32(data[36:], uint32(len(data)))
	_, err := Parse(data)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "struct block outside blob", perr.Reason)
}

func TestParseRejectsStringsBlockBeyondTotalSize(t *testing.T) {
	data := virtBlob()
	binary.BigEndian.PutUint32(data[32:], uint32(len(data)))
	_, err := Parse(data)
	assert.Error(t, err)
}

func TestMemoryRegionSingle(t *testing.T) {
	blob, err := Parse(virtBlob())
	require.NoError(t, err)

	regions, err := blob.MemoryRegions()
	require.NoError(t, err)
	assert.Equal(t, []MemoryRegion{{Start: 0x80000000, Size: 0x8000000}}, regions)
}

func TestMemoryRegionsDocumentOrder(t *testing.T) {
	b := newBuilder()
	b.begin("")
	b.propU32("#address-cells", 2)
	b.propU32("#size-cells", 2)
	b.begin("memory@80000000")
	b.prop("reg", regPair(2, 2, 0x80000000, 0x8000000))
	b.end()
	b.begin("memory@100000000")
	b.prop("reg", regPair(2, 2, 0x100000000, 0x10000000))
	b.end()
	b.end()

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	regions, err := blob.MemoryRegions()
	require.NoError(t, err)
	assert.Equal(t, []MemoryRegion{
		{Start: 0x80000000, Size: 0x8000000},
		{Start: 0x100000000, Size: 0x10000000},
	}, regions)
}

func TestMemoryRegionsMultiplePairsInOneReg(t *testing.T) {
	b := newBuilder()
	b.begin("")
	b.propU32("#address-cells", 2)
	b.propU32("#size-cells", 2)
	b.begin("memory")
	b.prop("reg", append(
		regPair(2, 2, 0x80000000, 0x8000000),
		regPair(2, 2, 0xc0000000, 0x4000000)...))
	b.end()
	b.end()

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	regions, err := blob.MemoryRegions()
	require.NoError(t, err)
	assert.Len(t, regions, 2)
	assert.Equal(t, uint64(0xc0000000), regions[1].Start)
}

func TestDefaultCellWidths(t *testing.T) {
	// No #address-cells/#size-cells anywhere: the devicetree defaults of 2/1
	// apply, so a reg pair is 12 bytes.
	b := newBuilder()
	b.begin("")
	b.begin("memory")
	b.prop("reg", regPair(2, 1, 0x80000000, 0x2000000))
	b.end()
	b.end()

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	regions, err := blob.MemoryRegions()
	require.NoError(t, err)
	assert.Equal(t, []MemoryRegion{{Start: 0x80000000, Size: 0x2000000}}, regions)
}

func TestTraversalIsRestartable(t *testing.T) {
	blob, err := Parse(virtBlob())
	require.NoError(t, err)

	first, err := blob.MemoryRegions()
	require.NoError(t, err)
	second, err := blob.MemoryRegions()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCellWidthOutsideRangeRejected(t *testing.T) {
	b := newBuilder()
	b.begin("")
	b.propU32("#address-cells", 3)
	b.end()

	data := b.finish()
	blob, err := Parse(data)
	require.NoError(t, err)
	err = blob.Walk(func(Property) bool { return true })
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "cell count outside {1,2}", perr.Reason)
	// The reported offset is the offending payload itself, not some later
	// token.
	require.LessOrEqual(t, perr.Offset+4, len(data))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(data[perr.Offset:]))
}

func TestRegNotWholePairsRejected(t *testing.T) {
	b := newBuilder()
	b.begin("")
	b.propU32("#address-cells", 2)
	b.propU32("#size-cells", 2)
	b.begin("memory")
	b.prop("reg", regPair(2, 2, 0x80000000, 0x8000000)[:12])
	b.end()
	b.end()

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	_, err = blob.MemoryRegions()
	assert.Error(t, err)
}

func TestTruncatedPropertyRejected(t *testing.T) {
	b := newBuilder()
	b.begin("")
	b.u32(tokenProp)
	b.u32(64) // longer than the remaining struct block
	b.u32(b.nameOffset("reg"))
	b.end()

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	err = blob.Walk(func(Property) bool { return true })
	assert.Error(t, err)
}

func TestEndTokenWithOpenNodesRejected(t *testing.T) {
	b := newBuilder()
	b.begin("")
	// finish() emits END with the root still open

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	err = blob.Walk(func(Property) bool { return true })
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "end token with unterminated nodes", perr.Reason)
}

func TestMissingEndTokenRejected(t *testing.T) {
	data := virtBlob()
	// Shrink the declared struct size so the walk runs out before END.
	binary.BigEndian.PutUint32(data[36:], binary.BigEndian.Uint32(data[36:])-4)
	blob, err := Parse(data)
	require.NoError(t, err)
	err = blob.Walk(func(Property) bool { return true })
	assert.Error(t, err)
}

func TestNestingDepthBounded(t *testing.T) {
	b := newBuilder()
	for i := 0; i < maxDepth+1; i++ {
		b.begin("n")
	}
	for i := 0; i < maxDepth+1; i++ {
		b.end()
	}

	blob, err := Parse(b.finish())
	require.NoError(t, err)
	err = blob.Walk(func(Property) bool { return true })
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "node nesting too deep", perr.Reason)
}

func TestWalkPathsAndEarlyStop(t *testing.T) {
	blob, err := Parse(virtBlob())
	require.NoError(t, err)

	var paths []string
	err = blob.Walk(func(p Property) bool {
		if p.Name == "reg" {
			paths = append(paths, p.Path)
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/memory@80000000", "/cpus/cpu@0", "/cpus/cpu@1"}, paths)

	// Early stop is not an error.
	seen := 0
	err = blob.Walk(func(p Property) bool {
		seen++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestModelAndNumCPUs(t *testing.T) {
	blob, err := Parse(virtBlob())
	require.NoError(t, err)
	assert.Equal(t, "riscv-virtio,qemu", blob.Model())
	assert.Equal(t, 2, blob.NumCPUs())
}

func TestFromPointer(t *testing.T) {
	data := virtBlob()
	blob, err := FromPointer(pointerOf(data))
	require.NoError(t, err)
	regions, err := blob.MemoryRegions()
	require.NoError(t, err)
	assert.Len(t, regions, 1)
	runtime.KeepAlive(data)
}

func TestFromPointerRejectsNil(t *testing.T) {
	_, err := FromPointer(0)
	assert.Error(t, err)
}
