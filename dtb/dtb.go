// Package dtb reads the flattened device tree blob the firmware passes to
// the kernel in a1 at boot. The blob is borrowed, never copied or mutated,
// and may be walked concurrently by any number of harts: every traversal is
// independent and read-only.
package dtb

import (
	"encoding/binary"
	"fmt"
)

const Magic = 0xd00dfeed

// Struct block tokens.
const (
	tokenBeginNode = 1
	tokenEndNode   = 2
	tokenProp      = 3
	tokenNop       = 4
	tokenEnd       = 9
)

const (
	headerSize = 40

	// maxDepth bounds node nesting so a malformed blob cannot grow the
	// ancestor stack without limit.
	maxDepth = 32

	// Default cell widths when no ancestor declares them, per the
	// devicetree spec.
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// Header is the fixed big-endian header at the start of every blob.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffStruct       uint32
	OffStrings      uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPU         uint32
	SizeStrings     uint32
	SizeStruct      uint32
}

// ParseError reports a structural problem with the blob. Boot cannot safely
// proceed without known memory bounds, so callers normally treat it as fatal,
// but that decision is theirs.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dtb: %s at offset %#x", e.Reason, e.Offset)
}

func parseErr(off int, reason string) *ParseError {
	return &ParseError{Offset: off, Reason: reason}
}

// MemoryRegion is one address/size pair from a memory node's reg property.
type MemoryRegion struct {
	Start uint64
	Size  uint64
}

// Blob is a validated, non-owning view of a device tree. The underlying
// bytes belong to the firmware and must not be modified.
type Blob struct {
	data []byte
	hdr  Header
}

// Parse validates the header of data and returns a Blob over it. Only the
// header is examined here; the struct block is checked token by token as it
// is walked. A wrong magic is rejected before anything past the header is
// read.
func Parse(data []byte) (*Blob, error) {
	if len(data) < headerSize {
		return nil, parseErr(0, "truncated header")
	}
	var h Header
	h.Magic = binary.BigEndian.Uint32(data[0:])
	if h.Magic != Magic {
		return nil, parseErr(0, "bad magic")
	}
	h.TotalSize = binary.BigEndian.Uint32(data[4:])
	h.OffStruct = binary.BigEndian.Uint32(data[8:])
	h.OffStrings = binary.BigEndian.Uint32(data[12:])
	h.OffMemRsvmap = binary.BigEndian.Uint32(data[16:])
	h.Version = binary.BigEndian.Uint32(data[20:])
	h.LastCompVersion = binary.BigEndian.Uint32(data[24:])
	h.BootCPU = binary.BigEndian.Uint32(data[28:])
	h.SizeStrings = binary.BigEndian.Uint32(data[32:])
	h.SizeStruct = binary.BigEndian.Uint32(data[36:])

	if h.TotalSize < headerSize {
		return nil, parseErr(4, "declared total size smaller than header")
	}
	if uint64(h.TotalSize) > uint64(len(data)) {
		return nil, parseErr(4, "declared total size exceeds blob")
	}
	if h.OffStruct%4 != 0 {
		return nil, parseErr(8, "struct block misaligned")
	}
	if uint64(h.OffStruct)+uint64(h.SizeStruct) > uint64(h.TotalSize) {
		return nil, parseErr(8, "struct block outside blob")
	}
	if uint64(h.OffStrings)+uint64(h.SizeStrings) > uint64(h.TotalSize) {
		return nil, parseErr(12, "strings block outside blob")
	}
	return &Blob{data: data[:h.TotalSize], hdr: h}, nil
}

// Header returns the decoded blob header.
func (b *Blob) Header() Header { return b.hdr }

// propName looks up a property name in the strings block.
func (b *Blob) propName(off uint32) (string, error) {
	start := uint64(b.hdr.OffStrings) + uint64(off)
	end := uint64(b.hdr.OffStrings) + uint64(b.hdr.SizeStrings)
	if start >= end {
		return "", parseErr(int(start), "property name offset outside strings block")
	}
	for i := start; i < end; i++ {
		if b.data[i] == 0 {
			return string(b.data[start:i]), nil
		}
	}
	return "", parseErr(int(start), "unterminated property name")
}

// Property is one property token, attached to the node named by Path.
type Property struct {
	// Path is the full node path, unit addresses included, e.g.
	// "/memory@80000000".
	Path string
	// Name is the property name from the strings block.
	Name string
	// Data is the raw big-endian payload, borrowed from the blob.
	Data []byte
	// AddressCells and SizeCells are the cell widths governing this
	// node's reg property, taken from the nearest ancestor that declares
	// them.
	AddressCells int
	SizeCells    int
}

// U32 decodes a single-cell property such as #address-cells.
func (p Property) U32() (uint32, bool) {
	if len(p.Data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(p.Data), true
}

// Str decodes a NUL-terminated string property such as model.
func (p Property) Str() (string, bool) {
	if len(p.Data) == 0 || p.Data[len(p.Data)-1] != 0 {
		return "", false
	}
	return string(p.Data[:len(p.Data)-1]), true
}

// WalkFunc receives every property in document order. Returning false stops
// the walk early without error.
type WalkFunc func(p Property) bool

// Walk runs the token state machine over the struct block, calling fn for
// each property. It maintains the ancestor path and the inherited
// #address-cells/#size-cells context, and validates structure as it goes:
// depth must return to zero exactly at the END token, every offset must stay
// inside the declared struct block, and cell widths outside {1,2} are
// rejected.
func (b *Blob) Walk(fn WalkFunc) error {
	off := int(b.hdr.OffStruct)
	end := int(b.hdr.OffStruct) + int(b.hdr.SizeStruct)

	type frame struct {
		name         string
		addressCells int
		sizeCells    int
	}
	var stack [maxDepth]frame
	depth := 0

	// Virtual parent of the root node carries the devicetree defaults.
	parent := frame{addressCells: defaultAddressCells, sizeCells: defaultSizeCells}

	u32 := func() (uint32, error) {
		if off+4 > end {
			return 0, parseErr(off, "struct block truncated")
		}
		v := binary.BigEndian.Uint32(b.data[off:])
		off += 4
		return v, nil
	}

	path := func() string {
		// The root node's name is empty; skip it so paths come out as
		// "/cpus/cpu@0" rather than "//cpus/cpu@0".
		s := ""
		for i := 0; i < depth; i++ {
			if stack[i].name == "" {
				continue
			}
			s += "/" + stack[i].name
		}
		if s == "" {
			return "/"
		}
		return s
	}

	for {
		tok, err := u32()
		if err != nil {
			return err
		}
		switch tok {
		case tokenBeginNode:
			if depth >= maxDepth {
				return parseErr(off-4, "node nesting too deep")
			}
			// NUL-terminated name, padded to the next 4-byte
			// boundary.
			start := off
			for {
				if off >= end {
					return parseErr(start, "unterminated node name")
				}
				if b.data[off] == 0 {
					break
				}
				off++
			}
			name := string(b.data[start:off])
			off++
			off = (off + 3) &^ 3
			inherit := parent
			if depth > 0 {
				inherit = stack[depth-1]
			}
			stack[depth] = frame{
				name:         name,
				addressCells: inherit.addressCells,
				sizeCells:    inherit.sizeCells,
			}
			depth++

		case tokenEndNode:
			if depth == 0 {
				return parseErr(off-4, "end-node token without matching begin-node")
			}
			depth--

		case tokenProp:
			if depth == 0 {
				return parseErr(off-4, "property outside any node")
			}
			plen, err := u32()
			if err != nil {
				return err
			}
			nameOff, err := u32()
			if err != nil {
				return err
			}
			if off+int(plen) > end {
				return parseErr(off, "truncated property payload")
			}
			name, err := b.propName(nameOff)
			if err != nil {
				return err
			}
			payloadOff := off
			data := b.data[off : off+int(plen)]
			off += int(plen)
			off = (off + 3) &^ 3

			cur := &stack[depth-1]
			switch name {
			case "#address-cells":
				v, err := cellValue(payloadOff, data, 1)
				if err != nil {
					return err
				}
				cur.addressCells = v
			case "#size-cells":
				// Zero is legal here: /cpus declares size-cells
				// of 0 on real hardware.
				v, err := cellValue(payloadOff, data, 0)
				if err != nil {
					return err
				}
				cur.sizeCells = v
			}

			owner := parent
			if depth > 1 {
				owner = stack[depth-2]
			}
			p := Property{
				Path:         path(),
				Name:         name,
				Data:         data,
				AddressCells: owner.addressCells,
				SizeCells:    owner.sizeCells,
			}
			if !fn(p) {
				return nil
			}

		case tokenNop:

		case tokenEnd:
			if depth != 0 {
				return parseErr(off-4, "end token with unterminated nodes")
			}
			return nil

		default:
			return parseErr(off-4, "unknown struct token")
		}
	}
}

// cellValue validates a #address-cells/#size-cells payload. Only widths up
// to two cells are representable with the standard reg encoding.
func cellValue(off int, data []byte, min uint32) (int, error) {
	if len(data) != 4 {
		return 0, parseErr(off, "cell count property is not one cell")
	}
	v := binary.BigEndian.Uint32(data)
	if v < min || v > 2 {
		return 0, parseErr(off, "cell count outside {1,2}")
	}
	return int(v), nil
}

// baseName returns the last path element with any @unit-address suffix
// stripped: "/memory@80000000" -> "memory".
func baseName(path string) string {
	slash := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			slash = i + 1
		}
	}
	name := path[slash:]
	for i := 0; i < len(name); i++ {
		if name[i] == '@' {
			return name[:i]
		}
	}
	return name
}

// MemoryRegions returns every address/size pair declared under memory nodes,
// in document order. Matching is by exact node name "memory" after stripping
// the unit address; callers with firmware-specific conventions can match on
// device_type or compatible themselves through Walk. Each call re-walks the
// blob, so the traversal is restartable and needs no shared state.
func (b *Blob) MemoryRegions() ([]MemoryRegion, error) {
	var regions []MemoryRegion
	var decodeErr error
	walkErr := b.Walk(func(p Property) bool {
		if p.Name != "reg" || baseName(p.Path) != "memory" {
			return true
		}
		pair := 4 * (p.AddressCells + p.SizeCells)
		if len(p.Data) == 0 || len(p.Data)%pair != 0 {
			decodeErr = parseErr(0, "reg payload is not a whole number of address/size pairs")
			return false
		}
		for i := 0; i < len(p.Data); i += pair {
			start := cells(p.Data[i:], p.AddressCells)
			size := cells(p.Data[i+4*p.AddressCells:], p.SizeCells)
			regions = append(regions, MemoryRegion{Start: start, Size: size})
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return regions, nil
}

func cells(data []byte, n int) uint64 {
	switch n {
	case 0:
		return 0
	case 1:
		return uint64(binary.BigEndian.Uint32(data))
	}
	return binary.BigEndian.Uint64(data)
}

// Model returns the root node's model string, or "" if the blob does not
// carry one.
func (b *Blob) Model() string {
	model := ""
	b.Walk(func(p Property) bool {
		if p.Path == "/" && p.Name == "model" {
			if s, ok := p.Str(); ok {
				model = s
			}
			return false
		}
		return true
	})
	return model
}

// NumCPUs counts the cpu nodes under /cpus. A blob without a cpus node
// reports zero; the caller decides whether that is fatal.
func (b *Blob) NumCPUs() int {
	seen := map[string]bool{}
	b.Walk(func(p Property) bool {
		path := p.Path
		if len(path) > 6 && path[:6] == "/cpus/" && baseName(path) == "cpu" {
			seen[path] = true
		}
		return true
	})
	return len(seen)
}
