// Package node implements the pure, stateless serialization schema that
// maps a 4096-byte page buffer to either a leaf or an internal B+-tree
// node. Every accessor here operates directly on a page's byte buffer;
// the package carries no state of its own.
package node

import (
	"encoding/binary"
	"fmt"

	"ridgeql/internal/constants"
)

// Type is the node discriminator stored in byte 0 of every page.
type Type uint8

const (
	TypeInternal Type = 0
	TypeLeaf     Type = 1
)

// Common header layout, shared by every node.
const (
	TypeSize            = 1
	TypeOffset          = 0
	IsRootSize          = 1
	IsRootOffset        = TypeOffset + TypeSize
	ParentPointerSize   = 4
	ParentPointerOffset = IsRootOffset + IsRootSize
	CommonHeaderSize    = TypeSize + IsRootSize + ParentPointerSize
)

// Leaf node header layout. Beyond the common header, a leaf carries its
// cell count and a next-leaf page pointer (0 meaning "no next leaf") used
// to chain leaves for a sequential scan that survives splits.
const (
	LeafNumCellsSize   = 4
	LeafNumCellsOffset = CommonHeaderSize
	LeafNextLeafSize   = 4
	LeafNextLeafOffset = LeafNumCellsOffset + LeafNumCellsSize
	LeafHeaderSize     = LeafNextLeafOffset + LeafNextLeafSize
)

// Leaf body layout: a dense array of (key, row) cells.
const (
	LeafKeySize       = 4
	LeafKeyOffset     = 0
	LeafValueSize     = constants.RowSize
	LeafValueOffset   = LeafKeyOffset + LeafKeySize
	LeafCellSize      = LeafKeySize + LeafValueSize
	LeafSpaceForCells = constants.PageSize - LeafHeaderSize
	LeafMaxCells      = LeafSpaceForCells / LeafCellSize
)

// Split thresholds used by leaf splitting.
const (
	LeafRightSplitCount = (LeafMaxCells + 1) / 2
	LeafLeftSplitCount  = (LeafMaxCells + 1) - LeafRightSplitCount
)

// Internal node header layout.
const (
	InternalNumKeysSize      = 4
	InternalNumKeysOffset    = CommonHeaderSize
	InternalRightChildSize   = 4
	InternalRightChildOffset = InternalNumKeysOffset + InternalNumKeysSize
	InternalHeaderSize       = InternalRightChildOffset + InternalRightChildSize
)

// Internal body layout: a dense array of (child page, key) cells.
const (
	InternalKeySize   = 4
	InternalChildSize = 4
	InternalCellSize  = InternalChildSize + InternalKeySize
	InternalMaxCells  = (constants.PageSize - InternalHeaderSize) / InternalCellSize
)

// Internal-node split counts derived from page geometry, the counterpart
// of the leaf thresholds above; the two sides may differ in size by one
// cell depending on parity. btree's internal-node split does not use them:
// it halves its sorted list of entries directly.
const (
	InternalRightSplitCount = (InternalMaxCells + 1) / 2
	InternalLeftSplitCount  = (InternalMaxCells + 1) - InternalRightSplitCount
)

// GetType reads the node type tag.
func GetType(page []byte) Type {
	return Type(page[TypeOffset])
}

// SetType writes the node type tag.
func SetType(page []byte, t Type) {
	page[TypeOffset] = byte(t)
}

// IsRoot reports the is-root flag.
func IsRoot(page []byte) bool {
	return page[IsRootOffset] != 0
}

// SetRoot sets the is-root flag.
func SetRoot(page []byte, isRoot bool) {
	if isRoot {
		page[IsRootOffset] = 1
	} else {
		page[IsRootOffset] = 0
	}
}

// Parent reads the parent page number.
func Parent(page []byte) uint32 {
	return binary.LittleEndian.Uint32(page[ParentPointerOffset:])
}

// SetParent writes the parent page number.
func SetParent(page []byte, parent uint32) {
	binary.LittleEndian.PutUint32(page[ParentPointerOffset:], parent)
}

// --- Leaf accessors ---

func LeafNumCells(page []byte) uint32 {
	return binary.LittleEndian.Uint32(page[LeafNumCellsOffset:])
}

func SetLeafNumCells(page []byte, n uint32) {
	binary.LittleEndian.PutUint32(page[LeafNumCellsOffset:], n)
}

func LeafNextLeaf(page []byte) uint32 {
	return binary.LittleEndian.Uint32(page[LeafNextLeafOffset:])
}

func SetLeafNextLeaf(page []byte, next uint32) {
	binary.LittleEndian.PutUint32(page[LeafNextLeafOffset:], next)
}

func LeafCell(page []byte, cellNum uint32) []byte {
	offset := LeafHeaderSize + cellNum*LeafCellSize
	return page[offset : offset+LeafCellSize]
}

func LeafKey(page []byte, cellNum uint32) uint32 {
	return binary.LittleEndian.Uint32(LeafCell(page, cellNum)[LeafKeyOffset:])
}

func SetLeafKey(page []byte, cellNum uint32, key uint32) {
	binary.LittleEndian.PutUint32(LeafCell(page, cellNum)[LeafKeyOffset:], key)
}

func LeafValue(page []byte, cellNum uint32) []byte {
	cell := LeafCell(page, cellNum)
	return cell[LeafValueOffset : LeafValueOffset+LeafValueSize]
}

// InitLeaf resets page to an empty, non-root leaf with no next leaf.
func InitLeaf(page []byte) {
	SetType(page, TypeLeaf)
	SetRoot(page, false)
	SetLeafNumCells(page, 0)
	SetLeafNextLeaf(page, 0)
}

// --- Internal accessors ---

func InternalNumKeys(page []byte) uint32 {
	return binary.LittleEndian.Uint32(page[InternalNumKeysOffset:])
}

func SetInternalNumKeys(page []byte, n uint32) {
	binary.LittleEndian.PutUint32(page[InternalNumKeysOffset:], n)
}

func InternalRightChild(page []byte) uint32 {
	return binary.LittleEndian.Uint32(page[InternalRightChildOffset:])
}

func SetInternalRightChild(page []byte, child uint32) {
	binary.LittleEndian.PutUint32(page[InternalRightChildOffset:], child)
}

func InternalCell(page []byte, cellNum uint32) []byte {
	offset := InternalHeaderSize + cellNum*InternalCellSize
	return page[offset : offset+InternalCellSize]
}

// InternalChild returns the child pointer for childNum. childNum == numKeys
// returns the right-child pointer; childNum > numKeys is a fatal error.
func InternalChild(page []byte, childNum uint32) uint32 {
	numKeys := InternalNumKeys(page)
	if childNum > numKeys {
		panic(fmt.Sprintf("node: tried to access child %d > num_keys %d", childNum, numKeys))
	}
	if childNum == numKeys {
		return InternalRightChild(page)
	}
	return binary.LittleEndian.Uint32(InternalCell(page, childNum))
}

// SetInternalChild mirrors InternalChild's addressing rules for writes.
func SetInternalChild(page []byte, childNum uint32, child uint32) {
	numKeys := InternalNumKeys(page)
	if childNum > numKeys {
		panic(fmt.Sprintf("node: tried to set child %d > num_keys %d", childNum, numKeys))
	}
	if childNum == numKeys {
		SetInternalRightChild(page, child)
		return
	}
	binary.LittleEndian.PutUint32(InternalCell(page, childNum), child)
}

func InternalKey(page []byte, keyNum uint32) uint32 {
	return binary.LittleEndian.Uint32(InternalCell(page, keyNum)[InternalChildSize:])
}

func SetInternalKey(page []byte, keyNum uint32, key uint32) {
	binary.LittleEndian.PutUint32(InternalCell(page, keyNum)[InternalChildSize:], key)
}

// InitInternal resets page to an empty, non-root internal node.
func InitInternal(page []byte) {
	SetType(page, TypeInternal)
	SetRoot(page, false)
	SetInternalNumKeys(page, 0)
}
