// Package btree implements the B+-tree that organizes a table's rows by
// primary key: key search across internal and leaf nodes, ordered
// insertion into leaves, leaf and internal node splitting, and root
// creation. It consumes the pager for page I/O and the node package for
// byte-level layout.
package btree

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"ridgeql/internal/node"
	"ridgeql/internal/pager"
	"ridgeql/internal/row"
)

// RootPageNum is always 0: the Table only ever needs this one field
// because every split relocates the *previous* root's bytes to a new
// page, keeping the root itself pinned at page 0.
const RootPageNum = 0

// ErrDuplicateKey marks an insert whose key already exists. Tree.Insert
// does not check for duplicates itself; callers that detect one via Find
// and Cursor.Present (such as table.Table.Insert) return it.
var ErrDuplicateKey = fmt.Errorf("btree: duplicate key")

// Tree owns the pager it reads/writes through; its root is always
// RootPageNum.
type Tree struct {
	pager *pager.Pager
	log   *zap.SugaredLogger
}

// Cursor is a positional handle into the tree: a page, a cell offset
// within that page, and a sticky end-of-scan flag. It is used both for
// sequential reads (Start/Advance) and for locating the point of a
// forthcoming insert (Find).
type Cursor struct {
	tree       *Tree
	PageNum    uint32
	CellNum    uint32
	EndOfTable bool
}

// Open wraps p in a Tree, initializing page 0 as an empty root leaf if the
// file is brand new.
func Open(p *pager.Pager, log *zap.SugaredLogger) (*Tree, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Tree{pager: p, log: log}

	if p.NumPages() == 0 {
		root, err := p.GetPage(RootPageNum)
		if err != nil {
			return nil, fmt.Errorf("btree: init root: %w", err)
		}
		node.InitLeaf(root.Data[:])
		node.SetRoot(root.Data[:], true)
	}

	return t, nil
}

// Find descends from the root looking for key. On an exact match the
// returned cursor points at that cell (the caller inspects the key to
// detect duplicates); on no match it returns the position where an
// insertion would preserve ordering.
func (t *Tree) Find(key uint32) (*Cursor, error) {
	root, err := t.pager.GetPage(RootPageNum)
	if err != nil {
		return nil, err
	}
	if node.GetType(root.Data[:]) == node.TypeLeaf {
		return t.leafFind(RootPageNum, key)
	}
	return t.internalFind(RootPageNum, key)
}

func (t *Tree) leafFind(pageNum, key uint32) (*Cursor, error) {
	page, err := t.pager.GetPage(pageNum)
	if err != nil {
		return nil, err
	}

	numCells := node.LeafNumCells(page.Data[:])
	minIdx, maxIdx := uint32(0), numCells
	for minIdx != maxIdx {
		idx := (minIdx + maxIdx) / 2
		keyAtIdx := node.LeafKey(page.Data[:], idx)
		if key == keyAtIdx {
			return &Cursor{tree: t, PageNum: pageNum, CellNum: idx}, nil
		}
		if key < keyAtIdx {
			maxIdx = idx
		} else {
			minIdx = idx + 1
		}
	}

	return &Cursor{tree: t, PageNum: pageNum, CellNum: minIdx}, nil
}

func (t *Tree) internalFind(pageNum, key uint32) (*Cursor, error) {
	page, err := t.pager.GetPage(pageNum)
	if err != nil {
		return nil, err
	}

	childNum := internalFindChildIndex(page.Data[:], key)
	childPageNum := node.InternalChild(page.Data[:], childNum)

	child, err := t.pager.GetPage(childPageNum)
	if err != nil {
		return nil, err
	}

	switch node.GetType(child.Data[:]) {
	case node.TypeLeaf:
		return t.leafFind(childPageNum, key)
	case node.TypeInternal:
		return t.internalFind(childPageNum, key)
	default:
		return nil, fmt.Errorf("btree: unknown node type at page %d", childPageNum)
	}
}

// internalFindChildIndex returns the smallest i with key(i) >= key, the
// same half-open-interval binary search convention used by leafFind.
func internalFindChildIndex(page []byte, key uint32) uint32 {
	numKeys := node.InternalNumKeys(page)
	minIdx, maxIdx := uint32(0), numKeys
	for minIdx != maxIdx {
		idx := (minIdx + maxIdx) / 2
		if node.InternalKey(page, idx) >= key {
			maxIdx = idx
		} else {
			minIdx = idx + 1
		}
	}
	return minIdx
}

// nodeMaxKey returns the maximum key reachable through page. For a leaf
// that is simply its last cell's key; for an internal node it recurses
// into the right child, since an internal node's own last stored key is
// only the boundary before its right child, not the subtree's true max.
func (t *Tree) nodeMaxKey(page []byte) (uint32, error) {
	if node.GetType(page) == node.TypeLeaf {
		n := node.LeafNumCells(page)
		if n == 0 {
			t.log.Warnw("max key requested on empty leaf", "num_cells", n)
			return 0, fmt.Errorf("btree: max key of empty leaf")
		}
		return node.LeafKey(page, n-1), nil
	}
	rightChildNum := node.InternalRightChild(page)
	rightChild, err := t.pager.GetPage(rightChildNum)
	if err != nil {
		return 0, err
	}
	return t.nodeMaxKey(rightChild.Data[:])
}

// Insert adds key/r into the tree via cursor, which must already be
// positioned by Find. The caller is responsible for duplicate detection.
func (t *Tree) Insert(cursor *Cursor, key uint32, r row.Row) error {
	leaf, err := t.pager.GetPage(cursor.PageNum)
	if err != nil {
		return err
	}

	numCells := node.LeafNumCells(leaf.Data[:])
	if numCells < node.LeafMaxCells {
		return t.leafInsertInPlace(leaf.Data[:], cursor.CellNum, key, r)
	}
	return t.leafSplitAndInsert(cursor, key, r)
}

func (t *Tree) leafInsertInPlace(page []byte, cellNum, key uint32, r row.Row) error {
	numCells := node.LeafNumCells(page)
	for i := numCells; i > cellNum; i-- {
		copy(node.LeafCell(page, i), node.LeafCell(page, i-1))
	}
	node.SetLeafNumCells(page, numCells+1)
	node.SetLeafKey(page, cellNum, key)
	return row.Serialize(r, node.LeafValue(page, cellNum))
}

// leafSplitAndInsert redistributes the LeafMaxCells+1 logical cells
// (existing cells plus the new one at cursor.CellNum) between the old
// (left) leaf and a freshly allocated (right) leaf, threading the
// next-leaf chain through the split, then promotes the split upward: into
// a brand-new root if the leaf was the root, or into its existing parent
// (recursively splitting ancestors as needed) otherwise.
func (t *Tree) leafSplitAndInsert(cursor *Cursor, key uint32, r row.Row) error {
	oldPage, err := t.pager.GetPage(cursor.PageNum)
	if err != nil {
		return err
	}
	oldParentPageNum := node.Parent(oldPage.Data[:])
	oldIsRoot := node.IsRoot(oldPage.Data[:])
	oldNextLeaf := node.LeafNextLeaf(oldPage.Data[:])
	oldMaxKey := node.LeafKey(oldPage.Data[:], node.LeafNumCells(oldPage.Data[:])-1)

	newPageNum := t.pager.NumPages()
	newPage, err := t.pager.GetPage(newPageNum)
	if err != nil {
		return err
	}
	node.InitLeaf(newPage.Data[:])

	for i := int32(node.LeafMaxCells); i >= 0; i-- {
		var dest []byte
		if i >= int32(node.LeafLeftSplitCount) {
			dest = newPage.Data[:]
		} else {
			dest = oldPage.Data[:]
		}
		destIdx := uint32(i) % node.LeafLeftSplitCount

		switch {
		case i == int32(cursor.CellNum):
			node.SetLeafKey(dest, destIdx, key)
			if serr := row.Serialize(r, node.LeafValue(dest, destIdx)); serr != nil {
				return serr
			}
		case i > int32(cursor.CellNum):
			copy(node.LeafCell(dest, destIdx), node.LeafCell(oldPage.Data[:], uint32(i-1)))
		default:
			copy(node.LeafCell(dest, destIdx), node.LeafCell(oldPage.Data[:], uint32(i)))
		}
	}

	node.SetLeafNumCells(oldPage.Data[:], node.LeafLeftSplitCount)
	node.SetLeafNumCells(newPage.Data[:], node.LeafRightSplitCount)

	node.SetLeafNextLeaf(newPage.Data[:], oldNextLeaf)
	node.SetLeafNextLeaf(oldPage.Data[:], newPageNum)
	node.SetParent(newPage.Data[:], oldParentPageNum)

	t.log.Debugw("leaf split", "old_page", cursor.PageNum, "new_page", newPageNum, "was_root", oldIsRoot)

	if oldIsRoot {
		return t.createNewRoot(newPageNum)
	}

	// The old leaf now ends at a smaller key, so its separator in the
	// parent moves down with it (a right-child leaf has no separator).
	parent, err := t.pager.GetPage(oldParentPageNum)
	if err != nil {
		return err
	}
	if idx := internalFindChildIndex(parent.Data[:], oldMaxKey); idx < node.InternalNumKeys(parent.Data[:]) {
		node.SetInternalKey(parent.Data[:], idx, node.LeafKey(oldPage.Data[:], node.LeafLeftSplitCount-1))
	}
	return t.internalNodeInsert(oldParentPageNum, newPageNum)
}

// internalNodeInsert splices a newly created child (a page number, leaf or
// internal) into parentPageNum at the position matching its max key,
// updating the parent's right-child pointer instead of inserting a cell
// when the new child is more to the right than everything already there.
// If the parent has no room left, it is split first.
func (t *Tree) internalNodeInsert(parentPageNum, childPageNum uint32) error {
	parent, err := t.pager.GetPage(parentPageNum)
	if err != nil {
		return err
	}
	child, err := t.pager.GetPage(childPageNum)
	if err != nil {
		return err
	}

	childMaxKey, err := t.nodeMaxKey(child.Data[:])
	if err != nil {
		return err
	}
	index := internalFindChildIndex(parent.Data[:], childMaxKey)
	originalNumKeys := node.InternalNumKeys(parent.Data[:])

	if originalNumKeys >= node.InternalMaxCells {
		return t.internalNodeSplitAndInsert(parentPageNum, childPageNum)
	}

	rightChildPageNum := node.InternalRightChild(parent.Data[:])
	rightChild, err := t.pager.GetPage(rightChildPageNum)
	if err != nil {
		return err
	}
	rightChildMaxKey, err := t.nodeMaxKey(rightChild.Data[:])
	if err != nil {
		return err
	}

	node.SetInternalNumKeys(parent.Data[:], originalNumKeys+1)

	if childMaxKey > rightChildMaxKey {
		node.SetInternalChild(parent.Data[:], originalNumKeys, rightChildPageNum)
		node.SetInternalKey(parent.Data[:], originalNumKeys, rightChildMaxKey)
		node.SetInternalRightChild(parent.Data[:], childPageNum)
	} else {
		for i := originalNumKeys; i > index; i-- {
			copy(node.InternalCell(parent.Data[:], i), node.InternalCell(parent.Data[:], i-1))
		}
		node.SetInternalChild(parent.Data[:], index, childPageNum)
		node.SetInternalKey(parent.Data[:], index, childMaxKey)
	}

	node.SetParent(child.Data[:], parentPageNum)
	return nil
}

type internalEntry struct {
	key   uint32
	child uint32
}

// internalNodeSplitAndInsert splits a full internal node to make room for
// one more child. It gathers every existing (child, key) cell plus the
// node's own right child (whose "key" for ordering purposes is its true
// subtree max key) and the new child being inserted into one sorted list,
// then divides that list roughly in half: the lower half stays in
// fullPageNum, the upper half moves to a freshly allocated node, and each
// half's last entry becomes that node's right child (implicit, no stored
// key) rather than an explicit cell. The boundary between the two halves
// is promoted to the parent — or becomes a brand new root if fullPageNum
// was itself the root.
func (t *Tree) internalNodeSplitAndInsert(fullPageNum, childPageNum uint32) error {
	fullPage, err := t.pager.GetPage(fullPageNum)
	if err != nil {
		return err
	}
	child, err := t.pager.GetPage(childPageNum)
	if err != nil {
		return err
	}
	childMaxKey, err := t.nodeMaxKey(child.Data[:])
	if err != nil {
		return err
	}

	oldNumKeys := node.InternalNumKeys(fullPage.Data[:])
	entries := make([]internalEntry, 0, oldNumKeys+2)
	for i := uint32(0); i < oldNumKeys; i++ {
		entries = append(entries, internalEntry{
			key:   node.InternalKey(fullPage.Data[:], i),
			child: node.InternalChild(fullPage.Data[:], i),
		})
	}
	oldRightChildNum := node.InternalRightChild(fullPage.Data[:])
	oldRightChildMaxKey, err := t.nodeMaxKey(fullPage.Data[:])
	if err != nil {
		return err
	}
	entries = append(entries, internalEntry{key: oldRightChildMaxKey, child: oldRightChildNum})

	insertAt := sort.Search(len(entries), func(i int) bool { return entries[i].key >= childMaxKey })
	entries = append(entries, internalEntry{})
	copy(entries[insertAt+1:], entries[insertAt:])
	entries[insertAt] = internalEntry{key: childMaxKey, child: childPageNum}

	leftCount := len(entries) / 2
	leftEntries := entries[:leftCount]
	rightEntries := entries[leftCount:]

	oldIsRoot := node.IsRoot(fullPage.Data[:])
	oldParentPageNum := node.Parent(fullPage.Data[:])

	t.log.Debugw("internal node split", "full_page", fullPageNum, "entries", len(entries), "was_root", oldIsRoot)

	newPageNum := t.pager.NumPages()
	newPage, err := t.pager.GetPage(newPageNum)
	if err != nil {
		return err
	}
	node.InitInternal(newPage.Data[:])

	node.InitInternal(fullPage.Data[:])
	writeInternalEntries(fullPage.Data[:], leftEntries)
	writeInternalEntries(newPage.Data[:], rightEntries)

	for _, e := range leftEntries {
		if perr := t.reparentChild(e.child, fullPageNum); perr != nil {
			return perr
		}
	}
	for _, e := range rightEntries {
		if perr := t.reparentChild(e.child, newPageNum); perr != nil {
			return perr
		}
	}

	if oldIsRoot {
		return t.createNewRoot(newPageNum)
	}

	// As for a leaf split: the parent's separator for fullPageNum follows
	// its new, smaller max key.
	parent, err := t.pager.GetPage(oldParentPageNum)
	if err != nil {
		return err
	}
	if idx := internalFindChildIndex(parent.Data[:], oldRightChildMaxKey); idx < node.InternalNumKeys(parent.Data[:]) {
		node.SetInternalKey(parent.Data[:], idx, leftEntries[len(leftEntries)-1].key)
	}

	node.SetParent(newPage.Data[:], oldParentPageNum)
	return t.internalNodeInsert(oldParentPageNum, newPageNum)
}

// writeInternalEntries lays entries out as an internal node's cells, with
// the last entry becoming the implicit right child. numKeys is set before
// any cell is written: SetInternalChild addresses the right-child slot
// whenever childNum == numKeys, so writing cells while numKeys is still 0
// (InitInternal's starting value) would misdirect every write.
func writeInternalEntries(page []byte, entries []internalEntry) {
	cells := entries[:len(entries)-1]
	node.SetInternalNumKeys(page, uint32(len(cells)))
	for i, e := range cells {
		node.SetInternalChild(page, uint32(i), e.child)
		node.SetInternalKey(page, uint32(i), e.key)
	}
	node.SetInternalRightChild(page, entries[len(entries)-1].child)
}

func (t *Tree) reparentChild(childPageNum, parentPageNum uint32) error {
	child, err := t.pager.GetPage(childPageNum)
	if err != nil {
		return err
	}
	node.SetParent(child.Data[:], parentPageNum)
	return nil
}

// createNewRoot relocates the root's current bytes (leaf or internal) to
// a freshly allocated left-child page, then reinitializes the root page
// itself as an internal node with one key and two children: the relocated
// left child and rightPageNum. The root always lives at page 0, so the
// Table only ever needs a single root page number.
func (t *Tree) createNewRoot(rightPageNum uint32) error {
	root, err := t.pager.GetPage(RootPageNum)
	if err != nil {
		return err
	}
	rightChild, err := t.pager.GetPage(rightPageNum)
	if err != nil {
		return err
	}

	leftPageNum := t.pager.NumPages()
	leftChild, err := t.pager.GetPage(leftPageNum)
	if err != nil {
		return err
	}

	t.log.Debugw("creating new root", "left_page", leftPageNum, "right_page", rightPageNum)

	leftChild.Data = root.Data
	node.SetRoot(leftChild.Data[:], false)

	if node.GetType(leftChild.Data[:]) == node.TypeInternal {
		numKeys := node.InternalNumKeys(leftChild.Data[:])
		for i := uint32(0); i < numKeys; i++ {
			if err := t.reparentChild(node.InternalChild(leftChild.Data[:], i), leftPageNum); err != nil {
				return err
			}
		}
		if err := t.reparentChild(node.InternalRightChild(leftChild.Data[:]), leftPageNum); err != nil {
			return err
		}
	}

	node.InitInternal(root.Data[:])
	node.SetRoot(root.Data[:], true)
	node.SetInternalNumKeys(root.Data[:], 1)
	node.SetInternalChild(root.Data[:], 0, leftPageNum)

	leftMaxKey, err := t.nodeMaxKey(leftChild.Data[:])
	if err != nil {
		return err
	}
	node.SetInternalKey(root.Data[:], 0, leftMaxKey)
	node.SetInternalRightChild(root.Data[:], rightPageNum)

	node.SetParent(leftChild.Data[:], RootPageNum)
	node.SetParent(rightChild.Data[:], RootPageNum)

	return nil
}

// Start returns a cursor positioned at the first row of the table (the
// leftmost leaf's first cell), descending through however many internal
// levels the tree currently has.
func (t *Tree) Start() (*Cursor, error) {
	cursor, err := t.Find(0)
	if err != nil {
		return nil, err
	}

	page, err := t.pager.GetPage(cursor.PageNum)
	if err != nil {
		return nil, err
	}
	cursor.EndOfTable = node.LeafNumCells(page.Data[:]) == 0
	return cursor, nil
}

// Value returns a byte slice pointing at the row payload under the
// cursor.
func (c *Cursor) Value() ([]byte, error) {
	page, err := c.tree.pager.GetPage(c.PageNum)
	if err != nil {
		return nil, err
	}
	return node.LeafValue(page.Data[:], c.CellNum), nil
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() (uint32, error) {
	page, err := c.tree.pager.GetPage(c.PageNum)
	if err != nil {
		return 0, err
	}
	return node.LeafKey(page.Data[:], c.CellNum), nil
}

// Present reports whether the cursor's position names an existing cell
// (as opposed to the one-past-the-end insertion point a Find for a
// not-yet-present key lands on).
func (c *Cursor) Present() (bool, error) {
	page, err := c.tree.pager.GetPage(c.PageNum)
	if err != nil {
		return false, err
	}
	return c.CellNum < node.LeafNumCells(page.Data[:]), nil
}

// Advance moves the cursor to the next row in key order, crossing into
// the next leaf via the leaf's next-leaf pointer once the current leaf is
// exhausted, and only setting EndOfTable once that pointer is 0.
func (c *Cursor) Advance() error {
	page, err := c.tree.pager.GetPage(c.PageNum)
	if err != nil {
		return err
	}

	c.CellNum++
	if c.CellNum < node.LeafNumCells(page.Data[:]) {
		return nil
	}

	next := node.LeafNextLeaf(page.Data[:])
	if next == 0 {
		c.EndOfTable = true
		return nil
	}

	c.PageNum = next
	c.CellNum = 0
	nextPage, err := c.tree.pager.GetPage(next)
	if err != nil {
		return err
	}
	c.EndOfTable = node.LeafNumCells(nextPage.Data[:]) == 0
	return nil
}
