// Package table is the storage engine's façade: it owns the pager and the
// B+-tree built on top of it, and exposes the only operations the REPL
// (or any other caller) needs: open, insert, scan, find, close.
package table

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"ridgeql/internal/btree"
	"ridgeql/internal/node"
	"ridgeql/internal/pager"
	"ridgeql/internal/row"
)

// Table is the single, fixed-schema table this engine stores.
type Table struct {
	pager *pager.Pager
	tree  *btree.Tree
	log   *zap.SugaredLogger
}

// Open opens or creates the database file at path and prepares it for use.
func Open(path string, log *zap.SugaredLogger) (*Table, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	p, err := pager.Open(path, log)
	if err != nil {
		return nil, fmt.Errorf("table: open %q: %w", path, err)
	}

	tree, err := btree.Open(p, log)
	if err != nil {
		return nil, fmt.Errorf("table: init tree for %q: %w", path, err)
	}

	return &Table{pager: p, tree: tree, log: log}, nil
}

// Insert adds r under its own ID, rejecting a row whose ID already exists.
func (t *Table) Insert(r row.Row) error {
	cursor, err := t.tree.Find(r.ID)
	if err != nil {
		return fmt.Errorf("table: insert %d: %w", r.ID, err)
	}

	present, err := cursor.Present()
	if err != nil {
		return fmt.Errorf("table: insert %d: %w", r.ID, err)
	}
	if present {
		key, err := cursor.Key()
		if err != nil {
			return fmt.Errorf("table: insert %d: %w", r.ID, err)
		}
		if key == r.ID {
			return fmt.Errorf("table: insert %d: %w", r.ID, btree.ErrDuplicateKey)
		}
	}

	if err := t.tree.Insert(cursor, r.ID, r); err != nil {
		return fmt.Errorf("table: insert %d: %w", r.ID, err)
	}
	return nil
}

// Find looks up id and reports whether a row with that key exists,
// returning it if so.
func (t *Table) Find(id uint32) (row.Row, bool, error) {
	cursor, err := t.tree.Find(id)
	if err != nil {
		return row.Row{}, false, fmt.Errorf("table: find %d: %w", id, err)
	}

	present, err := cursor.Present()
	if err != nil {
		return row.Row{}, false, fmt.Errorf("table: find %d: %w", id, err)
	}
	if !present {
		return row.Row{}, false, nil
	}

	key, err := cursor.Key()
	if err != nil {
		return row.Row{}, false, fmt.Errorf("table: find %d: %w", id, err)
	}
	if key != id {
		return row.Row{}, false, nil
	}

	value, err := cursor.Value()
	if err != nil {
		return row.Row{}, false, fmt.Errorf("table: find %d: %w", id, err)
	}
	r, err := row.Deserialize(value)
	if err != nil {
		return row.Row{}, false, fmt.Errorf("table: find %d: %w", id, err)
	}
	return r, true, nil
}

// Scan visits every row in key order, stopping early if visit returns an
// error.
func (t *Table) Scan(visit func(row.Row) error) error {
	cursor, err := t.tree.Start()
	if err != nil {
		return fmt.Errorf("table: scan: %w", err)
	}

	for !cursor.EndOfTable {
		value, err := cursor.Value()
		if err != nil {
			return fmt.Errorf("table: scan: %w", err)
		}
		r, err := row.Deserialize(value)
		if err != nil {
			return fmt.Errorf("table: scan: %w", err)
		}
		if err := visit(r); err != nil {
			return err
		}
		if err := cursor.Advance(); err != nil {
			return fmt.Errorf("table: scan: %w", err)
		}
	}
	return nil
}

// PrintTree renders the tree rooted at pageNum to w, one line per node,
// indented by depth. It is diagnostic-only: the exact layout is not a
// stable contract.
func (t *Table) PrintTree(w io.Writer, pageNum, indentLevel uint32) error {
	page, err := t.pager.GetPage(pageNum)
	if err != nil {
		return err
	}

	indent := func(level uint32) {
		for i := uint32(0); i < level; i++ {
			fmt.Fprint(w, "  ")
		}
	}

	switch node.GetType(page.Data[:]) {
	case node.TypeLeaf:
		numCells := node.LeafNumCells(page.Data[:])
		indent(indentLevel)
		fmt.Fprintf(w, "- leaf (size %d)\n", numCells)
		for i := uint32(0); i < numCells; i++ {
			indent(indentLevel + 1)
			fmt.Fprintf(w, "- key %d\n", node.LeafKey(page.Data[:], i))
		}

	case node.TypeInternal:
		numKeys := node.InternalNumKeys(page.Data[:])
		indent(indentLevel)
		fmt.Fprintf(w, "- internal (size %d)\n", numKeys)
		for i := uint32(0); i < numKeys; i++ {
			child := node.InternalChild(page.Data[:], i)
			if err := t.PrintTree(w, child, indentLevel+1); err != nil {
				return err
			}
			indent(indentLevel + 1)
			fmt.Fprintf(w, "- key %d\n", node.InternalKey(page.Data[:], i))
		}
		if err := t.PrintTree(w, node.InternalRightChild(page.Data[:]), indentLevel+1); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes every resident page and closes the underlying file.
func (t *Table) Close() error {
	if err := t.pager.Close(); err != nil {
		return fmt.Errorf("table: close: %w", err)
	}
	return nil
}
