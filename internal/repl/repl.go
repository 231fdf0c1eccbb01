// Package repl implements the interactive front end: reading a line,
// dispatching dot-prefixed meta-commands, parsing `insert`/`select`
// statements, and executing them against a table.Table.
package repl

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"ridgeql/internal/btree"
	"ridgeql/internal/constants"
	"ridgeql/internal/node"
	"ridgeql/internal/row"
	"ridgeql/internal/table"
)

// StatementType distinguishes the two supported statements.
type StatementType int

const (
	StatementInsert StatementType = iota
	StatementSelect
)

// Statement is a parsed, ready-to-execute command.
type Statement struct {
	Type        StatementType
	RowToInsert row.Row
}

// PrepareResult reports how parsing a line went.
type PrepareResult int

const (
	PrepareSuccess PrepareResult = iota
	PrepareSyntaxError
	PrepareNegativeID
	PrepareStringTooLong
	PrepareUnrecognizedStatement
)

// ExecuteResult reports how running a prepared statement went.
type ExecuteResult int

const (
	ExecuteSuccess ExecuteResult = iota
	ExecuteDuplicateKey
	ExecuteError
)

// REPL owns the line editor and the table it drives commands against.
type REPL struct {
	rl    *readline.Instance
	table *table.Table
	log   *zap.SugaredLogger
	out   io.Writer
}

// New builds a REPL reading from stdin/writing to stdout via readline,
// against t.
func New(t *table.Table, log *zap.SugaredLogger) (*REPL, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	rl, err := readline.New("db > ")
	if err != nil {
		return nil, fmt.Errorf("repl: init line editor: %w", err)
	}

	return &REPL{rl: rl, table: t, log: log, out: rl.Stdout()}, nil
}

// Run reads and executes lines until `.exit` or EOF. An interrupt discards
// the current line and the loop continues.
func (r *REPL) Run() error {
	defer r.rl.Close()

	for {
		line, err := r.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return r.table.Close()
		}
		if err != nil {
			return fmt.Errorf("repl: read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if err := r.doMetaCommand(line); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				fmt.Fprintf(r.out, "Unrecognized command '%s'\n", line)
			}
			continue
		}

		var stmt Statement
		switch r.prepareStatement(line, &stmt) {
		case PrepareSuccess:
		case PrepareStringTooLong:
			fmt.Fprintln(r.out, "String is too long.")
			continue
		case PrepareNegativeID:
			fmt.Fprintln(r.out, "ID must be positive.")
			continue
		case PrepareSyntaxError:
			fmt.Fprintln(r.out, "Syntax error. Could not parse statement.")
			continue
		case PrepareUnrecognizedStatement:
			fmt.Fprintf(r.out, "Unrecognized keyword at start of '%s'.\n", line)
			continue
		}

		switch r.executeStatement(&stmt) {
		case ExecuteSuccess:
			fmt.Fprintln(r.out, "Executed.")
		case ExecuteDuplicateKey:
			fmt.Fprintln(r.out, "Error: Duplicate key.")
		case ExecuteError:
			fmt.Fprintln(r.out, "Error: could not execute statement.")
		}
	}
}

// errExit is the sentinel doMetaCommand returns for `.exit`, distinct
// from an unrecognized meta-command.
var errExit = errors.New("repl: exit requested")

func (r *REPL) doMetaCommand(line string) error {
	switch line {
	case ".exit":
		if err := r.table.Close(); err != nil {
			fmt.Fprintf(r.out, "Error closing database: %v\n", err)
		}
		fmt.Fprintln(r.out, "Bye!")
		return errExit
	case ".btree":
		fmt.Fprintln(r.out, "Tree:")
		if err := r.table.PrintTree(r.out, btree.RootPageNum, 0); err != nil {
			fmt.Fprintf(r.out, "Error printing tree: %v\n", err)
		}
		return nil
	case ".constants":
		fmt.Fprintln(r.out, "Constants:")
		r.printConstants()
		return nil
	case ".help":
		fmt.Fprintln(r.out, "Meta-commands: .exit  .btree  .constants  .help")
		return nil
	default:
		return fmt.Errorf("repl: unrecognized meta-command %q", line)
	}
}

func (r *REPL) prepareStatement(line string, stmt *Statement) PrepareResult {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return PrepareUnrecognizedStatement
	}

	switch tokens[0] {
	case "insert":
		return prepareInsert(tokens, stmt)
	case "select":
		stmt.Type = StatementSelect
		return PrepareSuccess
	default:
		return PrepareUnrecognizedStatement
	}
}

func prepareInsert(tokens []string, stmt *Statement) PrepareResult {
	stmt.Type = StatementInsert

	if len(tokens) < 4 {
		return PrepareSyntaxError
	}

	var id int
	if _, err := fmt.Sscanf(tokens[1], "%d", &id); err != nil {
		return PrepareSyntaxError
	}
	if id < 0 {
		return PrepareNegativeID
	}

	username, email := tokens[2], tokens[3]
	if len(username) > constants.UsernameMaxLen {
		return PrepareStringTooLong
	}
	if len(email) > constants.EmailMaxLen {
		return PrepareStringTooLong
	}

	stmt.RowToInsert = row.Row{ID: uint32(id), Username: username, Email: email}
	return PrepareSuccess
}

func (r *REPL) executeStatement(stmt *Statement) ExecuteResult {
	switch stmt.Type {
	case StatementInsert:
		return r.executeInsert(stmt)
	case StatementSelect:
		return r.executeSelect()
	default:
		return ExecuteError
	}
}

func (r *REPL) executeInsert(stmt *Statement) ExecuteResult {
	if err := r.table.Insert(stmt.RowToInsert); err != nil {
		if errors.Is(err, btree.ErrDuplicateKey) {
			return ExecuteDuplicateKey
		}
		r.log.Warnw("insert failed", "id", stmt.RowToInsert.ID, "error", err)
		return ExecuteError
	}
	return ExecuteSuccess
}

func (r *REPL) executeSelect() ExecuteResult {
	err := r.table.Scan(func(rr row.Row) error {
		fmt.Fprintln(r.out, rr.String())
		return nil
	})
	if err != nil {
		r.log.Warnw("scan failed", "error", err)
		return ExecuteError
	}
	return ExecuteSuccess
}

func (r *REPL) printConstants() {
	fmt.Fprintf(r.out, "ROW_SIZE: %d\n", constants.RowSize)
	fmt.Fprintf(r.out, "COMMON_NODE_HEADER_SIZE: %d\n", node.CommonHeaderSize)
	fmt.Fprintf(r.out, "LEAF_NODE_HEADER_SIZE: %d\n", node.LeafHeaderSize)
	fmt.Fprintf(r.out, "LEAF_NODE_CELL_SIZE: %d\n", node.LeafCellSize)
	fmt.Fprintf(r.out, "LEAF_NODE_SPACE_FOR_CELLS: %d\n", node.LeafSpaceForCells)
	fmt.Fprintf(r.out, "LEAF_NODE_MAX_CELLS: %d\n", node.LeafMaxCells)
}
