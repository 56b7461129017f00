// pkg/cli/repl.go
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"pagekv/pkg/btree"
	"pagekv/pkg/kvdb"
	"pagekv/pkg/pager"
)

var errNoTree = errors.New("no tree selected; use .use or .create")

// REPL provides a Read-Eval-Print Loop over the trees of a database.
type REPL struct {
	// db is the database connection
	db *kvdb.DB

	// tree is the tree key/value commands operate on
	tree *kvdb.Tree

	// shell handles input/output and command parsing
	shell *Shell

	// output is where results are written
	output io.Writer

	// errOutput is where errors are written
	errOutput io.Writer

	// running indicates if the REPL is currently running
	running bool

	// exitRequested indicates that .exit was called
	exitRequested bool
}

// NewREPL creates a new REPL with the given database path.
// Input is read from stdin.
func NewREPL(dbPath string, output, errOutput io.Writer) (*REPL, error) {
	return NewREPLWithInput(dbPath, os.Stdin, output, errOutput)
}

// NewREPLWithInput creates a new REPL with custom input/output streams.
// This is useful for testing or scripted operation.
func NewREPLWithInput(dbPath string, input io.Reader, output, errOutput io.Writer) (*REPL, error) {
	return NewREPLWithOptions(dbPath, kvdb.Options{}, input, output, errOutput)
}

// NewREPLWithOptions opens dbPath with opts. If the database holds exactly
// one tree, it is selected.
func NewREPLWithOptions(dbPath string, opts kvdb.Options, input io.Reader, output, errOutput io.Writer) (*REPL, error) {
	db, err := kvdb.OpenWithOptions(dbPath, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if errOutput == nil {
		errOutput = output
	}

	r := &REPL{
		db:        db,
		shell:     NewShell(input, output, errOutput),
		output:    output,
		errOutput: errOutput,
	}
	if trees, err := db.Trees(); err == nil && len(trees) == 1 {
		r.tree, _ = db.Tree(trees[0].Name)
	}
	return r, nil
}

// Close closes the REPL and underlying database connection.
func (r *REPL) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Run starts the REPL loop, reading and executing commands until
// EOF or .exit command.
func (r *REPL) Run() {
	r.running = true
	r.exitRequested = false

	fmt.Fprintln(r.output, "pagekv version 0.1.0")
	fmt.Fprintln(r.output, "Enter \".help\" for usage hints.")

	for r.running && !r.exitRequested {
		cmd, eof := r.shell.ReadCommand()

		if eof && cmd == "" {
			fmt.Fprintln(r.output)
			break
		}

		if err := r.Execute(cmd); err != nil {
			r.printError(err)
		}

		if eof {
			break
		}
	}

	r.running = false
}

// Execute runs a single command line.
func (r *REPL) Execute(line string) error {
	args, err := SplitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	if strings.HasPrefix(args[0], ".") {
		return r.handleDotCommand(args)
	}

	switch strings.ToLower(args[0]) {
	case "put":
		return r.put(args[1:])
	case "get":
		return r.get(args[1:])
	case "del", "delete":
		return r.del(args[1:])
	case "scan":
		return r.scan(args[1:])
	case "count":
		return r.count()
	case "check":
		return r.check()
	default:
		return errors.Errorf("unknown command: %s", args[0])
	}
}

func (r *REPL) current() (*kvdb.Tree, error) {
	if r.tree == nil {
		return nil, errNoTree
	}
	return r.tree, nil
}

// parseKey converts a command argument to a key of the current tree.
func (r *REPL) parseKey(s string) (btree.Key, error) {
	t, err := r.current()
	if err != nil {
		return nil, err
	}
	if t.KeyType() == pager.KeyInt {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid integer key %q", s)
		}
		return btree.IntKey(v), nil
	}
	return btree.StringKey(s), nil
}

func (r *REPL) put(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: put KEY VALUE")
	}
	k, err := r.parseKey(args[0])
	if err != nil {
		return err
	}
	res, err := r.tree.Put(k, []byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, res)
	return nil
}

func (r *REPL) get(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get KEY")
	}
	k, err := r.parseKey(args[0])
	if err != nil {
		return err
	}
	v, ok, err := r.tree.Get(k)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(r.output, "(not found)")
		return nil
	}
	fmt.Fprintln(r.output, string(v))
	return nil
}

func (r *REPL) del(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: del KEY")
	}
	k, err := r.parseKey(args[0])
	if err != nil {
		return err
	}
	res, err := r.tree.Delete(k)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, res)
	return nil
}

// scan prints entries between two inclusive bounds; "-" or a missing
// bound is open.
func (r *REPL) scan(args []string) error {
	if len(args) > 2 {
		return errors.New("usage: scan [FROM|-] [TO|-]")
	}
	t, err := r.current()
	if err != nil {
		return err
	}
	var bounds [2]btree.Key
	for i, a := range args {
		if a == "-" {
			continue
		}
		if bounds[i], err = r.parseKey(a); err != nil {
			return err
		}
	}

	var rows [][]string
	err = t.Scan(bounds[0], bounds[1], func(k btree.Key, v []byte) bool {
		rows = append(rows, []string{k.Format(t.KeyType()), string(v)})
		return true
	})
	if err != nil {
		return err
	}
	r.displayTable([]string{"key", "value"}, rows)
	return nil
}

func (r *REPL) count() error {
	t, err := r.current()
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, humanize.Comma(int64(t.Size())))
	return nil
}

func (r *REPL) check() error {
	problems, err := r.db.IntegrityCheck()
	if err != nil {
		return err
	}
	corrupt, err := r.db.CorruptionCheck()
	if err != nil {
		return err
	}
	problems = append(problems, corrupt...)
	if len(problems) == 0 {
		fmt.Fprintln(r.output, "ok")
		return nil
	}
	for _, p := range problems {
		fmt.Fprintln(r.output, p)
	}
	return errors.Errorf("%d problem(s) found", len(problems))
}

// displayTable formats results as an ASCII table.
func (r *REPL) displayTable(columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		for i, val := range row {
			if i < len(widths) && len(val) > widths[i] {
				widths[i] = len(val)
			}
		}
	}

	r.printSeparator(widths)
	r.printRow(columns, widths)
	r.printSeparator(widths)
	for _, row := range rows {
		r.printRow(row, widths)
	}
	r.printSeparator(widths)

	fmt.Fprintf(r.output, "%d row(s)\n", len(rows))
}

// printSeparator prints a horizontal line separator.
func (r *REPL) printSeparator(widths []int) {
	fmt.Fprint(r.output, "+")
	for _, w := range widths {
		fmt.Fprint(r.output, strings.Repeat("-", w+2))
		fmt.Fprint(r.output, "+")
	}
	fmt.Fprintln(r.output)
}

// printRow prints a row of string values.
func (r *REPL) printRow(values []string, widths []int) {
	fmt.Fprint(r.output, "|")
	for i, val := range values {
		fmt.Fprintf(r.output, " %-*s |", widths[i], val)
	}
	fmt.Fprintln(r.output)
}

// handleDotCommand processes special dot commands.
func (r *REPL) handleDotCommand(args []string) error {
	switch strings.ToLower(args[0]) {
	case ".exit", ".quit":
		r.exitRequested = true
	case ".help":
		r.printHelp()
	case ".trees":
		return r.showTrees()
	case ".use":
		if len(args) != 2 {
			return errors.New("usage: .use NAME")
		}
		t, err := r.db.Tree(args[1])
		if err != nil {
			return err
		}
		r.tree = t
	case ".create":
		return r.createTree(args[1:])
	case ".drop":
		if len(args) != 2 {
			return errors.New("usage: .drop NAME")
		}
		if err := r.db.DropTree(args[1]); err != nil {
			return err
		}
		if r.tree != nil && r.tree.Name() == args[1] {
			r.tree = nil
		}
	case ".stats":
		st, err := r.db.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintln(r.output, st)
	case ".dump":
		return r.db.Dump(r.output)
	case ".checkpoint":
		return r.db.Checkpoint()
	default:
		fmt.Fprintf(r.errOutput, "Unknown command: %s\n", args[0])
		fmt.Fprintln(r.errOutput, "Use \".help\" for usage hints.")
	}
	return nil
}

func (r *REPL) createTree(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: .create NAME [int|string]")
	}
	kt := pager.KeyInt
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "int":
		case "string":
			kt = pager.KeyString
		default:
			return errors.Errorf("unknown key type %q", args[1])
		}
	}
	t, err := r.db.CreateTree(args[0], kt)
	if err != nil {
		return err
	}
	r.tree = t
	return nil
}

// printHelp displays help information.
func (r *REPL) printHelp() {
	help := `
put KEY VALUE            Store VALUE under KEY unless KEY exists
get KEY                  Show the value stored under KEY
del KEY                  Remove KEY
scan [FROM|-] [TO|-]     List entries with FROM <= key <= TO
count                    Show the number of entries
check                    Verify every tree and page checksum

.checkpoint              Write all changes to the database file
.create NAME [int|string]  Create a tree and select it
.drop NAME               Remove a tree from the catalog
.dump                    Print every tree level by level
.exit                    Exit this program
.help                    Show this help message
.quit                    Exit this program
.stats                   Show database and cache statistics
.trees                   List all trees
.use NAME                Select the tree commands operate on

Quote arguments containing spaces. End a line with \ to continue it.
`
	fmt.Fprintln(r.output, help)
}

// showTrees lists all trees in the database.
func (r *REPL) showTrees() error {
	trees, err := r.db.Trees()
	if err != nil {
		return err
	}
	if len(trees) == 0 {
		fmt.Fprintln(r.output, "(no trees)")
		return nil
	}
	rows := make([][]string, len(trees))
	for i, m := range trees {
		rows[i] = []string{m.Name, m.KeyType.String(), strconv.FormatUint(uint64(m.Root), 10), humanize.Comma(int64(m.Size))}
	}
	r.displayTable([]string{"name", "keys", "root", "entries"}, rows)
	return nil
}

// printError prints an error message to the error output.
func (r *REPL) printError(err error) {
	fmt.Fprintf(r.errOutput, "Error: %v\n", err)
}
