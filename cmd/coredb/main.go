// Command coredb is the interactive/batch front-end for the storage
// engine: a REPL over stdin/stdout plus one-shot script execution, built
// around a flag-driven bufio.Scanner loop that drives coredb's own
// Executor directly rather than going through database/sql.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coredb/coredb/internal/authz"
	"github.com/coredb/coredb/internal/catalog"
	"github.com/coredb/coredb/internal/config"
	"github.com/coredb/coredb/internal/engine"
	"github.com/coredb/coredb/internal/logx"
	"github.com/coredb/coredb/internal/sqlfront"
	"github.com/coredb/coredb/internal/storageengine"
)

var (
	flagDB     = flag.String("db", "coredb.dat", "path to the database file")
	flagConfig = flag.String("config", "", "path to a YAML RuntimeConfig file")
	flagScript = flag.String("script", "", "run a SQL script file non-interactively and exit")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			return 1
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	log := logx.Default()
	eng, err := storageengine.Open(*flagDB, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		return 1
	}
	defer eng.Shutdown()

	cat, err := catalog.Open(eng)
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalog:", err)
		return 1
	}

	registry := authz.NewRegistry()
	checker := authz.NewChecker(registry, cat)
	exec := engine.New(eng, cat, checker, log)
	procs := sqlfront.NewProcedures()

	sess := &session{
		registry: registry,
		checker:  checker,
		exec:     exec,
		cat:      cat,
		procs:    procs,
		user:     "admin", // bootstrap account, until .login switches it
		out:      os.Stdout,
	}

	if *flagScript != "" {
		f, err := os.Open(*flagScript)
		if err != nil {
			fmt.Fprintln(os.Stderr, "script:", err)
			return 1
		}
		defer f.Close()
		return sess.runStream(f)
	}
	return sess.runStream(os.Stdin)
}

// session holds the state one connected client carries across statements:
// which user it is acting as (set via the .login/.logout meta-commands),
// and the executor/registry it dispatches through.
type session struct {
	registry *authz.Registry
	checker  *authz.Checker
	exec     *engine.Executor
	cat      *catalog.Catalog
	procs    *sqlfront.Procedures
	user     string
	token    string
	out      *os.File
	failed   bool
}

// runStream reads statements terminated by ';' (or a balanced BEGIN...END
// block) from r, dispatching meta-commands and SQL statements in order.
// Returns the process exit code: 0 on success, 1 if any statement failed.
func (s *session) runStream(r *os.File) int {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	var buf strings.Builder
	depth := 0
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
			s.runMeta(trimmed)
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		depth += strings.Count(strings.ToUpper(line), "BEGIN")
		depth -= strings.Count(strings.ToUpper(line), "END")
		if depth <= 0 && strings.HasSuffix(trimmed, ";") {
			s.runSQL(buf.String())
			buf.Reset()
			depth = 0
		}
	}
	if strings.TrimSpace(buf.String()) != "" {
		s.runSQL(buf.String())
	}
	if s.failed {
		return 1
	}
	return 0
}

func (s *session) runMeta(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	switch cmd {
	case ".help":
		fmt.Fprintln(s.out, "meta-commands:")
		fmt.Fprintln(s.out, "  .help")
		fmt.Fprintln(s.out, "  .login <user> <password>")
		fmt.Fprintln(s.out, "  .logout")
		fmt.Fprintln(s.out, "  .info")
		fmt.Fprintln(s.out, "  .users")
		fmt.Fprintln(s.out, "  .dump <dir>")
		fmt.Fprintln(s.out, "  .export <table> <path> [utf8|utf8bom|latin1]")
		fmt.Fprintln(s.out, "  .import [-continue] <table> <path> [utf8|utf8bom|latin1]")
		fmt.Fprintln(s.out, "  .exit")
	case ".exit":
		os.Exit(0)
	case ".login":
		if len(fields) != 3 {
			fmt.Fprintln(s.out, "usage: .login <user> <password>")
			return
		}
		sess, err := s.registry.Login(fields[1], fields[2])
		if err != nil {
			fmt.Fprintln(s.out, "login failed:", err)
			s.failed = true
			return
		}
		s.user = sess.User
		s.token = sess.Token
		fmt.Fprintf(s.out, "logged in as %s\n", s.user)
	case ".logout":
		if s.token != "" {
			_ = s.registry.Logout(s.token)
		}
		s.user = "admin"
		s.token = ""
		fmt.Fprintln(s.out, "logged out")
	case ".info":
		fmt.Fprintf(s.out, "current user: %s\n", s.user)
	case ".users":
		for _, u := range s.registry.ListUsers() {
			fmt.Fprintf(s.out, "%s\t%s\n", u.Name, u.Role)
		}
	case ".dump":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: .dump <dir>")
			return
		}
		if err := dumpAll(s.cat, s.exec, s.user, fields[1], s.out); err != nil {
			fmt.Fprintln(s.out, "dump error:", err)
			s.failed = true
		}
	case ".export":
		if len(fields) < 3 || len(fields) > 4 {
			fmt.Fprintln(s.out, "usage: .export <table> <path> [encoding]")
			return
		}
		table := fields[1]
		enc, err := textEncodingByName(encArg(fields, 4))
		if err != nil {
			fmt.Fprintln(s.out, "export error:", err)
			s.failed = true
			return
		}
		n, err := exportTable(s.exec, s.user, table, fields[2], enc)
		if err != nil {
			fmt.Fprintln(s.out, "export error:", err)
			s.failed = true
			return
		}
		fmt.Fprintf(s.out, "exported %d row(s) from %s\n", n, table)
	case ".import":
		args := fields[1:]
		continueOnError := false
		if len(args) > 0 && args[0] == "-continue" {
			continueOnError = true
			args = args[1:]
		}
		if len(args) < 2 || len(args) > 3 {
			fmt.Fprintln(s.out, "usage: .import [-continue] <table> <path> [encoding]")
			return
		}
		table := args[0]
		enc, err := textEncodingByName(encArg(args, 3))
		if err != nil {
			fmt.Fprintln(s.out, "import error:", err)
			s.failed = true
			return
		}
		n, err := importTable(s.exec, s.user, table, args[1], enc, continueOnError, s.out)
		if err != nil {
			fmt.Fprintln(s.out, "import error:", err)
			s.failed = true
			return
		}
		fmt.Fprintf(s.out, "imported %d row(s) into %s\n", n, table)
	default:
		fmt.Fprintf(s.out, "unknown meta-command %q\n", cmd)
		s.failed = true
	}
}

// encArg returns fields[idx-1] (the optional trailing encoding-name
// argument) or "" when the caller didn't supply it.
func encArg(fields []string, idx int) string {
	if len(fields) >= idx {
		return fields[idx-1]
	}
	return ""
}

func (s *session) runSQL(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	stmts, err := sqlfront.Parse(text)
	if err != nil {
		fmt.Fprintln(s.out, "parse error:", err)
		s.failed = true
		return
	}
	for _, stmt := range stmts {
		s.runStatement(stmt)
	}
}

func (s *session) runStatement(stmt sqlfront.Statement) {
	if stmt.ProcName != "" && stmt.ProcBody != "" {
		s.procs.Register(stmt.ProcName, stmt.ProcBody)
		fmt.Fprintf(s.out, "procedure %s defined\n", stmt.ProcName)
		return
	}
	if stmt.ProcName != "" {
		inner, err := s.procs.Expand(stmt.ProcName)
		if err != nil {
			fmt.Fprintln(s.out, "call error:", err)
			s.failed = true
			return
		}
		for _, st := range inner {
			s.runStatement(st)
		}
		return
	}
	if stmt.Plan == nil {
		return
	}
	result, err := s.exec.Execute(s.user, stmt.Plan)
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		s.failed = true
		return
	}
	if result.Rows != nil {
		s.printRows(result.Rows)
		return
	}
	if result.Summary != "" {
		fmt.Fprintln(s.out, result.Summary)
	} else {
		fmt.Fprintln(s.out, "OK")
	}
}

func (s *session) printRows(it engine.RowIter) {
	defer it.Close()
	n := 0
	for {
		row, ok, err := it.Next()
		if err != nil {
			fmt.Fprintln(s.out, "error:", err)
			s.failed = true
			return
		}
		if !ok {
			break
		}
		if n == 0 {
			fmt.Fprintln(s.out, strings.Join(row.Columns, "\t"))
		}
		fmt.Fprintln(s.out, strings.Join(row.Values, "\t"))
		n++
	}
	fmt.Fprintln(s.out, strconv.Itoa(n), "row(s)")
}
