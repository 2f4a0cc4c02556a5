package sqlfront

import (
	"strconv"
	"strings"

	"github.com/coredb/coredb/internal/catalog"
	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/engine"
)

// Statement is one parsed SQL statement, compiled directly to a Plan tree.
// CreateProcedure/Call are stored separately since they are not Plan
// nodes but named, reusable statement bodies.
type Statement struct {
	Plan          *engine.Plan
	ProcName      string // set for CREATE PROCEDURE / CALL
	ProcBody      string // raw body text for CREATE PROCEDURE
}

// parser walks a flat token stream produced by lexer with a plain
// recursive-descent structure, trimmed to the supported statement subset.
type parser struct {
	toks []token
	pos  int
}

// Parse splits input on top-level ';' (respecting BEGIN...END blocks) and
// parses each statement.
func Parse(input string) ([]Statement, error) {
	chunks, err := splitStatements(input)
	if err != nil {
		return nil, err
	}
	var out []Statement
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		stmt, err := parseOne(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

// splitStatements scans raw text, splitting on ';' outside of BEGIN...END
// nesting and quoted strings.
func splitStatements(input string) ([]string, error) {
	var chunks []string
	var cur strings.Builder
	depth := 0
	inString := false
	i := 0
	for i < len(input) {
		c := input[i]
		if inString {
			cur.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			i++
			continue
		}
		if c == '\'' {
			inString = true
			cur.WriteByte(c)
			i++
			continue
		}
		upperAt := func(word string) bool {
			if i+len(word) > len(input) {
				return false
			}
			return strings.EqualFold(input[i:i+len(word)], word)
		}
		if upperAt("BEGIN") && (i == 0 || isWordBoundary(input[i-1])) {
			depth++
			cur.WriteString(input[i : i+5])
			i += 5
			continue
		}
		if upperAt("END") && (i == 0 || isWordBoundary(input[i-1])) {
			if depth > 0 {
				depth--
			}
			cur.WriteString(input[i : i+3])
			i += 3
			continue
		}
		if c == ';' && depth == 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			i++
			continue
		}
		cur.WriteByte(c)
		i++
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunks = append(chunks, cur.String())
	}
	return chunks, nil
}

func isWordBoundary(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '(' || b == ')'
}

func parseOne(text string) (Statement, error) {
	lx := newLexer(text)
	var toks []token
	for {
		t := lx.next()
		toks = append(toks, t)
		if t.Typ == tEOF {
			break
		}
	}
	p := &parser{toks: toks}
	return p.parseStatement()
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errf(format string, args ...any) error {
	t := p.cur()
	return dberr.New(dberr.ParseError, format, args...).WithPos(t.Line, t.Col)
}

func (p *parser) expectKeyword(kw string) (token, error) {
	t := p.cur()
	if t.Typ != tKeyword || t.Val != kw {
		return token{}, p.errf("expected %q, got %q", kw, t.Val)
	}
	return p.advance(), nil
}

func (p *parser) expectSymbol(sym string) (token, error) {
	t := p.cur()
	if t.Typ != tSymbol || t.Val != sym {
		return token{}, p.errf("expected %q, got %q", sym, t.Val)
	}
	return p.advance(), nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.Typ != tIdent {
		return "", p.errf("expected identifier, got %q", t.Val)
	}
	p.advance()
	return t.Val, nil
}

func (p *parser) atKeyword(kw string) bool {
	t := p.cur()
	return t.Typ == tKeyword && t.Val == kw
}

func (p *parser) atSymbol(sym string) bool {
	t := p.cur()
	return t.Typ == tSymbol && t.Val == sym
}

func (p *parser) parseStatement() (Statement, error) {
	t := p.cur()
	if t.Typ != tKeyword {
		return Statement{}, p.errf("expected statement keyword, got %q", t.Val)
	}
	switch t.Val {
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDropTable()
	case "SHOW":
		return p.parseShowTables()
	case "INSERT":
		return p.parseInsert()
	case "SELECT":
		plan, err := p.parseSelect()
		return Statement{Plan: plan}, err
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "CALL":
		return p.parseCall()
	default:
		return Statement{}, p.errf("unsupported statement %q", t.Val)
	}
}

func (p *parser) parseCreate() (Statement, error) {
	p.advance() // CREATE
	switch {
	case p.atKeyword("TABLE"):
		plan, err := p.parseCreateTable()
		return Statement{Plan: plan}, err
	case p.atKeyword("INDEX"):
		plan, err := p.parseCreateIndex()
		return Statement{Plan: plan}, err
	case p.atKeyword("PROCEDURE"):
		return p.parseCreateProcedure()
	default:
		return Statement{}, p.errf("expected TABLE, INDEX, or PROCEDURE after CREATE")
	}
}

func (p *parser) parseCreateTable() (*engine.Plan, error) {
	if _, err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []catalog.Column
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &engine.Plan{Kind: engine.KindCreateTable, Table: name, TableColumns: cols}, nil
}

func (p *parser) parseColumnDef() (catalog.Column, error) {
	name, err := p.expectIdent()
	if err != nil {
		return catalog.Column{}, err
	}
	t := p.cur()
	if t.Typ != tKeyword {
		return catalog.Column{}, p.errf("expected column type, got %q", t.Val)
	}
	p.advance()
	ct, ok := catalog.ParseColumnType(t.Val)
	if !ok {
		return catalog.Column{}, p.errf("unknown column type %q", t.Val)
	}
	col := catalog.Column{Name: name, Type: ct}
	if p.atSymbol("(") {
		p.advance()
		lenTok := p.cur()
		if lenTok.Typ != tNumber {
			return catalog.Column{}, p.errf("expected length, got %q", lenTok.Val)
		}
		p.advance()
		n, _ := strconv.Atoi(lenTok.Val)
		col.Length = n
		if _, err := p.expectSymbol(")"); err != nil {
			return catalog.Column{}, err
		}
	}
	for {
		switch {
		case p.atKeyword("PRIMARY"):
			p.advance()
			if _, err := p.expectKeyword("KEY"); err != nil {
				return catalog.Column{}, err
			}
			col.PrimaryKey = true
			col.NotNull = true
		case p.atKeyword("UNIQUE"):
			p.advance()
			col.Unique = true
		case p.atKeyword("NOT"):
			p.advance()
			if _, err := p.expectKeyword("NULL"); err != nil {
				return catalog.Column{}, err
			}
			col.NotNull = true
		case p.atKeyword("DEFAULT"):
			p.advance()
			lit, err := p.parseLiteral()
			if err != nil {
				return catalog.Column{}, err
			}
			col.HasDefault = true
			col.DefaultValue = lit
		default:
			return col, nil
		}
	}
}

func (p *parser) parseLiteral() (string, error) {
	t := p.cur()
	switch t.Typ {
	case tString, tNumber, tIdent:
		p.advance()
		return t.Val, nil
	default:
		return "", p.errf("expected literal, got %q", t.Val)
	}
}

func (p *parser) parseCreateIndex() (*engine.Plan, error) {
	p.advance() // INDEX
	idxName, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &engine.Plan{Kind: engine.KindCreateIndex, Table: table, IndexName: idxName, IndexCols: cols}, nil
}

func (p *parser) parseCreateProcedure() (Statement, error) {
	p.advance() // PROCEDURE
	name, err := p.expectIdent()
	if err != nil {
		return Statement{}, err
	}
	if _, err := p.expectKeyword("BEGIN"); err != nil {
		return Statement{}, err
	}
	start := p.pos
	depth := 1
	for depth > 0 {
		t := p.cur()
		if t.Typ == tEOF {
			return Statement{}, p.errf("unterminated procedure body, expected END")
		}
		if t.Typ == tKeyword && t.Val == "BEGIN" {
			depth++
		}
		if t.Typ == tKeyword && t.Val == "END" {
			depth--
			if depth == 0 {
				break
			}
		}
		p.advance()
	}
	end := p.pos
	p.advance() // END
	var body strings.Builder
	for i := start; i < end; i++ {
		if body.Len() > 0 {
			body.WriteByte(' ')
		}
		body.WriteString(p.toks[i].Val)
	}
	return Statement{ProcName: name, ProcBody: body.String()}, nil
}

func (p *parser) parseCall() (Statement, error) {
	p.advance() // CALL
	name, err := p.expectIdent()
	if err != nil {
		return Statement{}, err
	}
	if p.atSymbol("(") {
		p.advance()
		for !p.atSymbol(")") {
			p.advance()
		}
		p.advance()
	}
	return Statement{ProcName: name}, nil
}

func (p *parser) parseDropTable() (Statement, error) {
	p.advance() // DROP
	if _, err := p.expectKeyword("TABLE"); err != nil {
		return Statement{}, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return Statement{}, err
	}
	return Statement{Plan: &engine.Plan{Kind: engine.KindDropTable, Table: name}}, nil
}

func (p *parser) parseShowTables() (Statement, error) {
	p.advance() // SHOW
	if _, err := p.expectKeyword("TABLES"); err != nil {
		return Statement{}, err
	}
	return Statement{Plan: &engine.Plan{Kind: engine.KindShowTables}}, nil
}

func (p *parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if _, err := p.expectKeyword("INTO"); err != nil {
		return Statement{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return Statement{}, err
	}
	var cols []string
	if p.atSymbol("(") {
		p.advance()
		for {
			c, err := p.expectIdent()
			if err != nil {
				return Statement{}, err
			}
			cols = append(cols, c)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expectSymbol(")"); err != nil {
			return Statement{}, err
		}
	}
	if _, err := p.expectKeyword("VALUES"); err != nil {
		return Statement{}, err
	}
	var rows [][]string
	for {
		if _, err := p.expectSymbol("("); err != nil {
			return Statement{}, err
		}
		var vals []string
		for {
			lit, err := p.parseLiteral()
			if err != nil {
				return Statement{}, err
			}
			vals = append(vals, lit)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expectSymbol(")"); err != nil {
			return Statement{}, err
		}
		rows = append(rows, vals)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return Statement{Plan: &engine.Plan{Kind: engine.KindInsert, Table: table, Columns: cols, Rows: rows}}, nil
}

func (p *parser) parseSelect() (*engine.Plan, error) {
	p.advance() // SELECT
	var cols []string
	if p.atSymbol("*") {
		p.advance()
		cols = []string{"*"}
	} else {
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	scan := &engine.Plan{Kind: engine.KindSeqScan, Table: table}
	var child *engine.Plan = scan
	if p.atKeyword("WHERE") {
		p.advance()
		preds, err := p.parsePredicates()
		if err != nil {
			return nil, err
		}
		child = &engine.Plan{Kind: engine.KindFilter, Table: table, Child: child, Predicates: preds}
	}
	return &engine.Plan{Kind: engine.KindProject, Table: table, Child: child, Columns: cols}, nil
}

func (p *parser) parsePredicates() ([]engine.Predicate, error) {
	var preds []engine.Predicate
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		opTok := p.cur()
		op, err := toCompareOp(opTok)
		if err != nil {
			return nil, p.errf("%s", err.Error())
		}
		p.advance()
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		preds = append(preds, engine.Predicate{Column: col, Op: op, Literal: lit})
		if p.atKeyword("AND") {
			p.advance()
			continue
		}
		break
	}
	return preds, nil
}

func toCompareOp(t token) (engine.CompareOp, error) {
	if t.Typ != tSymbol {
		return "", dberr.New(dberr.ParseError, "expected comparison operator, got %q", t.Val)
	}
	switch t.Val {
	case "=":
		return engine.OpEq, nil
	case "<":
		return engine.OpLt, nil
	case ">":
		return engine.OpGt, nil
	case "<=":
		return engine.OpLe, nil
	case ">=":
		return engine.OpGe, nil
	case "!=":
		return engine.OpNe, nil
	default:
		return "", dberr.New(dberr.ParseError, "unknown comparison operator %q", t.Val)
	}
}

func (p *parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	table, err := p.expectIdent()
	if err != nil {
		return Statement{}, err
	}
	if _, err := p.expectKeyword("SET"); err != nil {
		return Statement{}, err
	}
	assignments := map[string]string{}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return Statement{}, err
		}
		if _, err := p.expectSymbol("="); err != nil {
			return Statement{}, err
		}
		lit, err := p.parseLiteral()
		if err != nil {
			return Statement{}, err
		}
		assignments[col] = lit
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	plan := &engine.Plan{Kind: engine.KindUpdate, Table: table, Assignments: assignments}
	if p.atKeyword("WHERE") {
		p.advance()
		preds, err := p.parsePredicates()
		if err != nil {
			return Statement{}, err
		}
		plan.Predicates = preds
	}
	return Statement{Plan: plan}, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.advance() // DELETE
	if _, err := p.expectKeyword("FROM"); err != nil {
		return Statement{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return Statement{}, err
	}
	plan := &engine.Plan{Kind: engine.KindDelete, Table: table}
	if p.atKeyword("WHERE") {
		p.advance()
		preds, err := p.parsePredicates()
		if err != nil {
			return Statement{}, err
		}
		plan.Predicates = preds
	}
	return Statement{Plan: plan}, nil
}
