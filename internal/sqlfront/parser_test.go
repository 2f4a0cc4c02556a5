package sqlfront

import (
	"testing"

	"github.com/coredb/coredb/internal/engine"
)

func TestParseCreateTable(t *testing.T) {
	stmts, err := Parse("CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR(32) NOT NULL, score DOUBLE DEFAULT 0.0);")
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(stmts))
	}
	plan := stmts[0].Plan
	if plan.Kind != engine.KindCreateTable || plan.Table != "users" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if len(plan.TableColumns) != 3 {
		t.Fatalf("got %d columns, want 3", len(plan.TableColumns))
	}
	id := plan.TableColumns[0]
	if !id.PrimaryKey || !id.NotNull {
		t.Fatalf("id column should be PK+NOT NULL: %+v", id)
	}
	score := plan.TableColumns[2]
	if !score.HasDefault || score.DefaultValue != "0.0" {
		t.Fatalf("score column default not parsed: %+v", score)
	}
}

func TestParseInsertMultiRow(t *testing.T) {
	stmts, err := Parse("INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob');")
	if err != nil {
		t.Fatal(err)
	}
	plan := stmts[0].Plan
	if plan.Kind != engine.KindInsert || len(plan.Rows) != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Rows[0][1] != "alice" || plan.Rows[1][1] != "bob" {
		t.Fatalf("row values not parsed correctly: %+v", plan.Rows)
	}
}

func TestParseSelectWithWhereAnd(t *testing.T) {
	stmts, err := Parse("SELECT id, name FROM users WHERE id > 1 AND name = 'bob';")
	if err != nil {
		t.Fatal(err)
	}
	project := stmts[0].Plan
	if project.Kind != engine.KindProject || len(project.Columns) != 2 {
		t.Fatalf("unexpected project plan: %+v", project)
	}
	filter := project.Child
	if filter.Kind != engine.KindFilter || len(filter.Predicates) != 2 {
		t.Fatalf("unexpected filter plan: %+v", filter)
	}
	if filter.Predicates[0].Op != engine.OpGt || filter.Predicates[1].Op != engine.OpEq {
		t.Fatalf("unexpected predicate ops: %+v", filter.Predicates)
	}
	if filter.Child.Kind != engine.KindSeqScan {
		t.Fatalf("expected a SeqScan child, got %+v", filter.Child)
	}
}

func TestParseSelectStar(t *testing.T) {
	stmts, err := Parse("SELECT * FROM users;")
	if err != nil {
		t.Fatal(err)
	}
	project := stmts[0].Plan
	if len(project.Columns) != 1 || project.Columns[0] != "*" {
		t.Fatalf("expected '*' column list, got %+v", project.Columns)
	}
}

func TestParseUpdateAndDelete(t *testing.T) {
	stmts, err := Parse("UPDATE users SET name = 'carol' WHERE id = 2; DELETE FROM users WHERE id = 1;")
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	upd := stmts[0].Plan
	if upd.Kind != engine.KindUpdate || upd.Assignments["name"] != "carol" {
		t.Fatalf("unexpected update plan: %+v", upd)
	}
	del := stmts[1].Plan
	if del.Kind != engine.KindDelete || len(del.Predicates) != 1 {
		t.Fatalf("unexpected delete plan: %+v", del)
	}
}

func TestParseCreateIndexAndShowTables(t *testing.T) {
	stmts, err := Parse("CREATE INDEX idx_id ON users (id); SHOW TABLES;")
	if err != nil {
		t.Fatal(err)
	}
	idx := stmts[0].Plan
	if idx.Kind != engine.KindCreateIndex || idx.IndexName != "idx_id" || idx.Table != "users" {
		t.Fatalf("unexpected create-index plan: %+v", idx)
	}
	show := stmts[1].Plan
	if show.Kind != engine.KindShowTables {
		t.Fatalf("unexpected show-tables plan: %+v", show)
	}
}

func TestParseProcedureDefinitionAndCall(t *testing.T) {
	stmts, err := Parse("CREATE PROCEDURE seed_users BEGIN INSERT INTO users (id) VALUES (1); END; CALL seed_users;")
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if stmts[0].ProcName != "seed_users" || stmts[0].ProcBody == "" {
		t.Fatalf("unexpected procedure definition: %+v", stmts[0])
	}
	if stmts[1].ProcName != "seed_users" || stmts[1].Plan != nil {
		t.Fatalf("unexpected call statement: %+v", stmts[1])
	}
}

func TestProcedureExpandRoundTrip(t *testing.T) {
	procs := NewProcedures()
	procs.Register("p1", "INSERT INTO users (id) VALUES (1);")
	expanded, err := procs.Expand("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(expanded) != 1 || expanded[0].Plan.Kind != engine.KindInsert {
		t.Fatalf("unexpected expansion: %+v", expanded)
	}
	if _, err := procs.Expand("missing"); err == nil {
		t.Fatal("expected an error expanding an undefined procedure")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("FROB TABLE users;"); err == nil {
		t.Fatal("expected a parse error for an unsupported statement")
	}
}
