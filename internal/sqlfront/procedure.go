package sqlfront

import "github.com/coredb/coredb/internal/dberr"

// Procedures stores named, reusable statement bodies registered via
// CREATE PROCEDURE and expanded back through Parse on CALL. The raw body
// text is cached and re-parsed on every CALL; no compiled Plan tree is
// kept between calls.
type Procedures struct {
	bodies map[string]string
}

// NewProcedures constructs an empty procedure registry.
func NewProcedures() *Procedures {
	return &Procedures{bodies: make(map[string]string)}
}

// Register stores a procedure body under name, overwriting any prior
// definition.
func (p *Procedures) Register(name, body string) {
	p.bodies[name] = body
}

// Expand resolves a CALL by name into the statements its body parses to.
func (p *Procedures) Expand(name string) ([]Statement, error) {
	body, ok := p.bodies[name]
	if !ok {
		return nil, dberr.New(dberr.NotFound, "procedure %q not defined", name)
	}
	return Parse(body)
}
