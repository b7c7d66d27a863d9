package text2sql

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/models"
)

// denylist is matched against the raw text, strings and comments included.
var denylist = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|grant)\b`)

type Reason string

const (
	ReasonEmpty              Reason = "empty"
	ReasonDenylist           Reason = "denylist"
	ReasonSyntax             Reason = "syntax"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonNotSelect          Reason = "not_select"
	ReasonUnknownTable       Reason = "unknown_table"
	ReasonUnknownColumn      Reason = "unknown_column"
	ReasonDisallowed         Reason = "disallowed_construct"
)

// RejectionError explains why a generated query was refused. It matches
// models.ErrUnsafeQueryRejected under errors.Is.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", models.ErrUnsafeQueryRejected, e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return models.ErrUnsafeQueryRejected
}

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Analysis lists what a query reads.
type Analysis struct {
	Tables  []string
	CTEs    []string
	Columns []string
}

type Guard struct {
	registry *catalog.Registry
}

func NewGuard(registry *catalog.Registry) *Guard {
	return &Guard{registry: registry}
}

// Validate accepts only a single read-only SELECT whose tables and columns
// all exist in the registry. declared are the tables the synthesizer claims
// to use; they must be known too.
func (g *Guard) Validate(sql string, declared []string) (*Analysis, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, reject(ReasonEmpty, "no query text")
	}
	if m := denylist.FindString(sql); m != "" {
		return nil, reject(ReasonDenylist, "write keyword %q", strings.ToLower(m))
	}

	a, err := g.Analyze(sql)
	if err != nil {
		return nil, err
	}

	for _, t := range declared {
		name := strings.ToLower(strings.TrimSpace(t))
		if name == "" || g.registry.HasTable(name) || contains(a.CTEs, name) {
			continue
		}
		return nil, reject(ReasonUnknownTable, "declared table %q", t)
	}

	return a, nil
}

// Analyze resolves the tables and columns a SELECT reads without applying
// the keyword denylist.
func (g *Guard) Analyze(sql string) (*Analysis, error) {
	tokens, err := lex(sql)
	if errors.Is(err, errEscapedLiteral) {
		return nil, reject(ReasonDisallowed, "%v", err)
	}
	if err != nil {
		return nil, reject(ReasonSyntax, "%v", err)
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].punct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return nil, reject(ReasonEmpty, "no query text")
	}
	for _, t := range tokens {
		if t.punct(";") {
			return nil, reject(ReasonMultipleStatements, "statement separator at %d", t.pos)
		}
	}
	if !tokens[0].is("SELECT") && !tokens[0].is("WITH") {
		return nil, reject(ReasonNotSelect, "statement starts with %q", tokens[0].text)
	}

	s := &scope{
		registry:      g.registry,
		toks:          tokens,
		ctes:          map[string]bool{},
		aliases:       map[string]string{},
		tables:        map[string]bool{},
		outputAliases: map[string]bool{},
		skip:          map[int]bool{},
	}
	return s.analyze()
}

type scope struct {
	registry *catalog.Registry
	toks     []token
	owners   []string

	ctes map[string]bool
	// aliases maps every usable qualifier to its registry table; "" marks
	// derived tables and CTEs whose columns are not checked.
	aliases       map[string]string
	tables        map[string]bool
	derived       bool
	outputAliases map[string]bool
	skip          map[int]bool
	columns       []string
}

func (s *scope) analyze() (*Analysis, error) {
	if err := s.collectCTEs(); err != nil {
		return nil, err
	}
	if err := s.collectSources(); err != nil {
		return nil, err
	}
	s.collectOutputAliases()
	if err := s.checkIdentifiers(); err != nil {
		return nil, err
	}

	a := &Analysis{Columns: s.columns}
	for t := range s.tables {
		a.Tables = append(a.Tables, t)
	}
	for c := range s.ctes {
		a.CTEs = append(a.CTEs, c)
	}
	sort.Strings(a.Tables)
	sort.Strings(a.CTEs)
	return a, nil
}

func (s *scope) at(i int) token {
	if i < 0 || i >= len(s.toks) {
		return token{kind: tokPunct}
	}
	return s.toks[i]
}

func (s *scope) matching(open int) (int, error) {
	depth := 0
	for i := open; i < len(s.toks); i++ {
		switch {
		case s.toks[i].punct("("):
			depth++
		case s.toks[i].punct(")"):
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, reject(ReasonSyntax, "unbalanced parentheses at %d", s.toks[open].pos)
}

// collectCTEs records every WITH-bound name, including CTEs nested in subqueries.
func (s *scope) collectCTEs() error {
	for i := 0; i < len(s.toks); i++ {
		if !s.toks[i].is("WITH") || (i > 0 && !s.at(i-1).punct("(")) {
			continue
		}
		j := i + 1
		if s.at(j).is("RECURSIVE") {
			j++
		}
		for {
			name := s.at(j)
			if !name.identLike() {
				return reject(ReasonSyntax, "expected CTE name at %d", name.pos)
			}
			s.ctes[name.name()] = true
			s.aliases[name.name()] = ""
			s.skip[j] = true
			j++

			if s.at(j).punct("(") {
				end, err := s.matching(j)
				if err != nil {
					return err
				}
				for k := j + 1; k < end; k++ {
					if s.toks[k].identLike() {
						s.outputAliases[s.toks[k].name()] = true
						s.skip[k] = true
					}
				}
				j = end + 1
			}

			if !s.at(j).is("AS") {
				return reject(ReasonSyntax, "expected AS after CTE %q", name.text)
			}
			j++
			if s.at(j).is("NOT") {
				j++
			}
			if s.at(j).is("MATERIALIZED") {
				j++
			}
			if !s.at(j).punct("(") {
				return reject(ReasonSyntax, "expected CTE body at %d", s.at(j).pos)
			}
			end, err := s.matching(j)
			if err != nil {
				return err
			}
			j = end + 1
			if !s.at(j).punct(",") {
				break
			}
			j++
		}
	}
	return nil
}

func (s *scope) owner() string {
	if len(s.owners) == 0 {
		return ""
	}
	return s.owners[len(s.owners)-1]
}

func (s *scope) collectSources() error {
	s.owners = s.owners[:0]
	for i := 0; i < len(s.toks); i++ {
		t := s.toks[i]
		switch {
		case t.punct("("):
			owner := ""
			if prev := s.at(i - 1); prev.kind == tokIdent {
				owner = strings.ToLower(prev.text)
			}
			s.owners = append(s.owners, owner)
		case t.punct(")"):
			if len(s.owners) == 0 {
				return reject(ReasonSyntax, "unbalanced parentheses at %d", t.pos)
			}
			s.owners = s.owners[:len(s.owners)-1]
		case t.is("INTO"):
			return reject(ReasonDisallowed, "SELECT INTO")
		case t.is("FOR") && s.owner() != "substring":
			return reject(ReasonDisallowed, "locking clause")
		case t.is("FROM"):
			if fromIsOperand(s.owner()) || (s.at(i-1).is("DISTINCT") && (s.at(i-2).is("IS") || s.at(i-2).is("NOT"))) {
				continue
			}
			if err := s.sourceList(i + 1); err != nil {
				return err
			}
		case t.is("JOIN"):
			if _, err := s.source(i + 1); err != nil {
				return err
			}
		}
	}
	if len(s.owners) != 0 {
		return reject(ReasonSyntax, "unbalanced parentheses")
	}
	return nil
}

// fromIsOperand reports whether FROM inside a call of fn is an argument
// separator rather than a FROM clause.
func fromIsOperand(fn string) bool {
	switch fn {
	case "extract", "substring", "substr", "trim", "overlay", "position":
		return true
	}
	return false
}

func (s *scope) sourceList(i int) error {
	for {
		next, err := s.source(i)
		if err != nil {
			return err
		}
		if !s.at(next).punct(",") {
			return nil
		}
		i = next + 1
	}
}

// source registers one FROM/JOIN item starting at i and returns the index
// after it. Subquery bodies are left for the main walk.
func (s *scope) source(i int) (int, error) {
	if s.at(i).is("LATERAL") {
		i++
	}
	t := s.at(i)

	if t.punct("(") {
		end, err := s.matching(i)
		if err != nil {
			return 0, err
		}
		s.derived = true
		return s.alias(end+1, ""), nil
	}

	if !t.identLike() || (t.kind == tokIdent && isKeyword(t.text)) {
		return 0, reject(ReasonSyntax, "expected table at %d", t.pos)
	}

	name := t.name()
	s.skip[i] = true
	next := i + 1

	if s.at(next).punct(".") && s.at(next+1).identLike() {
		switch name {
		case "public", "main":
		default:
			return 0, reject(ReasonDisallowed, "schema-qualified table %s.%s", name, s.at(next+1).name())
		}
		name = s.at(next + 1).name()
		s.skip[next+1] = true
		next += 2
	}

	if s.at(next).punct("(") {
		return 0, reject(ReasonDisallowed, "table function %q", name)
	}

	table := ""
	switch {
	case s.ctes[name]:
		s.derived = true
	case s.registry.HasTable(name):
		tbl, _ := s.registry.Table(name)
		table = tbl.Name
		s.tables[table] = true
	default:
		return 0, reject(ReasonUnknownTable, "%q", name)
	}

	s.aliases[name] = table
	return s.alias(next, table), nil
}

func (s *scope) alias(i int, table string) int {
	if s.at(i).is("AS") {
		i++
	}
	t := s.at(i)
	if !t.identLike() || (t.kind == tokIdent && isKeyword(t.text)) {
		return i
	}
	s.aliases[t.name()] = table
	s.skip[i] = true
	i++

	if s.at(i).punct("(") {
		if end, err := s.matching(i); err == nil {
			for k := i + 1; k < end; k++ {
				if s.toks[k].identLike() {
					s.outputAliases[s.toks[k].name()] = true
					s.skip[k] = true
				}
			}
			i = end + 1
		}
	}
	return i
}

func (s *scope) collectOutputAliases() {
	s.owners = s.owners[:0]
	for i, t := range s.toks {
		switch {
		case t.punct("("):
			owner := ""
			if prev := s.at(i - 1); prev.kind == tokIdent {
				owner = strings.ToLower(prev.text)
			}
			s.owners = append(s.owners, owner)
		case t.punct(")"):
			if len(s.owners) > 0 {
				s.owners = s.owners[:len(s.owners)-1]
			}
		case t.punct("::"):
			s.skip[i+1] = true
		case t.is("AS"):
			next := s.at(i + 1)
			if !next.identLike() || s.skip[i+1] {
				continue
			}
			if s.owner() == "cast" {
				s.skip[i+1] = true
				continue
			}
			s.outputAliases[next.name()] = true
			s.skip[i+1] = true
		case t.is("WINDOW"):
			if next := s.at(i + 1); next.identLike() {
				s.outputAliases[next.name()] = true
				s.skip[i+1] = true
			}
		case t.identLike() && !s.skip[i] && implicitAlias(s.at(i-1), t, s.at(i+1)):
			s.outputAliases[t.name()] = true
			s.skip[i] = true
		}
	}
}

// implicitAlias matches "expr alias," and "expr alias FROM" in a select list.
func implicitAlias(prev, t, next token) bool {
	if t.kind == tokIdent && isKeyword(t.text) {
		return false
	}
	if !next.punct(",") && !next.is("FROM") {
		return false
	}
	switch {
	case prev.punct(")"), prev.kind == tokNumber, prev.kind == tokString, prev.kind == tokQuoted:
		return true
	case prev.kind == tokIdent:
		return !isKeyword(prev.text) || prev.is("END")
	}
	return false
}

func (s *scope) checkIdentifiers() error {
	seen := map[string]bool{}
	record := func(c string) {
		if !seen[c] {
			seen[c] = true
			s.columns = append(s.columns, c)
		}
	}

	for i := 0; i < len(s.toks); i++ {
		t := s.toks[i]
		if s.skip[i] || !t.identLike() {
			continue
		}
		if t.kind == tokIdent && isKeyword(t.text) {
			continue
		}

		if s.at(i + 1).punct("(") {
			if t.kind == tokQuoted || !allowedFunctions[t.name()] {
				return reject(ReasonDisallowed, "function %q", t.name())
			}
			continue
		}

		if s.at(i+1).punct(".") && s.at(i+2).identLike() && s.at(i+3).punct("(") {
			return reject(ReasonDisallowed, "function %s.%s", t.name(), s.at(i+2).name())
		}

		if s.at(i+1).punct(".") && (s.at(i+2).identLike() || s.at(i+2).punct("*")) {
			qualifier := t.name()
			col := s.at(i + 2)
			i += 2

			table, ok := s.aliases[qualifier]
			if !ok {
				return reject(ReasonUnknownTable, "qualifier %q", qualifier)
			}
			if table == "" || col.punct("*") {
				continue
			}
			if !s.registry.HasColumn(table, col.name()) {
				return reject(ReasonUnknownColumn, "%s.%s", table, col.name())
			}
			record(table + "." + col.name())
			continue
		}

		name := t.name()
		if s.outputAliases[name] {
			continue
		}
		if _, ok := s.aliases[name]; ok {
			continue
		}

		resolved := false
		for _, table := range s.registry.TablesWithColumn(name) {
			if s.tables[table] {
				record(table + "." + name)
				resolved = true
				break
			}
		}
		if resolved {
			continue
		}
		if s.derived {
			record(name)
			continue
		}
		return reject(ReasonUnknownColumn, "%q", name)
	}
	return nil
}

// allowedFunctions lists the scalar and aggregate functions generated
// queries may call. Anything else, quoted or schema-qualified calls
// included, is rejected.
var allowedFunctions = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"round": true, "abs": true, "ceil": true, "ceiling": true, "floor": true,
	"lower": true, "upper": true, "length": true, "char_length": true,
	"trim": true, "ltrim": true, "rtrim": true, "replace": true, "concat": true,
	"substring": true, "substr": true, "position": true, "instr": true,
	"coalesce": true, "nullif": true, "ifnull": true, "greatest": true, "least": true,
	"extract": true, "date_part": true, "date_trunc": true, "to_char": true,
	"strftime": true, "julianday": true,
	"row_number": true, "rank": true, "dense_rank": true,
	"string_agg": true, "group_concat": true,
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
