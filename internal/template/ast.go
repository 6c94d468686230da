// Package template provides a template processor for SQL files with Starlark expressions.
// It supports {{ expr }} for expression evaluation, {* stmt *} (or {% stmt %}) for
// control flow, macros and the materialization and statement directives, and
// {# comment #} for comments.
package template

// Position tracks source location for error reporting.
type Position struct {
	File   string
	Line   int
	Column int
}

// Node is the interface for all template AST nodes.
type Node interface {
	Pos() Position
	node() // marker method to restrict implementation
}

// nodeBase provides common Position handling for all nodes.
type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

// TextNode represents literal SQL text (passed through unchanged).
type TextNode struct {
	nodeBase
	Text string
}

// ExprNode represents a {{ expr }} expression.
// The Expr field contains the Starlark expression source (without delimiters).
type ExprNode struct {
	nodeBase
	Expr string
}

// StmtKind identifies the type of statement.
type StmtKind int

// StmtKind constants for statement types.
const (
	StmtUnknown            StmtKind = iota // Unknown/invalid statement
	StmtFor                                // {* for x in items: *}
	StmtEndFor                             // {* endfor *}
	StmtIf                                 // {* if cond: *}
	StmtElif                               // {* elif cond: *}
	StmtElse                               // {* else: *}
	StmtEndIf                              // {* endif *}
	StmtSet                                // {* set x = expr *}
	StmtDo                                 // {* do expr *}
	StmtMacro                              // {* macro name(params) *}
	StmtEndMacro                           // {* endmacro *}
	StmtMaterialization                    // {* materialization view, adapter=duckdb *}
	StmtEndMaterialization                 // {* endmaterialization *}
	StmtStatement                          // {* statement capture_result *}
	StmtEndStatement                       // {* endstatement *}
)

var stmtKindNames = map[StmtKind]string{
	StmtFor:                "for",
	StmtEndFor:             "endfor",
	StmtIf:                 "if",
	StmtElif:               "elif",
	StmtElse:               "else",
	StmtEndIf:              "endif",
	StmtSet:                "set",
	StmtDo:                 "do",
	StmtMacro:              "macro",
	StmtEndMacro:           "endmacro",
	StmtMaterialization:    "materialization",
	StmtEndMaterialization: "endmaterialization",
	StmtStatement:          "statement",
	StmtEndStatement:       "endstatement",
}

func (k StmtKind) String() string {
	if name, ok := stmtKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// StmtNode represents a {* stmt *} statement (raw from lexer, before parsing into blocks).
type StmtNode struct {
	nodeBase
	Kind    StmtKind
	Expr    string   // Condition (if/elif), iterator (for), value (set/do) or macro params
	VarName string   // Loop target (for), assigned names (set) or macro name
	Args    []string // Directive arguments (materialization, statement)
}

// ForBlock represents a complete for loop with its body.
// Created by the parser from StmtNode pairs.
type ForBlock struct {
	nodeBase
	VarName  string   // Loop target as written, e.g. "x" or "k, v"
	Vars     []string // Loop variable names
	IterExpr string   // Iterator expression (evaluated by Starlark)
	Body     []Node   // Nodes inside the loop
}

// IfBlock represents a complete if/elif/else conditional.
// Created by the parser from StmtNode sequences.
type IfBlock struct {
	nodeBase
	Condition string   // if condition expression
	Body      []Node   // Nodes for the if branch
	ElseIfs   []Branch // elif branches (may be empty)
	Else      []Node   // else branch (may be nil)
}

// Branch represents an elif branch.
type Branch struct {
	Condition string
	Body      []Node
	pos       Position
}

// SetNode binds names in the current scope: {* set x = expr *}.
type SetNode struct {
	nodeBase
	Names []string
	Expr  string
}

// DoNode evaluates an expression for its side effects: {* do expr *}.
type DoNode struct {
	nodeBase
	Expr string
}

// MaterializationInfo records the directive a macro was desugared from.
type MaterializationInfo struct {
	Strategy string
	Adapter  string
}

// MacroBlock is a macro definition. Materialization blocks are desugared
// into zero-parameter macros named materialization_<strategy>_<adapter>.
type MacroBlock struct {
	nodeBase
	Name            string
	Params          string // parameter list source, without parentheses
	Body            []Node
	Materialization *MaterializationInfo
}

// StatementBlock is a {* statement *} ... {* endstatement *} directive.
type StatementBlock struct {
	nodeBase
	CaptureResult bool
	Body          []Node
}

// Template represents a complete parsed template.
type Template struct {
	Nodes []Node
	File  string // Source file path
}

// Macros returns the macros defined at the top level of the template, in
// source order.
func (t *Template) Macros() []*MacroBlock {
	var out []*MacroBlock
	for _, n := range t.Nodes {
		if m, ok := n.(*MacroBlock); ok {
			out = append(out, m)
		}
	}
	return out
}
