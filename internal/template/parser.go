package template

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/weft/pkg/core"
)

var (
	targetPattern = `[A-Za-z_]\w*(?:\s*,\s*[A-Za-z_]\w*)*`
	forRe         = regexp.MustCompile(`(?s)^(` + targetPattern + `)\s+in\s+(.+)$`)
	setRe         = regexp.MustCompile(`(?s)^(` + targetPattern + `)\s*=\s*(.+)$`)
	macroRe       = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\s*\((.*)\)$`)
	identRe       = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// ParseString tokenizes and parses a template string.
func ParseString(input, file string) (*Template, error) {
	tokens, err := NewLexer(input, file).Tokenize()
	if err != nil {
		return nil, err
	}
	return Parse(tokens, file)
}

// Parse builds a template from a token stream.
func Parse(tokens []Token, file string) (*Template, error) {
	p := &parser{tokens: tokens, file: file}

	nodes, end, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if end != nil {
		// parseUntil with no terminators only stops at EOF
		return nil, NewUnmatchedBlockError(end.Pos(), end.Kind)
	}

	return &Template{Nodes: nodes, File: file}, nil
}

type parser struct {
	tokens []Token
	pos    int
	file   string
}

// parseUntil parses nodes until one of the terminator statements or EOF.
// The terminating statement is returned; it is nil at EOF.
func (p *parser) parseUntil(terminators ...StmtKind) ([]Node, *StmtNode, error) {
	var nodes []Node

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch tok.Type {
		case TokenEOF:
			return nodes, nil, nil

		case TokenText:
			nodes = append(nodes, &TextNode{nodeBase: nodeBase{pos: tok.Pos}, Text: tok.Value})

		case TokenExpr:
			if tok.Value == "" {
				return nil, nil, NewParseError(tok.Pos, "empty expression")
			}
			nodes = append(nodes, &ExprNode{nodeBase: nodeBase{pos: tok.Pos}, Expr: tok.Value})

		case TokenStmt:
			stmt, err := parseStatement(tok)
			if err != nil {
				return nil, nil, err
			}

			for _, k := range terminators {
				if stmt.Kind == k {
					return nodes, stmt, nil
				}
			}

			node, err := p.parseStmt(stmt)
			if err != nil {
				return nil, nil, err
			}
			if node != nil {
				nodes = append(nodes, node)
			}

		case TokenComment:
			// removed by the lexer; tolerated for hand-built streams
		}
	}

	return nodes, nil, nil
}

// parseStmt turns an opening or standalone statement into a node.
func (p *parser) parseStmt(stmt *StmtNode) (Node, error) {
	base := nodeBase{pos: stmt.Pos()}

	switch stmt.Kind {
	case StmtFor:
		body, end, err := p.parseUntil(StmtEndFor)
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, NewUnmatchedBlockError(stmt.Pos(), StmtFor)
		}
		return &ForBlock{
			nodeBase: base,
			VarName:  stmt.VarName,
			Vars:     splitNames(stmt.VarName),
			IterExpr: stmt.Expr,
			Body:     body,
		}, nil

	case StmtIf:
		return p.parseIf(stmt)

	case StmtSet:
		return &SetNode{nodeBase: base, Names: splitNames(stmt.VarName), Expr: stmt.Expr}, nil

	case StmtDo:
		return &DoNode{nodeBase: base, Expr: stmt.Expr}, nil

	case StmtMacro:
		body, end, err := p.parseUntil(StmtEndMacro)
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, NewUnmatchedBlockError(stmt.Pos(), StmtMacro)
		}
		return &MacroBlock{nodeBase: base, Name: stmt.VarName, Params: stmt.Expr, Body: body}, nil

	case StmtMaterialization:
		info, err := parseMaterializationArgs(stmt)
		if err != nil {
			return nil, err
		}
		body, end, err := p.parseUntil(StmtEndMaterialization)
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, NewUnmatchedBlockError(stmt.Pos(), StmtMaterialization)
		}
		return &MacroBlock{
			nodeBase:        base,
			Name:            core.MaterializationMacroName(info.Strategy, info.Adapter),
			Body:            body,
			Materialization: info,
		}, nil

	case StmtStatement:
		body, end, err := p.parseUntil(StmtEndStatement)
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, NewUnmatchedBlockError(stmt.Pos(), StmtStatement)
		}
		capture := false
		for _, arg := range stmt.Args {
			if arg == "capture_result" {
				capture = true
			}
		}
		return &StatementBlock{nodeBase: base, CaptureResult: capture, Body: body}, nil

	default:
		// Closing or continuation statement outside of its block
		return nil, NewUnmatchedBlockError(stmt.Pos(), stmt.Kind)
	}
}

// parseIf parses an if block with optional elif and else branches.
func (p *parser) parseIf(stmt *StmtNode) (Node, error) {
	block := &IfBlock{nodeBase: nodeBase{pos: stmt.Pos()}, Condition: stmt.Expr}

	body, end, err := p.parseUntil(StmtElif, StmtElse, StmtEndIf)
	if err != nil {
		return nil, err
	}
	block.Body = body

	for end != nil && end.Kind == StmtElif {
		branch := Branch{Condition: end.Expr, pos: end.Pos()}
		branch.Body, end, err = p.parseUntil(StmtElif, StmtElse, StmtEndIf)
		if err != nil {
			return nil, err
		}
		block.ElseIfs = append(block.ElseIfs, branch)
	}

	if end != nil && end.Kind == StmtElse {
		block.Else, end, err = p.parseUntil(StmtEndIf)
		if err != nil {
			return nil, err
		}
		if block.Else == nil {
			block.Else = []Node{}
		}
	}

	if end == nil {
		return nil, NewUnmatchedBlockError(stmt.Pos(), StmtIf)
	}
	return block, nil
}

// parseStatement classifies the content of a statement token.
func parseStatement(tok Token) (*StmtNode, error) {
	value := strings.TrimSpace(tok.Value)
	keyword := value
	if i := strings.IndexFunc(value, func(r rune) bool { return !isIdentRune(r) }); i >= 0 {
		keyword = value[:i]
	}
	rest := strings.TrimSpace(value[len(keyword):])

	stmt := &StmtNode{nodeBase: nodeBase{pos: tok.Pos}}

	switch keyword {
	case "for":
		m := forRe.FindStringSubmatch(trimColon(rest))
		if m == nil {
			return nil, NewParseErrorf(tok.Pos, "invalid for statement: %q", value)
		}
		stmt.Kind = StmtFor
		stmt.VarName = strings.TrimSpace(m[1])
		stmt.Expr = strings.TrimSpace(m[2])

	case "if", "elif":
		stmt.Kind = StmtIf
		if keyword == "elif" {
			stmt.Kind = StmtElif
		}
		stmt.Expr = trimColon(rest)
		if stmt.Expr == "" {
			return nil, NewParseErrorf(tok.Pos, "%s requires a condition", keyword)
		}

	case "else":
		if trimColon(rest) != "" {
			return nil, NewParseErrorf(tok.Pos, "unexpected tokens after else: %q", rest)
		}
		stmt.Kind = StmtElse

	case "set":
		m := setRe.FindStringSubmatch(rest)
		if m == nil {
			return nil, NewParseErrorf(tok.Pos, "invalid set statement: %q", value)
		}
		stmt.Kind = StmtSet
		stmt.VarName = strings.TrimSpace(m[1])
		stmt.Expr = strings.TrimSpace(m[2])

	case "do":
		if rest == "" {
			return nil, NewParseError(tok.Pos, "do requires an expression")
		}
		stmt.Kind = StmtDo
		stmt.Expr = rest

	case "macro":
		m := macroRe.FindStringSubmatch(trimColon(rest))
		if m == nil {
			return nil, NewParseErrorf(tok.Pos, "invalid macro definition: %q", value)
		}
		stmt.Kind = StmtMacro
		stmt.VarName = m[1]
		stmt.Expr = strings.TrimSpace(m[2])

	case "materialization":
		stmt.Kind = StmtMaterialization
		stmt.Args = splitArgs(rest)

	case "statement":
		stmt.Kind = StmtStatement
		stmt.Args = strings.FieldsFunc(rest, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})

	case "endfor":
		stmt.Kind = StmtEndFor
	case "endif":
		stmt.Kind = StmtEndIf
	case "endmacro":
		stmt.Kind = StmtEndMacro
	case "endmaterialization":
		stmt.Kind = StmtEndMaterialization
	case "endstatement":
		stmt.Kind = StmtEndStatement

	default:
		return nil, NewParseErrorf(tok.Pos, "unknown statement %q", keyword)
	}

	return stmt, nil
}

// parseMaterializationArgs reads "name[, default][, adapter=<name>]".
func parseMaterializationArgs(stmt *StmtNode) (*MaterializationInfo, error) {
	if len(stmt.Args) == 0 || !identRe.MatchString(stmt.Args[0]) {
		return nil, NewParseError(stmt.Pos(), "materialization requires a name")
	}

	info := &MaterializationInfo{Strategy: stmt.Args[0], Adapter: core.DefaultAdapterName}

	for _, arg := range stmt.Args[1:] {
		if arg == "default" {
			continue
		}
		key, val, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key != "adapter" {
			return nil, NewMaterializationArgError(stmt.Pos(), info.Strategy, key)
		}
		adapterName := unquote(strings.TrimSpace(val))
		if !identRe.MatchString(adapterName) {
			return nil, NewParseErrorf(stmt.Pos(), "materialization '%s' has an invalid adapter name %q", info.Strategy, val)
		}
		info.Adapter = adapterName
	}

	return info, nil
}

// splitArgs splits s on top-level commas, ignoring commas inside quotes and brackets.
func splitArgs(s string) []string {
	var args []string
	var quote rune
	depth := 0
	start := 0

	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(args) > 0 {
		args = append(args, last)
	}
	return args
}

// splitNames splits "a, b" into its identifiers.
func splitNames(s string) []string {
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

func trimColon(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ":"))
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
