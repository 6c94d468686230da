package template

import (
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of token.
type TokenType int

// TokenType constants for template token types.
const (
	TokenText    TokenType = iota // Literal text (SQL)
	TokenExpr                     // Expression content (between {{ and }})
	TokenStmt                     // Statement content (between {* and *} or {% and %})
	TokenComment                  // Comment content (between {# and #})
	TokenEOF                      // End of input
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenStmt:
		return "STMT"
	case TokenComment:
		return "COMMENT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   Position

	// TrimLeft is set by an opening "-" ({{- x }}): whitespace before the tag is dropped.
	TrimLeft bool
	// TrimRight is set by a closing "-" ({{ x -}}): whitespace after the tag is dropped.
	TrimRight bool
}

// delimiter pairs recognised by the lexer
var delimiters = []struct {
	open, close string
	typ         TokenType
}{
	{"{{", "}}", TokenExpr},
	{"{*", "*}", TokenStmt},
	{"{%", "%}", TokenStmt},
	{"{#", "#}", TokenComment},
}

// Lexer tokenizes a template string.
type Lexer struct {
	input    string
	file     string
	pos      int // current position in input
	line     int // current line number (1-based)
	col      int // current column number (1-based)
	lastLine int // line at start of current token
	lastCol  int // column at start of current token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return &Lexer{
		input: input,
		file:  file,
		pos:   0,
		line:  1,
		col:   1,
	}
}

// Tokenize converts the input into a slice of tokens.
// Whitespace control markers are applied to the neighbouring text tokens and
// comments are removed, so the result only holds TEXT, EXPR, STMT and EOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token

	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}

	return applyWhitespaceControl(tokens), nil
}

// applyWhitespaceControl trims text next to "-" markers and drops comments
// and text tokens left empty by trimming.
func applyWhitespaceControl(tokens []Token) []Token {
	for i := range tokens {
		if tokens[i].Type == TokenText {
			continue
		}
		if tokens[i].TrimLeft && i > 0 && tokens[i-1].Type == TokenText {
			tokens[i-1].Value = strings.TrimRight(tokens[i-1].Value, " \t\r\n")
		}
		if tokens[i].TrimRight && i+1 < len(tokens) && tokens[i+1].Type == TokenText {
			tokens[i+1].Value = strings.TrimLeft(tokens[i+1].Value, " \t\r\n")
		}
	}

	out := tokens[:0]
	for _, tok := range tokens {
		if tok.Type == TokenComment || (tok.Type == TokenText && tok.Value == "") {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// nextToken returns the next token from the input.
func (l *Lexer) nextToken() (Token, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.position()}, nil
	}

	for _, d := range delimiters {
		if l.matchString(d.open) {
			return l.scanTag(d.open, d.close, d.typ)
		}
	}

	// Otherwise, scan text until we hit a delimiter or EOF
	return l.scanText()
}

// atDelimiter reports whether an opening delimiter starts at the current position.
func (l *Lexer) atDelimiter() bool {
	for _, d := range delimiters {
		if l.matchString(d.open) {
			return true
		}
	}
	return false
}

// scanText scans literal text until a delimiter or EOF.
func (l *Lexer) scanText() (Token, error) {
	l.markStart()
	start := l.pos

	for l.pos < len(l.input) {
		if l.atDelimiter() {
			break
		}
		l.advance()
	}

	if l.pos == start {
		// No text consumed, something is wrong
		return Token{}, NewLexError(l.position(), "unexpected state in lexer")
	}

	return Token{
		Type:  TokenText,
		Value: l.input[start:l.pos],
		Pos:   l.startPosition(),
	}, nil
}

// scanTag scans a delimited tag. Expression and statement bodies may hold
// string literals and nested braces containing the closing delimiter.
func (l *Lexer) scanTag(open, closing string, typ TokenType) (Token, error) {
	l.markStart()
	l.skip(len(open))

	tok := Token{Type: typ}
	if l.matchString("-") {
		tok.TrimLeft = true
		l.skip(1)
	}

	// Skip leading whitespace
	l.skipWhitespace()

	bodyStart := l.pos
	depth := 0 // Track nested braces
	var quote rune

	for l.pos < len(l.input) {
		r := l.peek()

		if typ != TokenComment {
			if quote != 0 {
				switch r {
				case '\\':
					l.advance()
				case quote:
					quote = 0
				}
				l.advance()
				continue
			}
			if r == '"' || r == '\'' {
				quote = r
				l.advance()
				continue
			}
		}

		if depth == 0 && l.matchString(closing) {
			bodyEnd := l.pos
			if bodyEnd > bodyStart && l.input[bodyEnd-1] == '-' {
				tok.TrimRight = true
				bodyEnd--
			}

			tok.Value = strings.TrimSpace(l.input[bodyStart:bodyEnd])
			tok.Pos = l.startPosition()
			l.skip(len(closing))
			return tok, nil
		}

		// Track nested braces to handle dict literals
		if typ == TokenExpr {
			if r == '{' {
				depth++
			} else if r == '}' && depth > 0 {
				depth--
			}
		}

		l.advance()
	}

	switch typ {
	case TokenExpr:
		return Token{}, NewLexError(l.startPosition(), "unclosed expression: missing '}}'")
	case TokenComment:
		return Token{}, NewLexError(l.startPosition(), "unclosed comment: missing '#}'")
	default:
		return Token{}, NewLexError(l.startPosition(), "unclosed statement: missing '"+closing+"'")
	}
}

// Helper methods

// peek returns the current rune without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// advance moves to the next rune, updating position tracking.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}

	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size

	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

// skip advances over n bytes of delimiter text.
func (l *Lexer) skip(n int) {
	l.pos += n
	l.col += n
}

// matchString checks if the input at current position matches s.
func (l *Lexer) matchString(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

// skipWhitespace skips whitespace characters.
func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r := l.peek()
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			break
		}
		l.advance()
	}
}

// markStart records the start position for the current token.
func (l *Lexer) markStart() {
	l.lastLine = l.line
	l.lastCol = l.col
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}

// startPosition returns the position where the current token started.
func (l *Lexer) startPosition() Position {
	return Position{File: l.file, Line: l.lastLine, Column: l.lastCol}
}
