package template

import "slices"

// ReservedMacroNames are context variables macros may not call.
var ReservedMacroNames = []string{"ref", "var"}

// ValidateReferences is the token filter run between lexing and parsing for
// macro files. It fails on the first reserved name that is called, i.e.
// followed by "(", in any expression or statement. The tokens are returned
// unchanged.
func ValidateReferences(tokens []Token) ([]Token, error) {
	for _, tok := range tokens {
		if tok.Type != TokenExpr && tok.Type != TokenStmt {
			continue
		}
		if name, ok := findReservedCall(tok.Value); ok {
			return nil, NewReservedNameError(tok.Pos, name)
		}
	}
	return tokens, nil
}

// findReservedCall scans src for a reserved identifier followed by "(".
// String literals are skipped.
func findReservedCall(src string) (string, bool) {
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			i = skipString(src, i)

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			name := src[start:i]

			j := i
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j < len(src) && src[j] == '(' && slices.Contains(ReservedMacroNames, name) {
				return name, true
			}

		case c >= '0' && c <= '9':
			// numbers, including suffixes such as 1e5 or 0x1f
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}

		default:
			i++
		}
	}
	return "", false
}

// skipString returns the index just past the string literal starting at i.
func skipString(src string, i int) int {
	quote := src[i]
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
