package services

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// sqlToken is a lexical token of the statement with comments removed.
type sqlToken struct {
	text  string // uppercased source text, or "(", ")", ";"
	depth int    // parenthesis depth at the token
	start int
	end   int
}

// scanSQL lexes sql with the PostgreSQL scanner, so string constants in
// every form (E'' escapes, dollar quotes, quoted identifiers) come back as
// single tokens. Comments are dropped. An unterminated literal or comment
// is an error.
func scanSQL(sql string) ([]sqlToken, error) {
	result, err := pg_query.Scan(sql)
	if err != nil {
		return nil, err
	}

	tokens := make([]sqlToken, 0, len(result.Tokens))
	depth := 0
	for _, st := range result.Tokens {
		switch st.Token {
		case pg_query.Token_SQL_COMMENT, pg_query.Token_C_COMMENT:
			continue
		case pg_query.Token_ASCII_40:
			tokens = append(tokens, sqlToken{text: "(", depth: depth, start: int(st.Start), end: int(st.End)})
			depth++
			continue
		case pg_query.Token_ASCII_41:
			if depth > 0 {
				depth--
			}
			tokens = append(tokens, sqlToken{text: ")", depth: depth, start: int(st.Start), end: int(st.End)})
			continue
		case pg_query.Token_ASCII_59:
			tokens = append(tokens, sqlToken{text: ";", depth: depth, start: int(st.Start), end: int(st.End)})
			continue
		}

		start, end := int(st.Start), int(st.End)
		if start < 0 || end > len(sql) || start >= end {
			continue
		}
		tokens = append(tokens, sqlToken{
			text:  strings.ToUpper(sql[start:end]),
			depth: depth,
			start: start,
			end:   end,
		})
	}
	return tokens, nil
}

// leadingKeyword returns the first uppercased word of sql, skipping
// whitespace, comments and opening parentheses. It runs before the
// statement is lexed so denylisted statements are named even when the rest
// of the text would not scan.
func leadingKeyword(sql string) string {
	n := len(sql)
	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' || c == '(':
			i++
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i += 2
			for depth := 1; i < n && depth > 0; {
				switch {
				case sql[i] == '/' && i+1 < n && sql[i+1] == '*':
					depth++
					i += 2
				case sql[i] == '*' && i+1 < n && sql[i+1] == '/':
					depth--
					i += 2
				default:
					i++
				}
			}
		case isLetter(c) || c == '_':
			j := i
			for j < n && (isLetter(sql[j]) || isDigit(sql[j]) || sql[j] == '_') {
				j++
			}
			return strings.ToUpper(sql[i:j])
		default:
			return ""
		}
	}
	return ""
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// hasMultipleStatements reports whether any token follows a top-level
// statement terminator. Trailing terminators alone do not count.
func hasMultipleStatements(tokens []sqlToken) bool {
	terminated := false
	for _, t := range tokens {
		if t.text == ";" && t.depth == 0 {
			terminated = true
			continue
		}
		if terminated {
			return true
		}
	}
	return false
}

// contentEnd returns the offset just past the last token that is not a
// statement terminator, so trailing comments and semicolons are excluded.
func contentEnd(tokens []sqlToken) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i].text != ";" {
			return tokens[i].end
		}
	}
	return 0
}

// topLevelWordSeq reports whether the word sequence seq appears at
// parenthesis depth 0.
func topLevelWordSeq(tokens []sqlToken, seq ...string) bool {
	for i := range tokens {
		if tokens[i].depth != 0 || tokens[i].text != seq[0] {
			continue
		}
		matched := true
		for k := 1; k < len(seq); k++ {
			if i+k >= len(tokens) || tokens[i+k].text != seq[k] || tokens[i+k].depth != 0 {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// topLevelCall reports whether any of names is called as a function at
// parenthesis depth 0.
func topLevelCall(tokens []sqlToken, names map[string]bool) bool {
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i].depth == 0 && names[tokens[i].text] && tokens[i+1].text == "(" {
			return true
		}
	}
	return false
}
