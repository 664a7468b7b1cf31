package operators

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	templatePlaceholder = regexp.MustCompile(`\{\{.*?\}\}`)
	leadingWord         = regexp.MustCompile(`^[A-Za-z]+`)

	sqlVerbs = map[string]bool{
		"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
		"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "WITH": true,
		"GRANT": true, "REVOKE": true, "COMMENT": true, "COPY": true, "CALL": true,
		"REPLACE": true, "VACUUM": true, "ANALYZE": true, "SET": true, "DO": true,
	}
)

var ErrEmptySQL = errors.New("sql is empty")

// SplitStatements splits text on semicolons that are outside quotes and
// comments. Comment-only and empty statements are dropped.
func SplitStatements(text string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		depth   int
		runes   = []rune(text)
		hasCode bool
	)
	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		if stmt != "" && hasCode {
			out = append(out, stmt)
		}
		cur.Reset()
		hasCode = false
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			end, err := closeQuote(runes, i)
			if err != nil {
				return nil, err
			}
			cur.WriteString(string(runes[i : end+1]))
			hasCode = true
			i = end
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			cur.WriteRune('\n')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			j := i + 2
			for j+1 < len(runes) && !(runes[j] == '*' && runes[j+1] == '/') {
				j++
			}
			if j+1 >= len(runes) {
				return nil, errors.New("unterminated block comment")
			}
			i = j + 1
			cur.WriteRune(' ')
		case r == '(':
			depth++
			cur.WriteRune(r)
			hasCode = true
		case r == ')':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced parenthesis: unexpected )")
			}
			cur.WriteRune(r)
		case r == ';':
			if depth != 0 {
				return nil, errors.New("unbalanced parenthesis before ;")
			}
			flush()
		default:
			if !isSpace(r) {
				hasCode = true
			}
			cur.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, errors.New("unbalanced parenthesis: missing )")
	}
	flush()
	return out, nil
}

func closeQuote(runes []rune, start int) (int, error) {
	q := runes[start]
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != q {
			continue
		}
		// doubled quote is an escaped quote
		if i+1 < len(runes) && runes[i+1] == q {
			i++
			continue
		}
		return i, nil
	}
	return 0, fmt.Errorf("unterminated quoted string starting at offset %d", start)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// ValidateSQL performs a lexical check of SQL text: it must hold at least one
// statement, quotes, comments and parentheses must be balanced, and every
// statement has to start with a known SQL verb. Template placeholders are
// treated as opaque values.
func ValidateSQL(text string) error {
	masked := templatePlaceholder.ReplaceAllString(text, "x")
	stmts, err := SplitStatements(masked)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return ErrEmptySQL
	}
	for _, stmt := range stmts {
		verb := strings.ToUpper(leadingWord.FindString(stmt))
		if !sqlVerbs[verb] {
			return fmt.Errorf("statement %q does not start with a known SQL verb", abbreviate(stmt))
		}
		upper := strings.ToUpper(stmt)
		switch verb {
		case "INSERT":
			if !strings.Contains(upper, "INTO") {
				return fmt.Errorf("INSERT without INTO: %q", abbreviate(stmt))
			}
		case "DELETE":
			if !strings.Contains(upper, "FROM") {
				return fmt.Errorf("DELETE without FROM: %q", abbreviate(stmt))
			}
		case "UPDATE":
			if !strings.Contains(upper, " SET ") && !strings.Contains(upper, "\nSET") {
				return fmt.Errorf("UPDATE without SET: %q", abbreviate(stmt))
			}
		}
	}
	return nil
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
