// Package sqlcheck provides static validation for LLM-generated SQL before it
// reaches the database. It enforces the read-only contract of the agent:
// exactly one SELECT statement, no mutating keywords, no injection patterns
// smuggled inside string literals.
package sqlcheck

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	libinjection "github.com/corazawaf/libinjection-go"
)

var (
	// ErrEmptyQuery indicates the candidate SQL is empty after trimming.
	ErrEmptyQuery = errors.New("empty SQL statement")
	// ErrNotSelect indicates the statement does not begin with SELECT.
	ErrNotSelect = errors.New("only SELECT statements are permitted")
	// ErrMultipleStatements indicates the query contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// forbiddenKeywords are statement kinds that must never appear anywhere in a
// generated query, even as a sub-statement.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER",
	"TRUNCATE", "CREATE", "GRANT", "REVOKE", "MERGE",
}

// Result contains the normalized SQL and the validation verdict.
type Result struct {
	NormalizedSQL string
	Err           error
}

// OK reports whether the candidate passed every check.
func (r Result) OK() bool { return r.Err == nil }

// Check validates a candidate SQL string.
//
// The validation order is:
//  1. Trim whitespace, strip a trailing semicolon (normalize)
//  2. Reject remaining semicolons outside string literals (multiple statements)
//  3. Require a leading SELECT token, case-insensitively
//  4. Reject mutating keywords outside string literals
//  5. Scan string literal contents for SQL injection patterns
func Check(sqlQuery string) Result {
	normalized := stripTrailingSemicolon(strings.TrimSpace(sqlQuery))
	if normalized == "" {
		return Result{Err: ErrEmptyQuery}
	}

	if hasSemicolonOutsideStrings(normalized) {
		return Result{NormalizedSQL: normalized, Err: ErrMultipleStatements}
	}

	if !startsWithSelect(normalized) {
		return Result{NormalizedSQL: normalized, Err: ErrNotSelect}
	}

	if kw := findForbiddenKeyword(normalized); kw != "" {
		return Result{NormalizedSQL: normalized, Err: fmt.Errorf("forbidden keyword %q in read-only query", kw)}
	}

	for _, lit := range stringLiterals(normalized) {
		if isSQLi, fingerprint := libinjection.IsSQLi(lit); isSQLi {
			return Result{
				NormalizedSQL: normalized,
				Err:           fmt.Errorf("injection pattern detected in string literal (fingerprint %s)", fingerprint),
			}
		}
	}

	return Result{NormalizedSQL: normalized}
}

func startsWithSelect(sqlQuery string) bool {
	fields := strings.Fields(sqlQuery)
	return len(fields) > 0 && strings.EqualFold(fields[0], "SELECT")
}

// findForbiddenKeyword returns the first mutating keyword found outside string
// literals, or "" when the query is clean. Matches on word boundaries so
// column names like "created_at" do not trip the CREATE check.
func findForbiddenKeyword(sqlQuery string) string {
	upper := strings.ToUpper(maskStringLiterals(sqlQuery))
	for _, kw := range forbiddenKeywords {
		idx := 0
		for {
			pos := strings.Index(upper[idx:], kw)
			if pos < 0 {
				break
			}
			pos += idx
			if isWordBoundary(upper, pos, len(kw)) {
				return kw
			}
			idx = pos + len(kw)
		}
	}
	return ""
}

func isWordBoundary(s string, pos, length int) bool {
	before := pos == 0 || !isWordChar(rune(s[pos-1]))
	afterIdx := pos + length
	after := afterIdx >= len(s) || !isWordChar(rune(s[afterIdx]))
	return before && after
}

func isWordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

const (
	stateNormal = iota
	stateSingleQuote
	stateDoubleQuote
)

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('')
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// maskStringLiterals replaces the contents of single- and double-quoted
// regions with spaces so keyword scanning never matches inside data.
func maskStringLiterals(sqlQuery string) string {
	out := []rune(sqlQuery)
	state := stateNormal
	prevChar := rune(0)

	for i, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		}
		prevChar = char
	}

	return string(out)
}

// stringLiterals extracts the contents of single-quoted literals.
func stringLiterals(sqlQuery string) []string {
	var literals []string
	var current strings.Builder
	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			if char == '\'' {
				state = stateSingleQuote
				current.Reset()
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
				if current.Len() > 0 {
					literals = append(literals, current.String())
				}
			} else {
				current.WriteRune(char)
			}
		}
		prevChar = char
	}

	return literals
}

// stripTrailingSemicolon removes a trailing semicolon and surrounding whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimRight(strings.TrimSuffix(sqlQuery, ";"), " \t\n\r")
	}
	return sqlQuery
}
