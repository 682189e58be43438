// Package cmdline builds command-line strings for the payload shell.
//
// Tokens handed to the host verbatim would collide with its own switch
// parsing or split on whitespace, so they are quoted according to the
// host's rules before being joined into the payload command line.
package cmdline

import (
	"errors"
	"strings"
)

// ErrUnbalancedQuotes is returned for a token carrying an odd number of
// embedded quote characters. Such a token cannot be quoted losslessly and
// is treated as a fatal input error.
var ErrUnbalancedQuotes = errors.New("token has an odd number of embedded quotes")

const specialChars = " \t|<>,;\""

// Quote prepares a single token for inclusion in a payload command line.
//
// A token starting with '-' is rewritten with a `.\` prefix so the host
// does not mistake it for one of its own switches, then quoted. A token
// containing whitespace or any of |<>,;" is quoted. Embedded quotes are
// backslash-escaped; a trailing backslash immediately before the closing
// quote is doubled so it does not escape the quote.
func Quote(token string) (string, error) {
	if strings.Count(token, `"`)%2 != 0 {
		return "", ErrUnbalancedQuotes
	}

	need := strings.ContainsAny(token, specialChars)
	if strings.HasPrefix(token, "-") {
		token = `.\` + token
		need = true
	}
	if !need {
		return token, nil
	}

	quoted := strings.ReplaceAll(token, `"`, `\"`)
	if strings.HasSuffix(quoted, `\`) {
		quoted += `\`
	}
	return `"` + quoted + `"`, nil
}

// Join quotes every token and joins them with single spaces.
func Join(tokens []string) (string, error) {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		q, err := Quote(tok)
		if err != nil {
			return "", err
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " "), nil
}
