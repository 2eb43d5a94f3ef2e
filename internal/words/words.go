// internal/words/words.go
//
// Word list for hostless word selection and client-side guess checking.
//
// Responsibilities:
//   - Load the answer list from an environment-provided file or fall back to
//     the embedded default.
//   - Supply RandomAnswer for sessions created without an explicit word.
//   - Supply IsAllowed for pre-submit guess validation on the client side
//     (the server never rejects a guess for being outside the dictionary).
//
// Environment variables:
//   WORDS_FILE=/path/to/answers.txt   one word per line
//
// Constraints:
//   • Words must be 5 alphabetic letters.
//   • Lists are normalized to lowercase internally.
//   • Initialization runs once (sync.Once).

package words

import (
	"bufio"
	"crypto/rand"
	_ "embed"
	"errors"
	"math/big"
	"os"
	"strings"
	"sync"
)

//go:embed answers.txt
var embeddedAnswers string

var (
	initOnce   sync.Once
	answers    []string
	answersSet map[string]struct{}
	initialErr error
)

// Init loads the word list exactly once.
// Returns an error if the answers list ends up empty.
func Init() error {
	initOnce.Do(func() {
		var list []string
		if path := os.Getenv("WORDS_FILE"); path != "" {
			var err error
			list, err = readWordFile(path)
			if err != nil {
				initialErr = err
				return
			}
		} else {
			list = normalizeLines(embeddedAnswers)
		}

		answers = list
		answersSet = make(map[string]struct{}, len(list))
		for _, w := range list {
			answersSet[w] = struct{}{}
		}
		if len(answers) == 0 {
			initialErr = errors.New("words: answers list is empty")
		}
	})
	return initialErr
}

// RandomAnswer returns a cryptographically random word from the list.
// If the list is not loaded yet or empty, falls back to "crane".
func RandomAnswer() string {
	if len(answers) == 0 {
		return "crane"
	}
	nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(len(answers))))
	return answers[nBig.Int64()]
}

// IsAllowed reports whether w is on the word list (case-insensitive).
func IsAllowed(w string) bool {
	_, ok := answersSet[strings.ToLower(w)]
	return ok
}

// Stats returns the count of loaded words.
func Stats() int { return len(answers) }

// readWordFile loads one word per line from a file, lowercases, trims, and
// keeps only valid 5-letter alphabetic words.
func readWordFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		w := strings.TrimSpace(strings.ToLower(sc.Text()))
		if len(w) == 5 && isAlpha(w) {
			out = append(out, w)
		}
	}
	return out, sc.Err()
}

// normalizeLines processes the embedded multiline string into a slice of
// valid lowercase 5-letter words.
func normalizeLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		w := strings.TrimSpace(strings.ToLower(line))
		if len(w) == 5 && isAlpha(w) {
			out = append(out, w)
		}
	}
	return out
}

// isAlpha reports whether s is all lowercase ASCII letters.
func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
