// Package targets loads the ordered search-term list fed into the collector.
package targets

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Load reads search terms from a file, one term per line. Blank lines and
// lines starting with '#' are ignored; terms are trimmed and keep file order.
func Load(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an operator-supplied CLI flag
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		term := strings.TrimSpace(scanner.Text())
		if term == "" || strings.HasPrefix(term, "#") {
			continue
		}
		terms = append(terms, term)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("targets file %s contains no search terms", path)
	}
	return terms, nil
}
