// SPDX-License-Identifier: MIT

package fetch

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadManifest parses a prewarm manifest: one URL per line, blank lines
// and #-comments skipped.
func ReadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return urls, nil
}
