package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// readURLs reads one URL per line. Blank lines and # comments are skipped.
func readURLs(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// collectURLs merges argument and file URLs, dropping repeats in order.
func collectURLs(fs afero.Fs, args []string, file string) ([]string, error) {
	urls := lo.Map(args, func(s string, _ int) string { return strings.TrimSpace(s) })
	if file != "" {
		fromFile, err := readURLs(fs, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read URLs from file: %w", err)
		}
		urls = append(urls, fromFile...)
	}
	urls = lo.Uniq(lo.Compact(urls))
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs provided; pass them as arguments or use --file/-f")
	}
	return urls, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
