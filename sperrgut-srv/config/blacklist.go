package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
)

// DefaultBlacklist is used when the blacklist file does not exist.
var DefaultBlacklist = []string{"facebook.com"}

// LoadBlacklist reads one domain substring per line. Entries are trimmed and
// lowercased; blank lines and lines starting with # are skipped. A missing
// file yields DefaultBlacklist.
func LoadBlacklist(path string) ([]string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Blacklist file %s not found, using default list", path)
			return append([]string(nil), DefaultBlacklist...), nil
		}
		return nil, fmt.Errorf("failed to open blacklist file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing blacklist file: %v", closeErr)
		}
	}()

	var domains []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blacklist file: %w", err)
	}
	return domains, nil
}
