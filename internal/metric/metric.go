package metric

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotFound means no line carried the marker, or the marker line was too
// short to hold the requested token.
var ErrNotFound = errors.New("metric not found")

// Extract scans r line by line and, on the first line containing marker,
// returns the whitespace-separated token at index. Scanning stops at that line.
//
// For FUGE-LC output such as "[Accuracy] : 0.87" index 2 is the value.
func Extract(r io.Reader, marker string, index int) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if !strings.Contains(line, marker) {
			continue
		}
		fields := strings.Fields(line)
		if index < 0 || index >= len(fields) {
			return "", fmt.Errorf("%w: line %d has %d fields, want index %d", ErrNotFound, lineNo, len(fields), index)
		}
		return fields[index], nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scanning output: %w", err)
	}
	return "", fmt.Errorf("%w: no line contains %q", ErrNotFound, marker)
}

func ExtractFile(path, marker string, index int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()
	return Extract(f, marker, index)
}

// ParseValue converts a raw token to a float. Tokens that are not numbers
// (the literal index rule can land on a label) report ok=false.
func ParseValue(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var blockLine = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*:\s*(\S+)`)

// ParseBlock collects every "[Name] : value" line FUGE-LC prints after an
// evaluation. Later duplicates overwrite earlier ones.
func ParseBlock(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if m := blockLine.FindStringSubmatch(sc.Text()); m != nil {
			out[m[1]] = m[2]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning output: %w", err)
	}
	return out, nil
}

func ParseBlockFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()
	return ParseBlock(f)
}
