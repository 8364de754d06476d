package corpus

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// readRecords parses a tab separated table with a header row. Fields are
// taken verbatim: quote characters carry no meaning.
func readRecords(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty table", ErrInvalidArgument)
	}
	header := splitRow(sc.Text())
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	pathCol, ok := col["path"]
	if !ok {
		return nil, fmt.Errorf("%w: missing path column", ErrInvalidArgument)
	}
	sentCol, ok := col["sentence"]
	if !ok {
		return nil, fmt.Errorf("%w: missing sentence column", ErrInvalidArgument)
	}
	clientCol, hasClient := col["client_id"]

	var records []Record
	line := 1
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		fields := splitRow(text)
		rec := Record{
			Path:     field(fields, pathCol),
			Sentence: field(fields, sentCol),
		}
		if hasClient {
			rec.ClientID = field(fields, clientCol)
		}
		if rec.Path == "" {
			return nil, fmt.Errorf("%w: line %d has no path", ErrInvalidArgument, line)
		}
		records = append(records, rec)
	}
	return records, sc.Err()
}

func splitRow(line string) []string {
	return strings.Split(strings.TrimSuffix(line, "\r"), "\t")
}

// field returns fields[i], or "" for short rows.
func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
