package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// localFile serves references from a KEY=VALUE file, read once on first use. Keys
// are secret references; a key with ?version= only matches that version, a bare
// key matches every version. Blank lines, # comments and malformed lines are
// skipped. A missing file is empty.
type localFile struct {
	path string

	once   sync.Once
	values map[reference]string
	err    error
}

func (l *localFile) lookup(ref reference) (string, bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", false, l.err
	}
	exact := reference{Name: ref.Name, Version: ref.Version}
	if v, ok := l.values[exact]; ok {
		return v, true, nil
	}
	v, ok := l.values[reference{Name: ref.Name}]
	return v, ok, nil
}

func (l *localFile) load() {
	l.values = make(map[reference]string)
	if l.path == "" {
		return
	}
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		l.err = fmt.Errorf("secrets: open %s: %w", l.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitEntry(line)
		if !ok {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if !strings.Contains(key, "version=") {
			l.values[reference{Name: ref.Name}] = value
		}
		l.values[reference{Name: ref.Name, Version: ref.Version}] = value
	}
	if err := scanner.Err(); err != nil {
		l.err = fmt.Errorf("secrets: read %s: %w", l.path, err)
	}
}

// splitEntry splits KEY=VALUE where KEY may carry a query such as ?version=2. The
// separator is the first "=" that does not belong to a query parameter.
func splitEntry(line string) (string, string, bool) {
	q := strings.IndexByte(line, '?')
	if q < 0 || strings.IndexByte(line, '=') < q {
		return strings.Cut(line, "=")
	}
	inValue := false
	for i := q + 1; i < len(line); i++ {
		switch line[i] {
		case '&':
			inValue = false
		case '=':
			if inValue {
				return line[:i], line[i+1:], true
			}
			inValue = true
		}
	}
	return "", "", false
}
