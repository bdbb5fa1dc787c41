package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source answers lookups with precedence: explicit map, process env, dotenv file.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newSource(o loaderOptions) (source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return source{}, err
	}
	return source{explicit: o.envMap, system: o.useSystemEnv, dotenv: dotenv}, nil
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := s.explicit[key]; ok {
		return v, true
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := s.dotenv[key]
	return v, ok
}

// flatten merges every source into one map, applying the lookup precedence.
func (s source) flatten() map[string]string {
	out := maps.Clone(s.dotenv)
	if out == nil {
		out = make(map[string]string)
	}
	if s.system {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				out[strings.TrimSpace(key)] = value
			}
		}
	}
	maps.Copy(out, s.explicit)
	return out
}

// raw returns the trimmed value of key, or "" when unset or blank.
func (s source) raw(key string) string {
	v, _ := s.lookup(key)
	return strings.TrimSpace(v)
}

func (s source) str(key, def string) string {
	if v := s.raw(key); v != "" {
		return v
	}
	return def
}

// parsed returns parse(raw) when the key is set and parses cleanly, else def.
func parsed[T any](s source, key string, def T, parse func(string) (T, error)) T {
	v := s.raw(key)
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func (s source) duration(key string, def time.Duration) time.Duration {
	return parsed(s, key, def, time.ParseDuration)
}

func (s source) integer(key string, def int) int {
	return parsed(s, key, def, strconv.Atoi)
}

func (s source) ratio(key string, def float64) float64 {
	return parsed(s, key, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func (s source) flag(key string, def bool) bool {
	return parsed(s, key, def, parseFlag)
}

// list splits a comma-separated value, dropping blanks.
func (s source) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(s.raw(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}
