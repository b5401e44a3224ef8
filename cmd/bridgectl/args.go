package main

import (
	"fmt"
	"strconv"
	"strings"

	"net-bridge/codec"
	"net-bridge/proxy"
)

// parseArg turns one command-line word into a value:
//
//	null            nil
//	true, false     bool
//	@12             reference to handle 12
//	42, -7          int
//	2.5, 1e3        float64
//	"quoted"        string with the quotes removed
//
// Anything else is passed as a string.
func parseArg(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if h, ok := strings.CutPrefix(s, "@"); ok {
		if n, err := strconv.ParseInt(h, 10, 32); err == nil {
			return proxy.Ref{Handle: int32(n)}
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	// ParseFloat also accepts words such as "inf"
	if strings.ContainsAny(s, "0123456789") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}

func parseArgs(words []string) []any {
	out := make([]any, len(words))
	for i, w := range words {
		out[i] = parseArg(w)
	}
	return out
}

// handleArg accepts a handle written as 12 or @12.
func handleArg(s string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "@"), 10, 32)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("invalid handle %q", s)
	}
	return proxy.Ref{Handle: int32(n)}, nil
}

func format(v any) string {
	switch v := v.(type) {
	case proxy.Ref:
		if v.ClassName == "" {
			return fmt.Sprintf("@%d", v.Handle)
		}
		return fmt.Sprintf("@%d %s", v.Handle, v.ClassName)
	case string:
		return strconv.Quote(v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case codec.Vector:
		if len(v.Names) == 0 {
			return fmt.Sprint(v.Values)
		}
		parts := make([]string, len(v.Values))
		for i, x := range v.Values {
			parts[i] = fmt.Sprintf("%s=%v", v.Names[i], x)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case codec.Matrix:
		rows := make([]string, v.Rows)
		for r := range rows {
			cells := make([]string, v.Cols)
			for c := range cells {
				cells[c] = strconv.FormatFloat(v.At(r, c), 'g', -1, 64)
			}
			rows[r] = strings.Join(cells, " ")
		}
		return strings.Join(rows, "\n")
	}
	return fmt.Sprint(v)
}
