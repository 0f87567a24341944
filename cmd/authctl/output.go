package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"
)

var (
	outputFormat string // "table" or "json"
	outputField  string
)

// printResult outputs a single object.
func printResult(data map[string]any) {
	if outputField != "" {
		if v, ok := data[outputField]; ok {
			fmt.Println(v)
		}
		return
	}
	if outputFormat == "json" {
		printJSON(data)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			fmt.Fprintf(w, "%s\t%s\n", k, joinAny(val))
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, val)
		}
	}
}

// printRows outputs a list of objects as a table with the given columns.
func printRows(rows []any, columns ...string) {
	if outputFormat == "json" {
		printJSON(rows)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, strings.ToUpper(strings.Join(columns, "\t")))
	for _, row := range rows {
		m, _ := row.(map[string]any)
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = cell(m[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t.Local().Format(time.DateTime)
		}
		if val == "" {
			return "-"
		}
		return val
	case []any:
		return fmt.Sprintf("%d", len(val))
	default:
		return fmt.Sprint(val)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
