package fmtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type sortEntry struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder"`
}

// matchAny reports whether r satisfies at least one request of a find. Within
// a request every field must match.
func matchAny(r *record, requests []map[string]string) bool {
	for _, request := range requests {
		omit := strings.EqualFold(request["omit"], "true")
		matched := true
		for _, name := range sortedNames(request) {
			if name == "omit" {
				continue
			}
			if !matchField(text(r.fields[name]), request[name]) {
				matched = false
				break
			}
		}
		if matched && !omit {
			return true
		}
	}
	return false
}

// matchField understands a subset of the FileMaker find syntax: "==" exact,
// "=" empty, "*" any value, comparison operators and, by default, a case
// insensitive match on the start of any word.
func matchField(value, expr string) bool {
	switch {
	case strings.HasPrefix(expr, "=="):
		return strings.EqualFold(value, expr[2:])
	case expr == "=":
		return value == ""
	case expr == "*":
		return value != ""
	case strings.HasPrefix(expr, ">="):
		return compare(value, expr[2:]) >= 0
	case strings.HasPrefix(expr, "<="):
		return compare(value, expr[2:]) <= 0
	case strings.HasPrefix(expr, ">"):
		return compare(value, expr[1:]) > 0
	case strings.HasPrefix(expr, "<"):
		return compare(value, expr[1:]) < 0
	}
	value, expr = strings.ToLower(value), strings.ToLower(expr)
	if strings.HasPrefix(value, expr) {
		return true
	}
	for _, word := range strings.Fields(value) {
		if strings.HasPrefix(word, expr) {
			return true
		}
	}
	return false
}

func sortRecords(records []*record, sorts []sortEntry) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, s := range sorts {
			c := compare(text(records[i].fields[s.FieldName]), text(records[j].fields[s.FieldName]))
			if c == 0 {
				continue
			}
			if s.SortOrder == "descend" {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compare orders numerically when both sides are numbers, otherwise by text.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func text(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
