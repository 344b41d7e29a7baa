package engine

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/soham407/sqlquest/internal/storage"
)

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

type scalarFunc struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	fn               func(args []storage.Value) (storage.Value, error)
}

var scalarFuncs map[string]scalarFunc

func init() {
	scalarFuncs = map[string]scalarFunc{
		"ABS":       {1, 1, fnAbs},
		"ROUND":     {1, 2, fnRound},
		"UPPER":     {1, 1, strFn(upperCaser.String)},
		"LOWER":     {1, 1, strFn(lowerCaser.String)},
		"LENGTH":    {1, 1, fnLength},
		"SUBSTR":    {2, 3, fnSubstr},
		"SUBSTRING": {2, 3, fnSubstr},
		"TRIM":      {1, 2, trimFn(strings.Trim, strings.TrimSpace)},
		"LTRIM":     {1, 2, trimFn(strings.TrimLeft, func(s string) string { return strings.TrimLeft(s, " ") })},
		"RTRIM":     {1, 2, trimFn(strings.TrimRight, func(s string) string { return strings.TrimRight(s, " ") })},
		"REPLACE":   {3, 3, fnReplace},
		"INSTR":     {2, 2, fnInstr},
		"COALESCE":  {1, -1, fnCoalesce},
		"IFNULL":    {2, 2, fnCoalesce},
		"NULLIF":    {2, 2, fnNullIf},
		"IIF":       {3, 3, fnIif},
		"TYPEOF":    {1, 1, fnTypeof},
		"MIN":       {2, -1, extremum(-1)},
		"MAX":       {2, -1, extremum(1)},
		"CONCAT":    {1, -1, fnConcat},
		"LEFT":      {2, 2, fnLeft},
		"RIGHT":     {2, 2, fnRight},
	}
}

// aggregateNames lists the aggregate functions.
var aggregateNames = []string{"AVG", "COUNT", "GROUP_CONCAT", "MAX", "MIN", "SUM", "TOTAL"}

// isAggregateCall reports whether fc names an aggregate. MIN and MAX are
// aggregates with one argument and scalar functions with more.
func isAggregateCall(fc *FuncCall) bool {
	switch fc.Name {
	case "COUNT", "SUM", "AVG", "TOTAL", "GROUP_CONCAT":
		return true
	case "MIN", "MAX":
		return len(fc.Args) == 1
	}
	return false
}

func callScalar(name string, args []storage.Value) (storage.Value, error) {
	f, ok := scalarFuncs[name]
	if !ok {
		return storage.Null(), fmt.Errorf("no such function: %s", name)
	}
	if len(args) < f.minArgs || (f.maxArgs >= 0 && len(args) > f.maxArgs) {
		return storage.Null(), fmt.Errorf("wrong number of arguments to function %s()", name)
	}
	return f.fn(args)
}

func anyNull(args []storage.Value) bool {
	for _, a := range args {
		if a.IsNull() {
			return true
		}
	}
	return false
}

func strFn(f func(string) string) func([]storage.Value) (storage.Value, error) {
	return func(args []storage.Value) (storage.Value, error) {
		if args[0].IsNull() {
			return storage.Null(), nil
		}
		return storage.Text(f(args[0].Str())), nil
	}
}

func trimFn(withSet func(string, string) string, plain func(string) string) func([]storage.Value) (storage.Value, error) {
	return func(args []storage.Value) (storage.Value, error) {
		if anyNull(args) {
			return storage.Null(), nil
		}
		if len(args) == 2 {
			return storage.Text(withSet(args[0].Str(), args[1].Str())), nil
		}
		return storage.Text(plain(args[0].Str())), nil
	}
}

// toNumeric converts text to a number the way arithmetic operators do:
// numeric text is parsed, anything else counts as 0.
func toNumeric(v storage.Value) storage.Value {
	if v.Kind() == storage.KindText {
		if n, ok := storage.ParseNumber(v.Str()); ok {
			return n
		}
		return storage.Int(0)
	}
	return v
}

func fnAbs(args []storage.Value) (storage.Value, error) {
	v := args[0]
	if v.IsNull() {
		return v, nil
	}
	v = toNumeric(v)
	if v.Kind() == storage.KindInt {
		if n := v.Int64(); n < 0 {
			if n == math.MinInt64 {
				return storage.Null(), fmt.Errorf("integer overflow")
			}
			return storage.Int(-n), nil
		}
		return v, nil
	}
	return storage.Float(math.Abs(v.Float64())), nil
}

func fnRound(args []storage.Value) (storage.Value, error) {
	if anyNull(args) {
		return storage.Null(), nil
	}
	digits := int64(0)
	if len(args) == 2 {
		digits = toNumeric(args[1]).Int64()
	}
	digits = max(0, min(digits, 15))
	x := toNumeric(args[0]).Float64()
	scale := math.Pow(10, float64(digits))
	return storage.Float(math.Round(x*scale) / scale), nil
}

func fnLength(args []storage.Value) (storage.Value, error) {
	if args[0].IsNull() {
		return storage.Null(), nil
	}
	return storage.Int(int64(utf8.RuneCountInString(args[0].Str()))), nil
}

// fnSubstr follows the 1-based, negative-from-the-end indexing of SQL
// SUBSTR.
func fnSubstr(args []storage.Value) (storage.Value, error) {
	if anyNull(args) {
		return storage.Null(), nil
	}
	rs := []rune(args[0].Str())
	n := int64(len(rs))
	p1 := toNumeric(args[1]).Int64()
	p2 := n + 1
	if len(args) == 3 {
		p2 = toNumeric(args[2]).Int64()
	}
	switch {
	case p1 < 0:
		p1 += n
		if p1 < 0 {
			p2 += p1
			p1 = 0
		}
	case p1 > 0:
		p1--
	case p2 > 0:
		p2--
	}
	if p2 < 0 {
		p2 = -p2
		if p2 > p1 {
			p2 = p1
		}
		p1 -= p2
	}
	if p1 >= n || p2 <= 0 {
		return storage.Text(""), nil
	}
	end := min(p1+p2, n)
	return storage.Text(string(rs[p1:end])), nil
}

func fnLeft(args []storage.Value) (storage.Value, error) {
	if anyNull(args) {
		return storage.Null(), nil
	}
	rs := []rune(args[0].Str())
	k := max(0, min(int(toNumeric(args[1]).Int64()), len(rs)))
	return storage.Text(string(rs[:k])), nil
}

func fnRight(args []storage.Value) (storage.Value, error) {
	if anyNull(args) {
		return storage.Null(), nil
	}
	rs := []rune(args[0].Str())
	k := max(0, min(int(toNumeric(args[1]).Int64()), len(rs)))
	return storage.Text(string(rs[len(rs)-k:])), nil
}

func fnReplace(args []storage.Value) (storage.Value, error) {
	if anyNull(args) {
		return storage.Null(), nil
	}
	from := args[1].Str()
	if from == "" {
		return storage.Text(args[0].Str()), nil
	}
	return storage.Text(strings.ReplaceAll(args[0].Str(), from, args[2].Str())), nil
}

func fnInstr(args []storage.Value) (storage.Value, error) {
	if anyNull(args) {
		return storage.Null(), nil
	}
	s := args[0].Str()
	i := strings.Index(s, args[1].Str())
	if i < 0 {
		return storage.Int(0), nil
	}
	return storage.Int(int64(utf8.RuneCountInString(s[:i]) + 1)), nil
}

func fnCoalesce(args []storage.Value) (storage.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return storage.Null(), nil
}

func fnNullIf(args []storage.Value) (storage.Value, error) {
	if !args[0].IsNull() && !args[1].IsNull() && storage.Compare(args[0], args[1]) == 0 {
		return storage.Null(), nil
	}
	return args[0], nil
}

func fnIif(args []storage.Value) (storage.Value, error) {
	if toTri(args[0]) == tvTrue {
		return args[1], nil
	}
	return args[2], nil
}

func fnTypeof(args []storage.Value) (storage.Value, error) {
	return storage.Text(args[0].Kind().String()), nil
}

func extremum(sign int) func([]storage.Value) (storage.Value, error) {
	return func(args []storage.Value) (storage.Value, error) {
		if anyNull(args) {
			return storage.Null(), nil
		}
		best := args[0]
		for _, a := range args[1:] {
			if storage.Compare(a, best)*sign > 0 {
				best = a
			}
		}
		return best, nil
	}
}

func fnConcat(args []storage.Value) (storage.Value, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(a.Str())
	}
	return storage.Text(b.String()), nil
}

// ------------------------------ Aggregates ------------------------------

// aggregate folds the argument values of one group. vals holds the evaluated
// first argument per row; sep is the GROUP_CONCAT separator.
func aggregate(fc *FuncCall, vals []storage.Value, sep string) (storage.Value, error) {
	if fc.Distinct {
		seen := make(map[string]struct{}, len(vals))
		uniq := vals[:0:0]
		for _, v := range vals {
			if v.IsNull() {
				continue
			}
			if _, ok := seen[v.Key()]; ok {
				continue
			}
			seen[v.Key()] = struct{}{}
			uniq = append(uniq, v)
		}
		vals = uniq
	}
	switch fc.Name {
	case "COUNT":
		n := 0
		for _, v := range vals {
			if !v.IsNull() {
				n++
			}
		}
		return storage.Int(int64(n)), nil
	case "SUM", "TOTAL", "AVG":
		var isum int64
		var fsum float64
		allInt, seen := true, 0
		for _, v := range vals {
			if v.IsNull() {
				continue
			}
			seen++
			n := toNumeric(v)
			if n.Kind() == storage.KindInt && allInt {
				next := isum + n.Int64()
				if (n.Int64() > 0 && next < isum) || (n.Int64() < 0 && next > isum) {
					return storage.Null(), fmt.Errorf("integer overflow")
				}
				isum = next
			} else {
				if allInt {
					fsum = float64(isum)
					allInt = false
				}
				fsum += n.Float64()
			}
		}
		switch {
		case fc.Name == "TOTAL":
			if allInt {
				return storage.Float(float64(isum)), nil
			}
			return storage.Float(fsum), nil
		case seen == 0:
			return storage.Null(), nil
		case fc.Name == "AVG":
			if allInt {
				fsum = float64(isum)
			}
			return storage.Float(fsum / float64(seen)), nil
		case allInt:
			return storage.Int(isum), nil
		}
		return storage.Float(fsum), nil
	case "MIN", "MAX":
		sign := -1
		if fc.Name == "MAX" {
			sign = 1
		}
		best := storage.Null()
		for _, v := range vals {
			if v.IsNull() {
				continue
			}
			if best.IsNull() || storage.Compare(v, best)*sign > 0 {
				best = v
			}
		}
		return best, nil
	case "GROUP_CONCAT":
		var parts []string
		for _, v := range vals {
			if !v.IsNull() {
				parts = append(parts, v.Str())
			}
		}
		if len(parts) == 0 {
			return storage.Null(), nil
		}
		return storage.Text(strings.Join(parts, sep)), nil
	}
	return storage.Null(), fmt.Errorf("no such function: %s", fc.Name)
}

// ------------------------------ LIKE ------------------------------

// likeMatch matches s against an SQL LIKE pattern. Matching is
// case-insensitive for ASCII letters; esc (if non-zero) escapes % and _.
func likeMatch(s, pattern string, esc rune) bool {
	return likeRunes([]rune(s), []rune(pattern), esc)
}

func likeRunes(s, p []rune, esc rune) bool {
	for len(p) > 0 {
		c := p[0]
		switch {
		case esc != 0 && c == esc && len(p) > 1:
			if len(s) == 0 || foldASCII(s[0]) != foldASCII(p[1]) {
				return false
			}
			s, p = s[1:], p[2:]
		case c == '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeRunes(s[i:], p, esc) {
					return true
				}
			}
			return false
		case c == '_':
			if len(s) == 0 {
				return false
			}
			s, p = s[1:], p[1:]
		default:
			if len(s) == 0 || foldASCII(s[0]) != foldASCII(c) {
				return false
			}
			s, p = s[1:], p[1:]
		}
	}
	return len(s) == 0
}

func foldASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
