package liquidvm

import (
	"html"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

func init() {
	registerFilter("abs", filterAbs)
	registerFilter("append", filterAppend)
	registerFilter("at_least", filterAtLeast)
	registerFilter("at_most", filterAtMost)
	registerFilter("capitalize", filterCapitalize)
	registerFilter("ceil", filterCeil)
	registerFilter("compact", filterCompact)
	registerFilter("concat", filterConcat)
	registerFilter("date", filterDate)
	registerFilter("default", filterDefault)
	registerFilter("divided_by", filterDividedBy)
	registerFilter("downcase", filterDowncase)
	registerFilter("escape", filterEscape)
	registerFilter("escape_once", filterEscapeOnce)
	registerFilter("first", filterFirst)
	registerFilter("floor", filterFloor)
	registerFilter("join", filterJoin)
	registerFilter("last", filterLast)
	registerFilter("lstrip", filterLstrip)
	registerFilter("map", filterMap)
	registerFilter("minus", filterMinus)
	registerFilter("modulo", filterModulo)
	registerFilter("newline_to_br", filterNewlineToBr)
	registerFilter("plus", filterPlus)
	registerFilter("prepend", filterPrepend)
	registerFilter("remove", filterRemove)
	registerFilter("remove_first", filterRemoveFirst)
	registerFilter("remove_last", filterRemoveLast)
	registerFilter("replace", filterReplace)
	registerFilter("replace_first", filterReplaceFirst)
	registerFilter("replace_last", filterReplaceLast)
	registerFilter("reverse", filterReverse)
	registerFilter("round", filterRound)
	registerFilter("rstrip", filterRstrip)
	registerFilter("size", filterSize)
	registerFilter("slice", filterSlice)
	registerFilter("sort", filterSort)
	registerFilter("sort_natural", filterSortNatural)
	registerFilter("split", filterSplit)
	registerFilter("strip", filterStrip)
	registerFilter("strip_html", filterStripHTML)
	registerFilter("strip_newlines", filterStripNewlines)
	registerFilter("sum", filterSum)
	registerFilter("times", filterTimes)
	registerFilter("truncate", filterTruncate)
	registerFilter("truncatewords", filterTruncatewords)
	registerFilter("uniq", filterUniq)
	registerFilter("upcase", filterUpcase)
	registerFilter("url_decode", filterURLDecode)
	registerFilter("url_encode", filterURLEncode)
	registerFilter("where", filterWhere)
}

// toNumber coerces v to a numeric value for the arithmetic filters:
// ints and floats pass through, numeric strings parse, anything else
// counts as integer zero.
func toNumber(v Value) Value {
	switch {
	case v.IsInt() || v.IsFloat():
		return v
	case v.IsString():
		s := strings.TrimSpace(v.String())
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	}
	return Int(0)
}

func bothInt(a, b Value) bool { return a.IsInt() && b.IsInt() }

func wantArgs(name string, args []Value, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return filterArgErr(name, "expected %d argument(s), got %d.", min, len(args))
		}
		return filterArgErr(name, "expected %d to %d arguments, got %d.", min, max, len(args))
	}
	return nil
}

func filterAbs(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	n := toNumber(in)
	if n.IsFloat() {
		return Float(math.Abs(n.Float())), nil
	}
	if n.Int() < 0 {
		return Int(-n.Int()), nil
	}
	return n, nil
}

func filterAppend(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("append", args, 1, 1); err != nil {
		return Nil, err
	}
	return String(in.String() + args[0].String()), nil
}

func filterPrepend(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("prepend", args, 1, 1); err != nil {
		return Nil, err
	}
	return String(args[0].String() + in.String()), nil
}

func filterAtLeast(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("at_least", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if a.Float() >= b.Float() {
		return a, nil
	}
	return b, nil
}

func filterAtMost(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("at_most", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if a.Float() <= b.Float() {
		return a, nil
	}
	return b, nil
}

func filterCapitalize(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	s := in.String()
	if s == "" {
		return in, nil
	}
	return String(strings.ToUpper(s[:1]) + strings.ToLower(s[1:])), nil
}

func filterCeil(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return Int(int64(math.Ceil(toNumber(in).Float()))), nil
}

func filterFloor(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return Int(int64(math.Floor(toNumber(in).Float()))), nil
}

func filterRound(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("round", args, 0, 1); err != nil {
		return Nil, err
	}
	f := toNumber(in).Float()
	if len(args) == 0 || args[0].Int() <= 0 {
		return Int(int64(math.Round(f))), nil
	}
	scale := math.Pow(10, float64(args[0].Int()))
	return Float(math.Round(f*scale) / scale), nil
}

func filterCompact(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	arr := in.AsArray()
	out := make([]Value, 0, len(arr))
	for _, v := range arr {
		if !v.IsNil() && !v.IsUndefined() {
			out = append(out, v)
		}
	}
	return Array(out), nil
}

func filterConcat(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("concat", args, 1, 1); err != nil {
		return Nil, err
	}
	if !args[0].IsArray() {
		return Nil, filterArgErr("concat", "argument must be an array, got %s.", args[0].kindName())
	}
	out := append(append([]Value{}, in.AsArray()...), args[0].AsArray()...)
	return Array(out), nil
}

// strftime directives supported by the date filter, translated to Go's
// reference-time layout.
var strftimeTokens = map[byte]string{
	'a': "Mon", 'A': "Monday", 'b': "Jan", 'B': "January",
	'd': "02", 'e': "_2", 'H': "15", 'I': "03", 'j': "002",
	'm': "01", 'M': "04", 'p': "PM", 'S': "05",
	'y': "06", 'Y': "2006", 'Z': "MST", 'z': "-0700",
	'D': "01/02/06", 'F': "2006-01-02", 'T': "15:04:05",
	'c': "Mon Jan 2 15:04:05 2006", 'x': "01/02/06", 'X': "15:04:05",
}

func strftimeToLayout(format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			sb.WriteByte(format[i])
			continue
		}
		i++
		if format[i] == '%' {
			sb.WriteByte('%')
			continue
		}
		if layout, ok := strftimeTokens[format[i]]; ok {
			sb.WriteString(layout)
		} else {
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}

var dateInputLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
}

func parseDateValue(in Value) (time.Time, bool) {
	if in.IsInt() {
		return time.Unix(in.Int(), 0).UTC(), true
	}
	s := strings.TrimSpace(in.String())
	if s == "now" || s == "today" {
		return time.Now(), true
	}
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func filterDate(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("date", args, 1, 1); err != nil {
		return Nil, err
	}
	t, ok := parseDateValue(in)
	if !ok {
		// An unparseable input passes through untouched.
		return in, nil
	}
	return String(t.Format(strftimeToLayout(args[0].String()))), nil
}

func filterDefault(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("default", args, 1, 1); err != nil {
		return Nil, err
	}
	if allow, ok := kwargs["allow_false"]; ok && allow.IsTrue() && in.IsBool() {
		return in, nil
	}
	if !in.IsTrue() || in.IsEmpty() && (in.IsString() || in.IsArray() || in.IsMap()) {
		return args[0], nil
	}
	return in, nil
}

func filterDividedBy(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("divided_by", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if b.Float() == 0 {
		return Nil, filterArgErr("divided_by", "division by zero.")
	}
	if bothInt(a, b) {
		return Int(int64(math.Floor(float64(a.Int()) / float64(b.Int())))), nil
	}
	return Float(a.Float() / b.Float()), nil
}

func filterModulo(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("modulo", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if b.Float() == 0 {
		return Nil, filterArgErr("modulo", "division by zero.")
	}
	if bothInt(a, b) {
		m := a.Int() % b.Int()
		if m != 0 && (m < 0) != (b.Int() < 0) {
			m += b.Int()
		}
		return Int(m), nil
	}
	return Float(math.Mod(a.Float(), b.Float())), nil
}

func filterMinus(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("minus", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if bothInt(a, b) {
		return Int(a.Int() - b.Int()), nil
	}
	return Float(a.Float() - b.Float()), nil
}

func filterPlus(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("plus", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if bothInt(a, b) {
		return Int(a.Int() + b.Int()), nil
	}
	return Float(a.Float() + b.Float()), nil
}

func filterTimes(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("times", args, 1, 1); err != nil {
		return Nil, err
	}
	a, b := toNumber(in), toNumber(args[0])
	if bothInt(a, b) {
		return Int(a.Int() * b.Int()), nil
	}
	return Float(a.Float() * b.Float()), nil
}

func filterDowncase(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(strings.ToLower(in.String())), nil
}

func filterUpcase(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(strings.ToUpper(in.String())), nil
}

func filterEscape(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(html.EscapeString(in.String())), nil
}

func filterEscapeOnce(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(html.EscapeString(html.UnescapeString(in.String()))), nil
}

func filterFirst(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	switch {
	case in.IsArray():
		if in.Len() == 0 {
			return Nil, nil
		}
		return in.AsArray()[0], nil
	case in.IsString():
		if in.Len() == 0 {
			return Nil, nil
		}
		return String(in.String()[:1]), nil
	case in.IsRange():
		if in.Len() == 0 {
			return Nil, nil
		}
		return Int(in.AsRange().Start), nil
	}
	return Nil, nil
}

func filterLast(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	switch {
	case in.IsArray():
		if in.Len() == 0 {
			return Nil, nil
		}
		return in.AsArray()[in.Len()-1], nil
	case in.IsString():
		if in.Len() == 0 {
			return Nil, nil
		}
		return String(in.String()[in.Len()-1:]), nil
	case in.IsRange():
		if in.Len() == 0 {
			return Nil, nil
		}
		return Int(in.AsRange().Stop), nil
	}
	return Nil, nil
}

func filterJoin(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("join", args, 0, 1); err != nil {
		return Nil, err
	}
	sep := " "
	if len(args) == 1 {
		sep = args[0].String()
	}
	if !in.IsArray() {
		return in, nil
	}
	parts := make([]string, in.Len())
	for i, v := range in.AsArray() {
		parts[i] = v.String()
	}
	return String(strings.Join(parts, sep)), nil
}

func filterLstrip(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(strings.TrimLeft(in.String(), wsChars)), nil
}

func filterRstrip(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(strings.TrimRight(in.String(), wsChars)), nil
}

func filterStrip(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(strings.Trim(in.String(), wsChars)), nil
}

func filterMap(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("map", args, 1, 1); err != nil {
		return Nil, err
	}
	if !in.IsArray() {
		return Nil, filterValueErr("map", "input must be an array, got %s.", in.kindName())
	}
	key := args[0]
	out := make([]Value, 0, in.Len())
	for _, item := range in.AsArray() {
		out = append(out, indexValue(item, key))
	}
	return Array(out), nil
}

func filterNewlineToBr(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(strings.ReplaceAll(in.String(), "\n", "<br />\n")), nil
}

func filterRemove(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("remove", args, 1, 1); err != nil {
		return Nil, err
	}
	return String(strings.ReplaceAll(in.String(), args[0].String(), "")), nil
}

func filterRemoveFirst(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("remove_first", args, 1, 1); err != nil {
		return Nil, err
	}
	return String(strings.Replace(in.String(), args[0].String(), "", 1)), nil
}

func filterRemoveLast(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("remove_last", args, 1, 1); err != nil {
		return Nil, err
	}
	s, sub := in.String(), args[0].String()
	if i := strings.LastIndex(s, sub); i >= 0 {
		return String(s[:i] + s[i+len(sub):]), nil
	}
	return in, nil
}

func filterReplace(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("replace", args, 2, 2); err != nil {
		return Nil, err
	}
	return String(strings.ReplaceAll(in.String(), args[0].String(), args[1].String())), nil
}

func filterReplaceFirst(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("replace_first", args, 2, 2); err != nil {
		return Nil, err
	}
	return String(strings.Replace(in.String(), args[0].String(), args[1].String(), 1)), nil
}

func filterReplaceLast(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("replace_last", args, 2, 2); err != nil {
		return Nil, err
	}
	s, sub, repl := in.String(), args[0].String(), args[1].String()
	if i := strings.LastIndex(s, sub); i >= 0 {
		return String(s[:i] + repl + s[i+len(sub):]), nil
	}
	return in, nil
}

func filterReverse(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if !in.IsArray() {
		return in, nil
	}
	arr := in.AsArray()
	out := make([]Value, len(arr))
	for i, v := range arr {
		out[len(arr)-1-i] = v
	}
	return Array(out), nil
}

func filterSize(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return Int(int64(in.Len())), nil
}

func filterSlice(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("slice", args, 1, 2); err != nil {
		return Nil, err
	}
	offset := int(args[0].Int())
	length := 1
	if len(args) == 2 {
		length = int(args[1].Int())
	}
	if length < 0 {
		length = 0
	}
	n := in.Len()
	if offset < 0 {
		offset += n
		if offset < 0 {
			offset = 0
		}
	}
	if offset > n {
		offset = n
	}
	end := offset + length
	if end > n {
		end = n
	}
	if in.IsArray() {
		return Array(append([]Value{}, in.AsArray()[offset:end]...)), nil
	}
	return String(in.String()[offset:end]), nil
}

func sortValues(arr []Value, caseInsensitive bool) []Value {
	out := append([]Value{}, arr...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsNumber() && b.IsNumber() {
			return a.Float() < b.Float()
		}
		as, bs := a.String(), b.String()
		if caseInsensitive {
			return strings.ToLower(as) < strings.ToLower(bs)
		}
		return as < bs
	})
	return out
}

func filterSort(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("sort", args, 0, 1); err != nil {
		return Nil, err
	}
	if !in.IsArray() {
		return in, nil
	}
	if len(args) == 1 {
		key := args[0]
		out := append([]Value{}, in.AsArray()...)
		sort.SliceStable(out, func(i, j int) bool {
			a, b := indexValue(out[i], key), indexValue(out[j], key)
			if a.IsNumber() && b.IsNumber() {
				return a.Float() < b.Float()
			}
			return a.String() < b.String()
		})
		return Array(out), nil
	}
	return Array(sortValues(in.AsArray(), false)), nil
}

func filterSortNatural(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if !in.IsArray() {
		return in, nil
	}
	return Array(sortValues(in.AsArray(), true)), nil
}

func filterSplit(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("split", args, 1, 1); err != nil {
		return Nil, err
	}
	s, sep := in.String(), args[0].String()
	if s == "" {
		return Array(nil), nil
	}
	var parts []string
	if sep == "" {
		parts = strings.Split(s, "")
	} else {
		parts = strings.Split(s, sep)
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = String(p)
	}
	return Array(out), nil
}

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

func filterStripHTML(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(htmlTagPattern.ReplaceAllString(in.String(), "")), nil
}

func filterStripNewlines(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	s := strings.ReplaceAll(in.String(), "\r\n", "")
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	return String(s), nil
}

func filterSum(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("sum", args, 0, 1); err != nil {
		return Nil, err
	}
	if !in.IsArray() {
		return Int(0), nil
	}
	intSum := int64(0)
	floatSum := float64(0)
	sawFloat := false
	for _, item := range in.AsArray() {
		if len(args) == 1 {
			item = indexValue(item, args[0])
		}
		n := toNumber(item)
		if n.IsFloat() {
			sawFloat = true
			floatSum += n.Float()
		} else {
			intSum += n.Int()
		}
	}
	if sawFloat {
		return Float(floatSum + float64(intSum)), nil
	}
	return Int(intSum), nil
}

func filterTruncate(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("truncate", args, 0, 2); err != nil {
		return Nil, err
	}
	length := 50
	ellipsis := "..."
	if len(args) >= 1 {
		length = int(args[0].Int())
	}
	if len(args) == 2 {
		ellipsis = args[1].String()
	}
	s := in.String()
	if len(s) <= length {
		return in, nil
	}
	keep := length - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return String(s[:keep] + ellipsis), nil
}

func filterTruncatewords(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("truncatewords", args, 0, 2); err != nil {
		return Nil, err
	}
	count := 15
	ellipsis := "..."
	if len(args) >= 1 {
		count = int(args[0].Int())
	}
	if len(args) == 2 {
		ellipsis = args[1].String()
	}
	if count < 1 {
		count = 1
	}
	words := strings.Fields(in.String())
	if len(words) <= count {
		return in, nil
	}
	return String(strings.Join(words[:count], " ") + ellipsis), nil
}

func filterUniq(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if !in.IsArray() {
		return in, nil
	}
	var out []Value
	for _, v := range in.AsArray() {
		dup := false
		for _, seen := range out {
			if seen.EqualValueTo(v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return Array(out), nil
}

func filterURLDecode(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	s, err := url.QueryUnescape(in.String())
	if err != nil {
		return Nil, filterValueErr("url_decode", "%s", err)
	}
	return String(s), nil
}

func filterURLEncode(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	return String(url.QueryEscape(in.String())), nil
}

func filterWhere(in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if err := wantArgs("where", args, 1, 2); err != nil {
		return Nil, err
	}
	if !in.IsArray() {
		return Array(nil), nil
	}
	key := args[0]
	var out []Value
	for _, item := range in.AsArray() {
		got := indexValue(item, key)
		if len(args) == 2 {
			if got.EqualValueTo(args[1]) {
				out = append(out, item)
			}
		} else if got.IsTrue() {
			out = append(out, item)
		}
	}
	return Array(out), nil
}
