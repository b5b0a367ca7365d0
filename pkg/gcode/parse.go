package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)
var reDeferredExpr = regexp.MustCompile(`^\{.*\}$`)

// Parse turns one raw code line into a Code tagged with the given channel.
// It strips `;` and `(...)` comments, splits on whitespace, and treats the
// first field's leading letter+number as the command and every remaining
// field as a Param. A value wrapped in `{...}` is kept as a deferred
// expression rather than evaluated here — deferred expressions are resolved
// downstream, by whatever currently owns the object model, not by this
// parser.
func Parse(line string, channel Channel) (*Code, error) {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, fmt.Errorf("gcode: empty line")
	}

	fields := strings.Fields(ln)
	if len(fields) == 0 {
		return nil, fmt.Errorf("gcode: empty line")
	}

	letter, major, minor, err := parseCommandWord(fields[0])
	if err != nil {
		return nil, err
	}

	code := &Code{
		Letter:  letter,
		Major:   major,
		Minor:   minor,
		Raw:     ln,
		Channel: channel,
	}

	for _, f := range fields[1:] {
		if f == "" {
			continue
		}
		param, err := parseParam(f)
		if err != nil {
			return nil, err
		}
		code.Params = append(code.Params, param)
	}
	return code, nil
}

func parseCommandWord(word string) (letter string, major, minor int, err error) {
	if len(word) < 2 {
		return "", 0, 0, fmt.Errorf("gcode: invalid command %q", word)
	}
	letter = strings.ToUpper(word[:1])
	rest := word[1:]

	dot := strings.IndexByte(rest, '.')
	majorStr := rest
	minorStr := ""
	if dot >= 0 {
		majorStr = rest[:dot]
		minorStr = rest[dot+1:]
	}

	major, err = strconv.Atoi(majorStr)
	if err != nil {
		return "", 0, 0, fmt.Errorf("gcode: invalid command number in %q: %w", word, err)
	}
	if minorStr != "" {
		minor, err = strconv.Atoi(minorStr)
		if err != nil {
			return "", 0, 0, fmt.Errorf("gcode: invalid decimal in %q: %w", word, err)
		}
	}
	return letter, major, minor, nil
}

func parseParam(field string) (Param, error) {
	if strings.Contains(field, "=") {
		kv := strings.SplitN(field, "=", 2)
		letter := strings.ToUpper(strings.TrimSpace(kv[0]))
		if letter == "" {
			return Param{}, fmt.Errorf("gcode: empty parameter name in %q", field)
		}
		raw := strings.TrimSpace(kv[1])
		return paramFromRaw(letter, raw), nil
	}
	if len(field) == 1 {
		return Param{Letter: strings.ToUpper(field), Raw: ""}, nil
	}
	letter := strings.ToUpper(field[:1])
	raw := strings.TrimSpace(field[1:])
	return paramFromRaw(letter, raw), nil
}

func paramFromRaw(letter, raw string) Param {
	if reDeferredExpr.MatchString(raw) {
		return Param{Letter: letter, Raw: raw, Expr: ExprDeferred}
	}
	return Param{Letter: letter, Raw: raw}
}
