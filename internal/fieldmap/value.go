package fieldmap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// checkbox vocabularies in canonical form: チェック folds to ちぇっく and the
// レ check mark to れ, so the katakana spellings match without own entries.
var (
	truthyValues = map[string]struct{}{
		"true": {}, "yes": {}, "on": {}, "1": {}, "y": {},
		"はい": {}, "有": {}, "あり": {}, "済": {}, "ちぇっく": {},
		"○": {}, "◯": {}, "れ": {},
	}
	falsyValues = map[string]struct{}{
		"false": {}, "no": {}, "off": {}, "0": {}, "n": {},
		"いいえ": {}, "無": {}, "なし": {}, "未": {}, "×": {}, "": {},
	}
)

// ParseBool interprets the yes/no vocabulary used by form submitters.
// The second return value is false when the input is not recognisably
// boolean in either language.
func ParseBool(value string) (bool, bool) {
	c := Canonical(value)
	if _, ok := truthyValues[c]; ok {
		return true, true
	}
	if _, ok := falsyValues[c]; ok {
		return false, true
	}
	return false, false
}

// SplitList breaks a multi-select value on ASCII and ideographic separators.
// Empty tokens are dropped.
func SplitList(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '、' || r == '，' || r == ';' || r == '；'
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// isListValue reports whether the value carries a separator that suggests a
// multi-select submission.
func isListValue(value string) bool {
	return strings.ContainsAny(value, ",、，;；")
}

// NormalizeInput coerces the decoded JSON payload (string | number | bool)
// into the string map the resolver consumes. Unsupported value types are
// rejected so the caller can return a 400.
func NormalizeInput(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = strings.TrimSpace(v)
		case bool:
			out[key] = strconv.FormatBool(v)
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1e15 {
				out[key] = strconv.FormatInt(int64(v), 10)
			} else {
				out[key] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		case nil:
			out[key] = ""
		default:
			return nil, fmt.Errorf("field %q: unsupported value type %T", key, value)
		}
	}
	return out, nil
}
