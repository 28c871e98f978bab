package fieldmap

import (
	"regexp"
	"strings"

	"github.com/tegaki-forms/api/internal/platform/textutil"
)

var (
	bracketSuffixPattern = regexp.MustCompile(`\[\d+\]$`)
	copySuffixPattern    = regexp.MustCompile(`[_-]\d+$`)
	numberedKeyPattern   = regexp.MustCompile(`^(q|question|no|field|item|設問|問|質問)(\d+)$`)
)

// Canonical folds a key or field name into the form used for matching:
// width fold (ｆｉｅｌｄ１ == field1), lower case, katakana to hiragana,
// and separator removal. Two names compare equal when their canonical
// forms are byte-equal.
func Canonical(s string) string {
	s = textutil.FoldWidth(s)
	s = strings.ToLower(s)
	s = textutil.FoldKana(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '_', '-', '.', '・', '／', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Stem canonicalises after stripping the copy suffixes PDF authoring tools
// append to duplicated fields: [0], _1, -2, and a trailing 欄 label marker.
func Stem(s string) string {
	s = textutil.FoldWidth(s)
	s = strings.ToLower(s)
	s = bracketSuffixPattern.ReplaceAllString(s, "")
	s = copySuffixPattern.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "欄")
	return Canonical(s)
}

// numberedKey extracts the ordinal from keys shaped like question3, Q3,
// 設問３. The canonical form must be computed first so width and case
// variants collapse.
func numberedKey(canonical string) (string, bool) {
	m := numberedKeyPattern.FindStringSubmatch(canonical)
	if m == nil {
		return "", false
	}
	return m[2], true
}
