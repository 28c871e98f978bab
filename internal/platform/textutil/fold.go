package textutil

import (
	"strings"

	"golang.org/x/text/width"
)

// FoldWidth converts full-width ASCII and half-width kana to their canonical
// forms so that ｆｉｅｌｄ１ and field1 compare equal.
func FoldWidth(s string) string {
	return width.Fold.String(s)
}

// FoldKana maps katakana runes to their hiragana equivalents. Other runes pass
// through unchanged. Width folding should happen first so half-width katakana
// is widened before conversion.
func FoldKana(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'ァ' && r <= 'ヶ' {
			r -= 'ァ' - 'ぁ'
		}
		b.WriteRune(r)
	}
	return b.String()
}
