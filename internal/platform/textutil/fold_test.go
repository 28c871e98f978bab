package textutil

import "testing"

func TestFoldWidth(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "full-width ascii", input: "ｆｉｅｌｄ１", want: "field1"},
		{name: "half-width katakana", input: "ﾀﾅｶ", want: "タナカ"},
		{name: "ascii passthrough", input: "field1", want: "field1"},
		{name: "mixed", input: "Ｑ３＿ｎａｍｅ", want: "Q3_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FoldWidth(tt.input); got != tt.want {
				t.Fatalf("FoldWidth(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFoldKana(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "katakana to hiragana", input: "タナカ", want: "たなか"},
		{name: "hiragana passthrough", input: "たなか", want: "たなか"},
		{name: "small kana", input: "チェック", want: "ちぇっく"},
		{name: "kanji untouched", input: "氏名", want: "氏名"},
		{name: "ascii untouched", input: "name", want: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FoldKana(tt.input); got != tt.want {
				t.Fatalf("FoldKana(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
