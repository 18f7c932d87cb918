package exec

import (
	"errors"
	"testing"
)

func TestLanguageForPath(t *testing.T) {
	cases := map[string]Language{
		"main.py":          LangPython,
		"src/app.js":       LangJavaScript,
		"lib/types.TS":     LangTypeScript,
		"Main.java":        LangJava,
		"a/b/hello.c":      LangC,
		"algo.cpp":         LangCPP,
		"archive.tar.py":   LangPython,
		"dir.js/notes.cpp": LangCPP,
	}
	for p, want := range cases {
		got, ok := LanguageForPath(p)
		if !ok || got != want {
			t.Fatalf("LanguageForPath(%q) = %q, %v; want %q", p, got, ok, want)
		}
	}
	for _, p := range []string{"README.md", "index.html", "Makefile", "style.css", ""} {
		if _, ok := LanguageForPath(p); ok {
			t.Fatalf("%q should not be runnable", p)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	if lang, err := ParseLanguage(" CPP "); err != nil || lang != LangCPP {
		t.Fatalf("expected cpp, got %q err=%v", lang, err)
	}
	if _, err := ParseLanguage("python"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	for lang := range toolchains {
		if _, err := ParseLanguage(string(lang)); err != nil {
			t.Fatalf("toolchain %q should parse: %v", lang, err)
		}
	}
}
