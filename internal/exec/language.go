package exec

import (
	"errors"
	"path"
	"strings"
)

type Language string

const (
	LangPython     Language = "python3"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
)

var ErrUnsupportedLanguage = errors.New("exec: unsupported language")

var extensions = map[string]Language{
	"py":   LangPython,
	"js":   LangJavaScript,
	"ts":   LangTypeScript,
	"java": LangJava,
	"c":    LangC,
	"cpp":  LangCPP,
}

// LanguageForPath maps a file's extension to the language it is run with.
func LanguageForPath(filePath string) (Language, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), "."))
	lang, ok := extensions[ext]
	return lang, ok
}

// ParseLanguage accepts a language name as sent on the wire.
func ParseLanguage(name string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := toolchains[lang]; !ok {
		return "", ErrUnsupportedLanguage
	}
	return lang, nil
}

// toolchain is how a language is built and run inside a container.
type toolchain struct {
	image    string
	fileName string
	cmds     [][]string
}

var toolchains = map[Language]toolchain{
	LangPython: {
		image:    "python:3.11-slim",
		fileName: "main.py",
		cmds:     [][]string{{"python3", "main.py"}},
	},
	LangJavaScript: {
		image:    "node:20-slim",
		fileName: "main.js",
		cmds:     [][]string{{"node", "main.js"}},
	},
	LangTypeScript: {
		image:    "denoland/deno:2.1.4",
		fileName: "main.ts",
		cmds:     [][]string{{"deno", "run", "--no-prompt", "main.ts"}},
	},
	LangJava: {
		image:    "eclipse-temurin:17-jdk",
		fileName: "Main.java",
		cmds:     [][]string{{"javac", "Main.java"}, {"/bin/sh", "-c", "java Main"}},
	},
	LangC: {
		image:    "gcc:13",
		fileName: "main.c",
		cmds:     [][]string{{"gcc", "-O2", "main.c", "-o", "main"}, {"./main"}},
	},
	LangCPP: {
		image:    "gcc:13",
		fileName: "main.cpp",
		cmds:     [][]string{{"g++", "-O2", "-std=c++17", "main.cpp", "-o", "main"}, {"./main"}},
	},
}
