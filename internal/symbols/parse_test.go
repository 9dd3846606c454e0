package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgingest/internal/graph"
)

func TestParseFileGoFunctionsAndMethods(t *testing.T) {
	src := []byte(`package demo

import (
	"fmt"
	"os/exec"
)

type Widget struct{}

func (w *Widget) Render() string { return fmt.Sprint("x") }

func NewWidget() *Widget { return &Widget{} }

type Renderer interface {
	Render() string
}
`)
	result, err := ParseFile("go", "demo.go", src)
	require.NoError(t, err)

	var names []string
	for _, s := range result.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "Widget")
	assert.Contains(t, names, "Widget.Render")
	assert.Contains(t, names, "NewWidget")
	assert.Contains(t, names, "Renderer")

	var modules []string
	for _, imp := range result.Imports {
		modules = append(modules, imp.Module)
	}
	assert.Contains(t, modules, "fmt")
	assert.Contains(t, modules, "os/exec")
}

func TestParseFileGoSyntaxErrorIsPerFile(t *testing.T) {
	_, err := ParseFile("go", "bad.go", []byte("package demo\nfunc ( {"))
	require.Error(t, err)
}

func TestParseFileUnsupportedLanguage(t *testing.T) {
	_, err := ParseFile("cobol", "x.cbl", []byte("IDENTIFICATION DIVISION."))
	require.Error(t, err)
}

func TestParseFilePython(t *testing.T) {
	src := []byte("import os\nfrom typing import List\n\nclass Widget:\n    def render(self):\n        pass\n\ndef helper():\n    pass\n")
	result, err := ParseFile("python", "demo.py", src)
	require.NoError(t, err)

	var kinds = map[string]graph.SymbolKind{}
	for _, s := range result.Symbols {
		kinds[s.Name] = s.Kind
	}
	assert.Equal(t, graph.SymbolClass, kinds["Widget"])
}
