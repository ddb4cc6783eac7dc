package lsp_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"tracejit/internal/config"
	"tracejit/internal/lsp"
)

func fileURI(t *testing.T, name string) string {
	t.Helper()
	absPath, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err, "Failed to get absolute path")
	return "file://" + filepath.ToSlash(absPath)
}

// recorder captures the diagnostics a handler publishes.
type recorder struct {
	published []*protocol.PublishDiagnosticsParams
}

func (r *recorder) context() *glsp.Context {
	return &glsp.Context{
		Notify: func(method string, params any) {
			if method == protocol.ServerTextDocumentPublishDiagnostics {
				r.published = append(r.published, params.(*protocol.PublishDiagnosticsParams))
			}
		},
	}
}

func TestTextDocumentSemanticTokensFull(t *testing.T) {
	handler := lsp.NewScriptHandler(config.Default())

	ctx := &glsp.Context{}
	params := &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{
			URI: fileURI(t, "simple.tjir"),
		},
	}

	tokens, err := handler.TextDocumentSemanticTokensFull(ctx, params)
	require.NoError(t, err, "TextDocumentSemanticTokensFull returned error")
	require.NotNil(t, tokens, "Returned tokens should not be nil")

	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err, "Failed to decode semantic tokens")

	want := []DecodedToken{
		{Line: 1, Char: 1, Length: 4, Type: "keyword"},
		{Line: 1, Char: 6, Length: 1, Type: "number"},
		{Line: 1, Char: 10, Length: 1, Type: "number"},
		{Line: 2, Char: 3, Length: 5, Type: "keyword"},
		{Line: 2, Char: 9, Length: 5, Type: "namespace", Modifiers: []string{"declaration"}},
		{Line: 3, Char: 5, Length: 2, Type: "variable", Modifiers: []string{"declaration"}},
		{Line: 3, Char: 10, Length: 5, Type: "function"},
		{Line: 3, Char: 16, Length: 3, Type: "type"},
		{Line: 3, Char: 21, Length: 3, Type: "property"},
		{Line: 3, Char: 25, Length: 1, Type: "number"},
		{Line: 4, Char: 5, Length: 4, Type: "function"},
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Errorf("semantic tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestSemanticTokensMarkBlockReferences(t *testing.T) {
	handler := lsp.NewScriptHandler(config.Default())

	tokens, err := handler.TextDocumentSemanticTokensFull(&glsp.Context{}, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: fileURI(t, "loop.tjir")},
	})
	require.NoError(t, err)
	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err)

	var refs, decls []string
	for _, tok := range decoded {
		if tok.Type != "namespace" {
			continue
		}
		at := fmt.Sprintf("%d:%d", tok.Line, tok.Char)
		if len(tok.Modifiers) > 0 {
			decls = append(decls, at)
		} else {
			refs = append(refs, at)
		}
	}
	assert.Equal(t, []string{"3:9", "9:9", "15:9", "21:9"}, decls)
	assert.Equal(t, []string{"6:18", "9:32", "12:23", "18:24"}, refs)
}

func TestDidOpenPublishesDiagnostics(t *testing.T) {
	handler := lsp.NewScriptHandler(config.Default())
	rec := &recorder{}
	uri := "file:///tmp/broken.tjir"

	err := handler.TextDocumentDidOpen(rec.context(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:  uri,
			Text: "unit 1 @ 0 {\n  block entry {\n    StLoc[loc 0](%missing)\n    Halt\n  }\n}\n",
		},
	})
	require.NoError(t, err)
	require.Len(t, rec.published, 1)
	require.Len(t, rec.published[0].Diagnostics, 1)

	d := rec.published[0].Diagnostics[0]
	assert.Equal(t, uint32(2), d.Range.Start.Line)
	assert.Equal(t, protocol.DiagnosticSeverityError, *d.Severity)
	assert.Equal(t, "E0101", d.Code.Value)

	// Fixing the script clears the markers.
	err = handler.TextDocumentDidChange(rec.context(), &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
		},
		ContentChanges: []any{
			protocol.TextDocumentContentChangeEventWhole{
				Text: "unit 1 @ 0 {\n  block entry {\n    StLoc[loc 0](1)\n    Halt\n  }\n}\n",
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rec.published, 2)
	assert.Empty(t, rec.published[1].Diagnostics)
}

func TestAnalyzeReportsWarnings(t *testing.T) {
	src := "unit 1 @ 0 {\n  block entry next taken {\n    %c = LtInt(1, 2)\n    JmpNZero(%c) -> taken\n  }\n" +
		"  block other {\n    Halt\n  }\n  block taken {\n    Halt\n  }\n}\n"
	a := lsp.Analyze("warn.tjir", src, config.Default())

	require.NotNil(t, a.Result)
	require.Len(t, a.Diagnostics, 1)
	d := a.Diagnostics[0]
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *d.Severity)
	assert.Equal(t, uint32(5), d.Range.Start.Line)
}

func TestAnalyzeSyntaxError(t *testing.T) {
	a := lsp.Analyze("bad.tjir", "unit 1 @ {\n}\n", config.Default())

	assert.Nil(t, a.Script)
	require.Len(t, a.Diagnostics, 1)
	assert.Equal(t, "E0100", a.Diagnostics[0].Code.Value)
	assert.Equal(t, "tracejit", *a.Diagnostics[0].Source)
}

func TestHoverShowsValueType(t *testing.T) {
	handler := lsp.NewScriptHandler(config.Default())

	hover, err := handler.TextDocumentHover(&glsp.Context{}, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: fileURI(t, "loop.tjir")},
			Position:     protocol.Position{Line: 4, Character: 6},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, hover)

	content, ok := hover.Contents.(protocol.MarkupContent)
	require.True(t, ok)
	assert.Contains(t, content.Value, "`%bound`: Int")

	hover, err = handler.TextDocumentHover(&glsp.Context{}, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: fileURI(t, "loop.tjir")},
			Position:     protocol.Position{Line: 4, Character: 15},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, hover, "opcodes have no hover")
}

func TestCompletionListsOpcodes(t *testing.T) {
	handler := lsp.NewScriptHandler(config.Default())

	result, err := handler.TextDocumentCompletion(&glsp.Context{}, &protocol.CompletionParams{})
	require.NoError(t, err)
	list, ok := result.(*protocol.CompletionList)
	require.True(t, ok)

	var labels []string
	for _, item := range list.Items {
		labels = append(labels, item.Label)
	}
	assert.Contains(t, labels, "CheckLoc")
	assert.Contains(t, labels, "DefLabel")
	assert.Contains(t, labels, ".boundary")
}

type DecodedToken struct {
	Line      uint32
	Char      uint32
	Length    uint32
	Type      string
	Modifiers []string
}

func decodeSemanticTokens(raw []uint32) ([]DecodedToken, error) {
	if len(raw)%5 != 0 {
		return nil, fmt.Errorf("raw token data length %d is not a multiple of 5", len(raw))
	}

	var (
		decoded []DecodedToken
		line    uint32
		char    uint32
	)

	for i := 0; i < len(raw); i += 5 {
		deltaLine := raw[i]
		deltaStart := raw[i+1]
		length := raw[i+2]
		tokenTypeIdx := raw[i+3]
		tokenModMask := raw[i+4]

		if deltaLine == 0 {
			char += deltaStart
		} else {
			line += deltaLine
			char = deltaStart
		}

		var modifiers []string
		for j, name := range lsp.SemanticTokenModifiers {
			if tokenModMask&(1<<j) != 0 {
				modifiers = append(modifiers, name)
			}
		}

		decoded = append(decoded, DecodedToken{
			Line:      line + 1, // LSP uses 0-based indexing
			Char:      char + 1, // LSP uses 0-based indexing
			Length:    length,
			Type:      lsp.SemanticTokenTypes[tokenTypeIdx],
			Modifiers: modifiers,
		})
	}

	return decoded, nil
}
