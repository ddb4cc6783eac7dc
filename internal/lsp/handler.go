// Package lsp serves .tjir scripts to editors: diagnostics from building
// the unit, semantic highlighting, opcode completion and value types on
// hover.
package lsp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"tracejit/internal/config"
	"tracejit/internal/ir"
)

var log = commonlog.GetLogger("tracejit.lsp")

// SemanticTokenTypes is the token legend advertised to clients.
var SemanticTokenTypes = []string{
	"namespace",
	"type",
	"function",
	"variable",
	"property",
	"keyword",
	"number",
	"operator",
	"macro",
}

// SemanticTokenModifiers is the modifier legend advertised to clients.
var SemanticTokenModifiers = []string{
	"declaration",
	"readonly",
	"defaultLibrary",
}

// ScriptHandler implements the LSP server handlers for IR scripts
type ScriptHandler struct {
	mu       sync.RWMutex
	opts     config.Options
	content  map[string]string
	analyses map[string]*Analysis
}

// NewScriptHandler creates a handler that builds scripts with opts.
func NewScriptHandler(opts config.Options) *ScriptHandler {
	return &ScriptHandler{
		opts:     opts,
		content:  make(map[string]string),
		analyses: make(map[string]*Analysis),
	}
}

// Initialize responds to the client's initialize request and advertises the server's capabilities
func (h *ScriptHandler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initialize")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			CompletionProvider: &protocol.CompletionOptions{
				ResolveProvider: ptrBool(false),
			},
			HoverProvider: ptrBool(true),
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     SemanticTokenTypes,
					TokenModifiers: SemanticTokenModifiers,
				},
				Full: ptrBool(true),
			},
		},
	}, nil
}

func (h *ScriptHandler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	log.Info("initialized")
	return nil
}

func (h *ScriptHandler) Shutdown(ctx *glsp.Context) error {
	log.Info("shutdown")
	return nil
}

func (h *ScriptHandler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// TextDocumentDidOpen handles file open notifications from the editor
func (h *ScriptHandler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	log.Debugf("opened %s", params.TextDocument.URI)

	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}
	a := h.update(path, params.TextDocument.Text)
	sendDiagnosticNotification(ctx, params.TextDocument.URI, a.Diagnostics)
	return nil
}

// TextDocumentDidClose handles file close notifications from the editor
func (h *ScriptHandler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	log.Debugf("closed %s", params.TextDocument.URI)

	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.content, path)
	delete(h.analyses, path)
	return nil
}

// TextDocumentDidChange handles file change notifications from the editor.
// The server asks for full sync, so the last whole-document change wins.
func (h *ScriptHandler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	log.Debugf("changed %s", params.TextDocument.URI)

	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}

	text, ok := "", false
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text, ok = c.Text, true
		case protocol.TextDocumentContentChangeEvent:
			if c.Range == nil {
				text, ok = c.Text, true
			}
		}
	}
	if !ok {
		return nil
	}

	a := h.update(path, text)
	sendDiagnosticNotification(ctx, params.TextDocument.URI, a.Diagnostics)
	return nil
}

// TextDocumentCompletion offers every opcode and directive.
func (h *ScriptHandler) TextDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	var items []protocol.CompletionItem
	opKind := protocol.CompletionItemKindFunction
	for _, op := range ir.Opcodes() {
		items = append(items, protocol.CompletionItem{
			Label: op.String(),
			Kind:  &opKind,
		})
	}
	dirKind := protocol.CompletionItemKindKeyword
	for _, d := range []string{"boundary", "guardfail", "catch", "constrain", "predict"} {
		items = append(items, protocol.CompletionItem{
			Label:      "." + d,
			Kind:       &dirKind,
			InsertText: ptrString(d + "()"),
		})
	}
	return &protocol.CompletionList{
		IsIncomplete: false,
		Items:        items,
	}, nil
}

// TextDocumentHover shows the type the builder gave a value.
func (h *ScriptHandler) TextDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	rawURI := params.TextDocument.URI
	path, err := uriToPath(rawURI)
	if err != nil {
		return nil, err
	}
	a, content, err := h.getOrUpdate(ctx, path, rawURI)
	if err != nil || a.Result == nil {
		return nil, err
	}

	tok, ok := tokenAt(lexScript(path, content), params.Position.Line, params.Position.Character)
	if !ok || tok.Type != symbols["Value"] {
		return nil, nil
	}
	v, ok := a.Result.Values[tok.Value]
	if !ok {
		return nil, nil
	}

	text := fmt.Sprintf("`%s`: %s", tok.Value, v.Type())
	if inst := v.Inst(); inst != nil {
		text += fmt.Sprintf("\n\n```\n%s\n```", inst)
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}, nil
}

// TextDocumentSemanticTokensFull handles semantic token requests for the entire document
func (h *ScriptHandler) TextDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	rawURI := params.TextDocument.URI

	path, err := uriToPath(rawURI)
	if err != nil {
		return nil, err
	}

	_, content, err := h.getOrUpdate(ctx, path, rawURI)
	if err != nil {
		return nil, err
	}

	tokens := collectSemanticTokens(path, content)

	var data []uint32
	var prevLine, prevStart uint32

	// Encode tokens into LSP wire format (using delta-line, delta-start compression)
	for _, token := range tokens {
		deltaLine := token.Line - prevLine
		var deltaStart uint32
		if deltaLine == 0 {
			deltaStart = token.StartChar - prevStart
		} else {
			deltaStart = token.StartChar
		}

		data = append(data, deltaLine, deltaStart, token.Length, uint32(token.TokenType), uint32(token.TokenModifiers))

		prevLine = token.Line
		prevStart = token.StartChar
	}

	return &protocol.SemanticTokens{
		Data: data,
	}, nil
}

// getOrUpdate returns the analysis of an open document, or reads and
// analyzes the file when the editor never opened it.
func (h *ScriptHandler) getOrUpdate(ctx *glsp.Context, path string, rawURI protocol.DocumentUri) (*Analysis, string, error) {
	h.mu.RLock()
	a, ok := h.analyses[path]
	content := h.content[path]
	h.mu.RUnlock()
	if ok {
		return a, content, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	content = string(data)
	a = h.update(path, content)
	if a.Diagnostics != nil {
		sendDiagnosticNotification(ctx, rawURI, a.Diagnostics)
	}
	return a, content, nil
}

func (h *ScriptHandler) update(path, content string) *Analysis {
	a := Analyze(path, content, h.opts)

	h.mu.Lock()
	h.content[path] = content
	h.analyses[path] = a
	h.mu.Unlock()

	log.Debugf("analyzed %s: %d diagnostics", path, len(a.Diagnostics))
	return a
}

// Convert URI to platform-local file path
func uriToPath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("invalid URI %s: %w", rawURI, err)
	}

	path := u.Path

	// On Windows, remove leading slash (e.g., /C:/...) -> C:/...
	if runtime.GOOS == "windows" && strings.HasPrefix(path, "/") && len(path) > 3 && path[2] == ':' {
		path = path[1:]
	}

	return filepath.FromSlash(path), nil
}

// sendDiagnosticNotification publishes diagnostics for uri. An empty list
// clears the editor's markers.
func sendDiagnosticNotification(ctx *glsp.Context, uri protocol.URI, diagnostics []protocol.Diagnostic) {
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}
	log.Debugf("publishing %d diagnostics for %s", len(diagnostics), uri)

	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func ptrBool(b bool) *bool {
	return &b
}

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}
