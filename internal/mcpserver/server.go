// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the document session for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quire/internal/parser"
	"github.com/starford/quire/internal/pathutil"
	"github.com/starford/quire/internal/session"
)

const guideURI = "quire://session-guide"

// Server wraps the MCP server with document tools.
type Server struct {
	mcp  *server.MCPServer
	sess *session.Session
}

// New creates a new MCP server with all document tools registered.
func New(sess *session.Session, version string) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"Quire",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List open documents with their kind, modified flag and a short summary."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the buffer of an open document."),
		mcp.WithString("path", mcp.Description("Document path; the current document when empty")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("open_document",
		mcp.WithDescription("Open a file and make it current. An already open file is only switched to."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path or path relative to the workspace")),
	), s.openDocument)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a temporary document. Read the session guide first via "+
			"the get_session_guide tool or the "+guideURI+" resource."),
		mcp.WithString("name", mcp.Description("Preferred name; made unique among open documents")),
		mcp.WithString("content", mcp.Description("Initial buffer")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("update_document",
		mcp.WithDescription("Replace the buffer of an open document. Nothing is written to disk."),
		mcp.WithString("path", mcp.Description("Document path; the current document when empty")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New buffer")),
	), s.updateDocument)

	s.mcp.AddTool(mcp.NewTool("save_document",
		mcp.WithDescription("Write a document to disk. Temporary documents require a target."),
		mcp.WithString("path", mcp.Description("Document path; the current document when empty")),
		mcp.WithString("target", mcp.Description("File to save to; defaults to the document's own file")),
	), s.saveDocument)

	s.mcp.AddTool(mcp.NewTool("close_document",
		mcp.WithDescription("Close an open document without saving it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
	), s.closeDocument)

	s.mcp.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List a directory; the workspace root when empty."),
		mcp.WithString("path", mcp.Description("Directory path")),
	), s.listDirectory)

	s.mcp.AddTool(mcp.NewTool("get_session_guide",
		mcp.WithDescription("Returns how documents move through a Quire session."),
	), s.getSessionGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Session Guide",
			mcp.WithResourceDescription("Document kinds, lifecycle and saving rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// Serve runs the MCP protocol over in and out until ctx is cancelled or
// in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)) {
		return nil
	}
	return err
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type listedDocument struct {
	Path     string         `json:"path"`
	Kind     session.Kind   `json:"kind"`
	Modified bool           `json:"isModified"`
	Current  bool           `json:"current"`
	Summary  parser.Summary `json:"summary"`
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	current := s.sess.CurrentPath()
	docs := s.sess.Documents()
	out := make([]listedDocument, len(docs))
	for i, d := range docs {
		out[i] = listedDocument{
			Path:     d.Path,
			Kind:     d.Kind,
			Modified: d.Modified,
			Current:  d.Path == current,
			Summary:  parser.Summarize(d.Name, d.Content),
		}
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

// document resolves the optional path argument to an open document.
func (s *Server) document(req mcp.CallToolRequest) (session.Document, error) {
	path := req.GetString("path", "")
	if path == "" {
		d, ok := s.sess.Current()
		if !ok {
			return session.Document{}, fmt.Errorf("no document is open")
		}
		return d, nil
	}
	d, ok := s.sess.Get(path)
	if !ok {
		return session.Document{}, fmt.Errorf("not open: %s", path)
	}
	return d, nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.document(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(d.Content), nil
}

func (s *Server) openDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.sess.Open(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("opened: %s (%s, %s)", d.Path, d.Encoding, d.LineEnding)), nil
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.sess.Create(req.GetString("name", ""), req.GetString("content", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", d.Path)), nil
}

func (s *Server) updateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.document(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changed, err := s.sess.Update(d.Path, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !changed {
		return mcp.NewToolResultText(fmt.Sprintf("unchanged: %s", d.Path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", d.Path)), nil
}

func (s *Server) saveDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.document(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target := req.GetString("target", "")
	// There is nobody to answer a save dialog over stdio.
	if target == "" && pathutil.IsTemp(d.Path) {
		return mcp.NewToolResultError(fmt.Sprintf("target required to save temporary document %s", d.Path)), nil
	}
	saved, err := s.sess.Save(ctx, session.SaveOptions{Document: d.Path, Target: target})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", saved.Path)), nil
}

func (s *Server) closeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.Close(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not open: %s", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("closed: %s", path)), nil
}

func (s *Server) listDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.sess.ListDir(req.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			lines = append(lines, e.Path+"/")
			continue
		}
		lines = append(lines, e.Path)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getSessionGuide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SessionGuide), nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     SessionGuide,
		},
	}, nil
}
