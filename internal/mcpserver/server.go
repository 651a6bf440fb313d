// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Threadnote tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/export"
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/recorder"
	"github.com/starford/threadnote/internal/threadsync"
)

const threadsResourceURI = "threadnote://threads"

// Server wraps the MCP server with Threadnote tools.
type Server struct {
	mcp *server.MCPServer
	svc *threadsync.Service
	rec *recorder.Service
}

// New creates a new MCP server with all Threadnote tools registered.
// rec may be nil, in which case transcribe_audio reports that transcription
// is not configured.
func New(svc *threadsync.Service, rec *recorder.Service) *Server {
	s := &Server{svc: svc, rec: rec}

	s.mcp = server.NewMCPServer(
		"Threadnote",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_threads",
		mcp.WithDescription("List all threads, most recently updated first."),
	), s.listThreads)

	s.mcp.AddTool(mcp.NewTool("get_thread",
		mcp.WithDescription("Get a thread with its generated title, description, tags and follow-up questions."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	), s.getThread)

	s.mcp.AddTool(mcp.NewTool("get_thread_notes",
		mcp.WithDescription("Get every note of a thread in creation order. "+
			"Notes with is_prompt=true hold generated follow-up questions."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	), s.getThreadNotes)

	s.mcp.AddTool(mcp.NewTool("create_thread",
		mcp.WithDescription("Create a thread. With content, the thread starts with that note "+
			"and its metadata is generated in the background."),
		mcp.WithString("content", mcp.Description("Optional first note")),
		mcp.WithString("type", mcp.Description("Note type: text (default) or audio")),
	), s.createThread)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a note to an existing thread."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note content")),
		mcp.WithString("type", mcp.Description("Note type: text (default) or audio")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("enrich_thread",
		mcp.WithDescription("Regenerate a thread's title, description, tags and follow-up "+
			"questions now and return the updated thread."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	), s.enrichThread)

	s.mcp.AddTool(mcp.NewTool("export_thread",
		mcp.WithDescription("Export a thread with all its notes as Markdown (default) or HTML."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
		mcp.WithString("format", mcp.Description("md or html")),
	), s.exportThread)

	s.mcp.AddTool(mcp.NewTool("transcribe_audio",
		mcp.WithDescription("Transcribe an audio recording into a voice note. "+
			"Accepts a base64 data URI (data:audio/wav;base64,...) or an http(s) URL."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Data URI or URL of the recording")),
		mcp.WithString("thread_id", mcp.Description("Thread to append to; empty starts a new thread")),
	), s.transcribeAudio)

	s.mcp.AddResource(
		mcp.NewResource(threadsResourceURI, "Threads",
			mcp.WithResourceDescription("All threads, most recently updated first."),
			mcp.WithMIMEType("application/json"),
		),
		s.readThreadsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func (s *Server) listThreads(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threads, err := s.svc.ListThreads(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(threads)
}

func (s *Server) getThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	thread, err := s.svc.GetThread(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(thread)
}

func (s *Server) getThreadNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.ThreadNotes(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(notes)
}

func (s *Server) createThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := optionalString(req, "content")
	noteType := models.NoteType(optionalString(req, "type"))

	var (
		id  string
		err error
	)
	if content == "" && noteType == "" {
		id, err = s.svc.CreateEmptyThread(ctx)
	} else {
		id, err = s.svc.CreateThread(ctx, models.NoteInput{Content: content, Type: noteType})
	}
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", id)), nil
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := models.NoteInput{Content: content, Type: models.NoteType(optionalString(req, "type"))}

	noteID, err := s.svc.AddNoteToThread(ctx, id, in)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added: %s", noteID)), nil
}

func (s *Server) enrichThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.GetThread(ctx, id); err != nil {
		return errorResult(err), nil
	}
	if err := s.svc.Enrich(ctx, id); err != nil {
		if errors.Is(err, threadsync.ErrNothingToEnrich) {
			return mcp.NewToolResultError("thread has no notes to enrich"), nil
		}
		return errorResult(err), nil
	}
	thread, err := s.svc.GetThread(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(thread)
}

func (s *Server) exportThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format := optionalString(req, "format")
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "html" {
		return mcp.NewToolResultError("format must be md or html"), nil
	}

	thread, err := s.svc.GetThread(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	notes, err := s.svc.ThreadNotes(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}

	var out []byte
	if format == "html" {
		out, err = export.HTML(thread, notes)
	} else {
		out, err = export.Markdown(thread, notes)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readThreadsResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	threads, err := s.svc.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(threads, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      threadsResourceURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
