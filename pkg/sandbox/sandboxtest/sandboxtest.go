// Package sandboxtest provides an in-memory fake of the sandbox REST
// service for tests. It records every call and can inject failures.
package sandboxtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Call is one recorded request.
type Call struct {
	Method    string
	Endpoint  string
	SessionID string
	Command   string
	Path      string
}

// Result is what a command produces. ExitCode is only sent to the client
// when the server reports exit codes.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandFunc computes the result of a command run in a session. files is
// the session's file system and may be modified.
type CommandFunc func(command string, files map[string]string) Result

type session struct {
	ended bool
	files map[string]string
}

// Server is a fake sandbox service backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	sessions map[string]*session
	calls    []Call

	failCreate int
	failExec   int
	failWrite  int
	failDelete int

	// NumericIDs makes session ids JSON numbers instead of strings.
	NumericIDs bool
	// ReportExitCodes includes exitCode in execute responses.
	ReportExitCodes bool
	// Command overrides the default command interpreter.
	Command CommandFunc
}

// NewServer starts a fake service. It is closed with t.Cleanup by callers.
func NewServer() *Server {
	s := &Server{sessions: make(map[string]*session), NumericIDs: true}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreate)
	mux.HandleFunc("POST /api/sessions/{id}/end", s.handleEnd)
	mux.HandleFunc("POST /api/execute/{id}", s.handleExecute)
	mux.HandleFunc("GET /api/files/{id}/content", s.handleRead)
	mux.HandleFunc("POST /api/files/{id}/content", s.handleWrite)
	mux.HandleFunc("DELETE /api/files/{id}/content", s.handleDelete)
	mux.HandleFunc("GET /api/files", s.handleList)

	s.Server = httptest.NewServer(mux)
	return s
}

// FailCreate makes the next n session creations return HTTP 500.
func (s *Server) FailCreate(n int) { s.mu.Lock(); s.failCreate = n; s.mu.Unlock() }

// FailExec makes the next n executions return HTTP 500.
func (s *Server) FailExec(n int) { s.mu.Lock(); s.failExec = n; s.mu.Unlock() }

// FailWrite makes the next n file writes return HTTP 500.
func (s *Server) FailWrite(n int) { s.mu.Lock(); s.failWrite = n; s.mu.Unlock() }

// FailDelete makes the next n file deletions return HTTP 500.
func (s *Server) FailDelete(n int) { s.mu.Lock(); s.failDelete = n; s.mu.Unlock() }

// Calls returns a copy of the recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns recorded calls for one endpoint name.
func (s *Server) CallsTo(endpoint string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls.
func (s *Server) ResetCalls() { s.mu.Lock(); s.calls = nil; s.mu.Unlock() }

// ActiveSessions returns the ids of sessions not yet ended.
func (s *Server) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, sess := range s.sessions {
		if !sess.ended {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// File returns the content of path in session id.
func (s *Server) File(id, p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	c, ok := sess.files[p]
	return c, ok
}

func (s *Server) record(c Call) { s.calls = append(s.calls, c) }

func (s *Server) lookup(w http.ResponseWriter, id string) *session {
	sess, ok := s.sessions[id]
	if !ok || sess.ended {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return nil
	}
	return sess
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		UserID int    `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "session_create"})
	if s.failCreate > 0 {
		s.failCreate--
		http.Error(w, `{"error":"injected failure"}`, http.StatusInternalServerError)
		return
	}

	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.sessions[id] = &session{files: make(map[string]string)}

	var idValue any = id
	if s.NumericIDs {
		idValue = s.nextID
	}
	writeJSON(w, map[string]any{"id": idValue, "status": req.Status, "userId": req.UserID})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "session_end", SessionID: id})
	sess := s.lookup(w, id)
	if sess == nil {
		return
	}
	sess.ended = true
	writeJSON(w, map[string]any{"id": id, "status": "ended"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "execute", SessionID: id, Command: req.Command})
	sess := s.lookup(w, id)
	if sess == nil {
		return
	}
	if s.failExec > 0 {
		s.failExec--
		http.Error(w, `{"error":"injected failure"}`, http.StatusInternalServerError)
		return
	}

	run := s.Command
	if run == nil {
		run = DefaultCommand
	}
	res := run(req.Command, sess.files)

	body := map[string]any{"stdout": res.Stdout, "stderr": res.Stderr}
	if s.ReportExitCodes {
		body["exitCode"] = res.ExitCode
	}
	writeJSON(w, body)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p := r.URL.Query().Get("path")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "file_read", SessionID: id, Path: p})
	sess := s.lookup(w, id)
	if sess == nil {
		return
	}
	content, ok := sess.files[p]
	if !ok {
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"content": content})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Path     string `json:"path"`
		Content  string `json:"content"`
		MimeType string `json:"mimeType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "file_write", SessionID: id, Path: req.Path})
	sess := s.lookup(w, id)
	if sess == nil {
		return
	}
	if s.failWrite > 0 {
		s.failWrite--
		http.Error(w, `{"error":"injected failure"}`, http.StatusInternalServerError)
		return
	}
	sess.files[req.Path] = req.Content
	writeJSON(w, map[string]string{"path": req.Path, "mimeType": req.MimeType})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "file_delete", SessionID: id, Path: req.Path})
	sess := s.lookup(w, id)
	if sess == nil {
		return
	}
	if s.failDelete > 0 {
		s.failDelete--
		http.Error(w, `{"error":"injected failure"}`, http.StatusInternalServerError)
		return
	}
	delete(sess.files, req.Path)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Method: r.Method, Endpoint: "file_list", SessionID: id})
	sess := s.lookup(w, id)
	if sess == nil {
		return
	}

	type entry struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"`
	}
	entries := make([]entry, 0, len(sess.files))
	for p := range sess.files {
		entries = append(entries, entry{Name: path.Base(p), Path: p, Type: "file"})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// DefaultCommand understands a handful of commands: pwd, echo, cd, ls and
// running python, node or bash against a file written to the session. Script
// files are interpreted line by line: print(...), console.log(...) and echo
// lines produce output, anything else is ignored.
func DefaultCommand(command string, files map[string]string) Result {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Result{}
	}
	switch fields[0] {
	case "pwd":
		return Result{Stdout: "/workspace\n"}
	case "echo":
		return Result{Stdout: strings.Join(unquoteAll(fields[1:]), " ") + "\n"}
	case "cd":
		return Result{}
	case "ls":
		names := make([]string, 0, len(files))
		for p := range files {
			names = append(names, path.Base(p))
		}
		sort.Strings(names)
		if len(names) == 0 {
			return Result{}
		}
		return Result{Stdout: strings.Join(names, "\n") + "\n"}
	case "python", "python3", "node", "bash", "sh":
		if len(fields) < 2 {
			return Result{Stderr: "missing script", ExitCode: 2}
		}
		p := unquote(fields[1])
		src, ok := files[p]
		if !ok {
			return Result{Stderr: fields[0] + ": can't open file '" + p + "'", ExitCode: 2}
		}
		return interpret(src)
	default:
		return Result{Stderr: fields[0] + ": command not found", ExitCode: 127}
	}
}

func interpret(src string) Result {
	var out, errOut strings.Builder
	code := 0
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
		switch {
		case strings.HasPrefix(line, "print(") && strings.HasSuffix(line, ")"):
			out.WriteString(evalExpr(line[len("print(") : len(line)-1]))
			out.WriteString("\n")
		case strings.HasPrefix(line, "console.log(") && strings.HasSuffix(line, ")"):
			out.WriteString(evalExpr(line[len("console.log(") : len(line)-1]))
			out.WriteString("\n")
		case strings.HasPrefix(line, "echo "):
			out.WriteString(strings.Join(unquoteAll(strings.Fields(line)[1:]), " "))
			out.WriteString("\n")
		case strings.HasPrefix(line, "raise ") || strings.HasPrefix(line, "throw "):
			errOut.WriteString("Error: " + line + "\n")
			code = 1
		}
	}
	return Result{Stdout: out.String(), Stderr: errOut.String(), ExitCode: code}
}

// evalExpr handles quoted strings and integer sums.
func evalExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	if q := unquote(expr); q != expr {
		return q
	}
	sum := 0
	for _, part := range strings.Split(expr, "+") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return expr
		}
		sum += n
	}
	return strconv.Itoa(sum)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func unquoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = unquote(s)
	}
	return out
}
