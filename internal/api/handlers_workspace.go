package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

func (s *Server) handleListWorkspaceFiles(w http.ResponseWriter, r *http.Request) {
	type fileInfo struct {
		Type     string `json:"type"`
		Filename string `json:"filename"`
		Exists   bool   `json:"exists"`
	}
	var files []fileInfo
	for file, exists := range s.workspace.List() {
		files = append(files, fileInfo{Type: string(file), Filename: file.Filename(), Exists: exists})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleGetWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	file, err := workspace.ParseFile(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, badRequest("Unknown workspace file"))
		return
	}
	content, ok := s.workspace.Load(file)
	if !ok {
		writeError(w, notFound("File not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"type":    string(file),
		"content": content,
	})
}

func (s *Server) handlePutWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	file, err := workspace.ParseFile(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, badRequest("Unknown workspace file"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, badRequest("Unreadable body"))
		return
	}
	if err := s.workspace.Save(file, string(body)); err != nil {
		s.logger.Error("save workspace file failed", "file", file, "error", err)
		writeError(w, internal())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "type": string(file)})
}
