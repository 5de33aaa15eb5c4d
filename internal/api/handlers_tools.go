package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/rustyclaw/rustyclaw/internal/skills"
	"github.com/rustyclaw/rustyclaw/internal/tools"
)

// toolFilePath is where a user-created tool lands on disk. The watcher
// also tracks these files, so edits made directly to disk behave the
// same as API calls.
func (s *Server) toolFilePath(name string) string {
	return filepath.Join(s.skillsDir, name+".md")
}

// writeTool persists and loads a validated tool definition.
func (s *Server) writeTool(req *tools.CreateToolRequest) *apiError {
	content, err := req.SkillFile()
	if err != nil {
		s.logger.Error("render skill file failed", "error", err)
		return internal()
	}
	if err := os.MkdirAll(s.skillsDir, 0o755); err != nil {
		s.logger.Error("create skills dir failed", "error", err)
		return internal()
	}
	path := s.toolFilePath(req.Name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.logger.Error("write skill file failed", "error", err)
		return internal()
	}
	// Load immediately; the watcher's debounce would otherwise leave a
	// window where the new tool is not callable.
	skill, err := skills.ParseFile(path)
	if err != nil {
		return badRequest(err.Error())
	}
	s.skills.Load(skill)
	return nil
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req tools.CreateToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	if _, exists := s.skills.Get(req.Name); exists {
		writeError(w, conflict("A tool with this name already exists"))
		return
	}
	if apiErr := s.writeTool(&req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "name": req.Name})
}

func (s *Server) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req tools.CreateToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	req.Name = name
	if err := req.Validate(); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	if _, exists := s.skills.Get(name); !exists {
		writeError(w, notFound("Tool not found"))
		return
	}
	if apiErr := s.writeTool(&req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "name": name})
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	skill, exists := s.skills.Get(name)
	if !exists {
		writeError(w, notFound("Tool not found"))
		return
	}
	// Remove the backing file, wherever it lives, if the skill has one.
	if skill.SourcePath != "" {
		if err := os.Remove(skill.SourcePath); err != nil && !os.IsNotExist(err) {
			s.logger.Error("remove skill file failed", "path", skill.SourcePath, "error", err)
			writeError(w, internal())
			return
		}
	}
	s.skills.Unload(name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	type toolSummary struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Runtime     string `json:"runtime"`
		Policy      string `json:"policy"`
		Sandbox     bool   `json:"sandbox"`
	}
	var out []toolSummary
	for _, skill := range s.skills.List() {
		out = append(out, toolSummary{
			Name:        skill.Manifest.Name,
			Description: skill.Manifest.Description,
			Runtime:     string(skill.Manifest.Runtime),
			Policy:      skill.Manifest.Policy,
			Sandbox:     skill.Manifest.Sandbox,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out, "total": len(out)})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	skill, ok := s.skills.Get(mux.Vars(r)["name"])
	if !ok {
		writeError(w, notFound("Tool not found"))
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (s *Server) handleValidateTool(w http.ResponseWriter, r *http.Request) {
	var req tools.CreateToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	req.Name = mux.Vars(r)["name"]
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

type testToolRequest struct {
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleTestTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := s.skills.Get(name); !ok {
		writeError(w, notFound("Tool not found"))
		return
	}
	var req testToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	args := string(req.Arguments)
	if args == "" {
		args = "{}"
	}

	result := s.exec.Execute(r.Context(), tools.Call{
		Name:      name,
		Arguments: args,
		SessionID: "tool-test-" + userID(r),
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleToolDefinition(w http.ResponseWriter, r *http.Request) {
	skill, ok := s.skills.Get(mux.Vars(r)["name"])
	if !ok {
		writeError(w, notFound("Tool not found"))
		return
	}
	writeJSON(w, http.StatusOK, skill.Definition())
}

func (s *Server) handleAllDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := s.skills.Definitions()
	if defs == nil {
		defs = []skills.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": defs})
}
