package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Memory manages the two memory tiers kept alongside the workspace:
// daily logs (memory/YYYY-MM-DD.md) and the curated MEMORY.md file.
type Memory struct {
	workspacePath string
}

// NewMemory creates a memory manager for the given workspace path.
func NewMemory(workspacePath string) *Memory {
	return &Memory{workspacePath: workspacePath}
}

func (m *Memory) memoryDir() string {
	return filepath.Join(m.workspacePath, "memory")
}

func (m *Memory) todayLogPath(now time.Time) string {
	return filepath.Join(m.memoryDir(), now.Format("2006-01-02")+".md")
}

func (m *Memory) curatedPath() string {
	return filepath.Join(m.workspacePath, "MEMORY.md")
}

// TodayLog returns today's log content; empty if none exists.
func (m *Memory) TodayLog() (string, error) {
	data, err := os.ReadFile(m.todayLogPath(time.Now()))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read daily log: %w", err)
	}
	return string(data), nil
}

// Append adds a timestamped entry to today's log.
func (m *Memory) Append(content string) error {
	if err := os.MkdirAll(m.memoryDir(), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	now := time.Now()
	entry := fmt.Sprintf("- %s %s\n", now.Format("15:04:05"), strings.TrimSpace(content))

	f, err := os.OpenFile(m.todayLogPath(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daily log: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(entry)
	return err
}

// Curated returns the long-term MEMORY.md content, if present.
func (m *Memory) Curated() (string, bool) {
	data, err := os.ReadFile(m.curatedPath())
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Search scans all memory files for lines containing the query,
// case-insensitively. Results carry the source file's base name.
func (m *Memory) Search(query string) ([]string, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	var matches []string
	scan := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable files are skipped
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), query) {
				matches = append(matches, fmt.Sprintf("%s: %s", filepath.Base(path), strings.TrimSpace(line)))
			}
		}
		return nil
	}

	if _, err := os.Stat(m.curatedPath()); err == nil {
		_ = scan(m.curatedPath())
	}
	entries, err := os.ReadDir(m.memoryDir())
	if os.IsNotExist(err) {
		return matches, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		_ = scan(filepath.Join(m.memoryDir(), entry.Name()))
	}
	return matches, nil
}
