package sandbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory Backend for tests.
type fakeBackend struct {
	mu         sync.Mutex
	nextID     int
	containers map[string]ContainerInfo // id → info
	started    map[string]bool
	execResult ExecResult
	execErr    error
	execCalls  [][]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		containers: make(map[string]ContainerInfo),
		started:    make(map[string]bool),
		execResult: ExecResult{Stdout: "ok", ExitCode: 0},
	}
}

func (f *fakeBackend) CreateContainer(ctx context.Context, name string, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	labels := make(map[string]string, len(spec.Labels))
	for k, v := range spec.Labels {
		labels[k] = v
	}
	f.containers[id] = ContainerInfo{ID: id, Name: name, Labels: labels}
	return id, nil
}

func (f *fakeBackend) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[id] = true
	return nil
}

func (f *fakeBackend) ContainerExists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[id]
	return ok, nil
}

func (f *fakeBackend) Exec(ctx context.Context, id string, argv []string) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, argv)
	return f.execResult, f.execErr
}

func (f *fakeBackend) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *fakeBackend) ListContainers(ctx context.Context, labelKey string) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for _, info := range f.containers {
		if _, ok := info.Labels[labelKey]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func testConfig(t *testing.T, mode Mode) Config {
	return Config{
		Mode:      mode,
		Scope:     ScopeSession,
		Workspace: WorkspaceNone,
		Image:     "debian:bookworm-slim",
		BaseDir:   t.TempDir(),
		AgentDir:  t.TempDir(),
	}
}

func TestModeMatrix(t *testing.T) {
	cases := []struct {
		mode   Mode
		isMain bool
		want   bool
	}{
		{ModeOff, true, false},
		{ModeOff, false, false},
		{ModeNonMain, true, false},
		{ModeNonMain, false, true},
		{ModeAll, true, true},
		{ModeAll, false, true},
	}
	for _, tc := range cases {
		got := SecurityPolicy{Mode: tc.mode}.ShouldSandbox(tc.isMain)
		if got != tc.want {
			t.Errorf("mode %s, main=%v: ShouldSandbox = %v, want %v", tc.mode, tc.isMain, got, tc.want)
		}
	}
}

func TestExecuteOnHostForMainSession(t *testing.T) {
	backend := newFakeBackend()
	m, err := NewManager(backend, testConfig(t, ModeNonMain), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	result, err := m.Execute(context.Background(), "main-session", true, []string{"/bin/echo", "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Stdout != "hi\n" || result.ExitCode != 0 {
		t.Errorf("host exec result = %+v", result)
	}
	if backend.count() != 0 {
		t.Errorf("host path created %d containers", backend.count())
	}
}

func TestExecuteSandboxedCachesContainer(t *testing.T) {
	backend := newFakeBackend()
	m, err := NewManager(backend, testConfig(t, ModeNonMain), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := m.Execute(ctx, "sess-1", false, []string{"true"}); err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
	}
	if backend.count() != 1 {
		t.Errorf("container count = %d, want 1 (cache exclusivity)", backend.count())
	}
	if len(m.List()) != 1 {
		t.Errorf("cache entries = %d, want 1", len(m.List()))
	}
}

func TestExecuteRecreatesVanishedContainer(t *testing.T) {
	backend := newFakeBackend()
	m, err := NewManager(backend, testConfig(t, ModeAll), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	if _, err := m.Execute(ctx, "sess-1", false, []string{"true"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	first := m.List()[0].ID

	// Simulate the container disappearing underneath the cache.
	if err := backend.RemoveContainer(ctx, first); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}

	if _, err := m.Execute(ctx, "sess-1", false, []string{"true"}); err != nil {
		t.Fatalf("Execute after disappearance: %v", err)
	}
	metas := m.List()
	if len(metas) != 1 {
		t.Fatalf("cache entries = %d, want 1", len(metas))
	}
	if metas[0].ID == first {
		t.Error("cache still holds the vanished container id")
	}
}

func TestSharedScopeUsesOneContainer(t *testing.T) {
	cfg := testConfig(t, ModeAll)
	cfg.Scope = ScopeShared
	backend := newFakeBackend()
	m, err := NewManager(backend, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	for _, session := range []string{"a", "b", "c"} {
		if _, err := m.Execute(ctx, session, false, []string{"true"}); err != nil {
			t.Fatalf("Execute(%s): %v", session, err)
		}
	}
	if backend.count() != 1 {
		t.Errorf("shared scope created %d containers, want 1", backend.count())
	}
	if m.List()[0].ScopeID != "shared" {
		t.Errorf("scope id = %q, want shared", m.List()[0].ScopeID)
	}
}

func TestRecoverRepopulatesCache(t *testing.T) {
	cfg := testConfig(t, ModeAll)
	backend := newFakeBackend()

	m1, err := NewManager(backend, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if _, err := m1.Execute(ctx, "sess-1", false, []string{"true"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// A fresh manager over the same backend recovers the container.
	m2, err := NewManager(backend, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m2.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	metas := m2.List()
	if len(metas) != 1 || metas[0].ScopeID != "sess-1" {
		t.Errorf("recovered cache = %+v", metas)
	}

	// Reusing the scope must not create a second container.
	if _, err := m2.Execute(ctx, "sess-1", false, []string{"true"}); err != nil {
		t.Fatalf("Execute after Recover: %v", err)
	}
	if backend.count() != 1 {
		t.Errorf("container count after recover+execute = %d, want 1", backend.count())
	}
}

func TestPruneRemovesIdleAndAged(t *testing.T) {
	cfg := testConfig(t, ModeAll)
	backend := newFakeBackend()
	m, err := NewManager(backend, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	for _, session := range []string{"idle", "aged", "fresh"} {
		cfg2 := session // create distinct sessions
		if _, err := m.Execute(ctx, cfg2, false, []string{"true"}); err != nil {
			t.Fatalf("Execute(%s): %v", session, err)
		}
	}

	// Backdate metadata directly: one idle, one aged, one fresh.
	m.mu.Lock()
	m.containers["idle"].LastUsed = time.Now().Add(-25 * time.Hour)
	m.containers["aged"].CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	m.mu.Unlock()

	pruner := NewPruner(m, DefaultPruningConfig(), nil)
	if err := pruner.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	metas := m.List()
	if len(metas) != 1 || metas[0].ScopeID != "fresh" {
		t.Errorf("cache after prune = %+v, want only fresh", metas)
	}
	if backend.count() != 1 {
		t.Errorf("backend containers after prune = %d, want 1", backend.count())
	}
}

func TestManagerRequiresBackendWhenSandboxing(t *testing.T) {
	if _, err := NewManager(nil, Config{Mode: ModeAll}, nil); err == nil {
		t.Error("NewManager accepted nil backend with mode=all")
	}
	m, err := NewManager(nil, Config{Mode: ModeOff}, nil)
	if err != nil {
		t.Fatalf("NewManager(off): %v", err)
	}
	if m.Available() {
		t.Error("Available = true with no backend")
	}
	// Off mode still executes on the host.
	result, err := m.Execute(context.Background(), "s", false, []string{"/bin/echo", "host"})
	if err != nil || result.Stdout != "host\n" {
		t.Errorf("off-mode Execute = %+v, %v", result, err)
	}
}
