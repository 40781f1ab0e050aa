package codeagent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
	"github.com/nevindra/vybe/sandbox"
	"github.com/nevindra/vybe/sandbox/sandboxtest"
)

// scriptedProvider answers the generation agent from a queue and the title
// and response agents from fixed replies, keyed by system prompt.
type scriptedProvider struct {
	mu       sync.Mutex
	code     []vybe.ChatResponse
	title    vybe.ChatResponse
	titleErr error
	response vybe.ChatResponse
	respErr  error
	calls    map[string]int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req vybe.ChatRequest) (vybe.ChatResponse, error) {
	return p.ChatWithTools(ctx, req, nil)
}

func (p *scriptedProvider) ChatWithTools(_ context.Context, req vybe.ChatRequest, _ []vybe.ToolDefinition) (vybe.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	switch system := req.Messages[0].Content; system {
	case TitlePrompt:
		p.calls["title"]++
		return p.title, p.titleErr
	case ResponsePrompt:
		p.calls["response"]++
		return p.response, p.respErr
	default:
		p.calls["code"]++
		if len(p.code) == 0 {
			return vybe.ChatResponse{Content: "still working"}, nil
		}
		next := p.code[0]
		if len(p.code) > 1 {
			p.code = p.code[1:]
		}
		return next, nil
	}
}

func (p *scriptedProvider) count(agent string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[agent]
}

type memRepo struct {
	mu       sync.Mutex
	messages []vybe.Message
	listErr  error
}

func (r *memRepo) ListMessages(_ context.Context, projectID string) ([]vybe.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []vybe.Message
	for _, m := range r.messages {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) CreateMessage(_ context.Context, m vybe.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *memRepo) assistant() []vybe.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []vybe.Message
	for _, m := range r.messages {
		if m.Role == vybe.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func writeCall(path, content string) vybe.ChatResponse {
	args, _ := json.Marshal(map[string]any{
		"files": []map[string]string{{"path": path, "content": content}},
	})
	return vybe.ChatResponse{ToolCalls: []vybe.ToolCall{{ID: "call-1", Name: "createOrUpdateFiles", Args: args}}}
}

func newJob(input string) vybe.Job {
	return vybe.Job{ID: "job-1", ProjectID: "p1", UserID: "u1", Input: input}
}

func TestRunPersistsResult(t *testing.T) {
	sbx := sandboxtest.New()
	repo := &memRepo{}
	provider := &scriptedProvider{
		code: []vybe.ChatResponse{
			writeCall("app/page.tsx", "export default function Page() {}"),
			{Content: "All done.\n<task_summary>Built a landing page</task_summary>"},
		},
		title:    vybe.ChatResponse{Content: "**Landing Page**"},
		response: vybe.ChatResponse{Content: "I built a landing page for you."},
	}
	r := New(sbx, repo, durable.NewMemoryStore(), provider)

	report, err := r.Run(context.Background(), newJob("make a landing page"))
	if err != nil {
		t.Fatal(err)
	}

	if report.URL != "https://3000-sbx-1.sandbox.test" {
		t.Errorf("url = %q", report.URL)
	}
	if report.Title != ReportTitle || report.Iterations != 2 || report.Failed() {
		t.Errorf("report = %+v", report)
	}
	if report.Files["app/page.tsx"] == "" {
		t.Errorf("files = %v", report.Files)
	}
	if !strings.HasSuffix(report.Summary, vybe.CompletionMarker) {
		t.Errorf("summary = %q", report.Summary)
	}

	saved := repo.assistant()
	if len(saved) != 1 {
		t.Fatalf("saved %d assistant messages, want 1", len(saved))
	}
	m := saved[0]
	if m.Kind != vybe.KindResult || m.Content != "I built a landing page for you." || m.ID != report.MessageID {
		t.Errorf("message = %+v", m)
	}
	if m.Fragment == nil || m.Fragment.Title != "Landing Page" || m.Fragment.SandboxURL != report.URL {
		t.Fatalf("fragment = %+v", m.Fragment)
	}
	if m.Fragment.MessageID != m.ID || len(m.Fragment.Files) != 1 {
		t.Errorf("fragment = %+v", m.Fragment)
	}
	if got := sbx.Files("sbx-1"); len(got) != 1 || got[0] != "app/page.tsx" {
		t.Errorf("sandbox files = %v", got)
	}
}

func TestRunBudgetExhaustedPersistsError(t *testing.T) {
	sbx := sandboxtest.New()
	repo := &memRepo{}
	provider := &scriptedProvider{}
	r := New(sbx, repo, durable.NewMemoryStore(), provider, WithMaxIterations(3))

	report, err := r.Run(context.Background(), newJob("anything"))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Failed() || report.URL != "" || report.Iterations != 3 {
		t.Errorf("report = %+v", report)
	}
	if provider.count("code") != 3 || provider.count("title") != 0 || provider.count("response") != 0 {
		t.Errorf("calls = %v", provider.calls)
	}
	saved := repo.assistant()
	if len(saved) != 1 || saved[0].Kind != vybe.KindError || saved[0].Content != "" || saved[0].Fragment != nil {
		t.Errorf("saved = %+v", saved)
	}
}

func TestRunSummaryWithoutFilesIsError(t *testing.T) {
	repo := &memRepo{}
	provider := &scriptedProvider{code: []vybe.ChatResponse{
		{Content: "<task_summary>Nothing to change</task_summary>"},
	}}
	r := New(sandboxtest.New(), repo, durable.NewMemoryStore(), provider)

	report, err := r.Run(context.Background(), newJob("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Failed() || report.Iterations != 1 {
		t.Errorf("report = %+v", report)
	}
	saved := repo.assistant()
	if len(saved) != 1 || saved[0].Kind != vybe.KindError {
		t.Fatalf("saved = %+v", saved)
	}
	if saved[0].Content != "<task_summary>Nothing to change</task_summary>" {
		t.Errorf("content = %q", saved[0].Content)
	}
}

func TestRunReplaysCompletedSteps(t *testing.T) {
	sbx := sandboxtest.New()
	repo := &memRepo{}
	steps := durable.NewMemoryStore()
	provider := &scriptedProvider{
		code: []vybe.ChatResponse{
			writeCall("app/page.tsx", "x"),
			{Content: "<task_summary>Done</task_summary>"},
		},
		title:    vybe.ChatResponse{Content: "Title"},
		response: vybe.ChatResponse{Content: "Response"},
	}
	r := New(sbx, repo, steps, provider)
	job := newJob("build")

	first, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	calls := provider.count("code") + provider.count("title") + provider.count("response")

	second, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if got := provider.count("code") + provider.count("title") + provider.count("response"); got != calls {
		t.Errorf("provider calls after replay = %d, want %d", got, calls)
	}
	if sbx.Creates != 1 {
		t.Errorf("sandboxes created = %d, want 1", sbx.Creates)
	}
	if len(repo.assistant()) != 1 {
		t.Errorf("saved %d messages, want 1", len(repo.assistant()))
	}
	if second.MessageID != first.MessageID || second.URL != first.URL || second.Files["app/page.tsx"] != "x" {
		t.Errorf("replayed report = %+v, first = %+v", second, first)
	}
}

func TestRunFreshGenerationStartsOver(t *testing.T) {
	sbx := sandboxtest.New()
	steps := durable.NewMemoryStore()
	provider := &scriptedProvider{}
	r := New(sbx, &memRepo{}, steps, provider, WithMaxIterations(1))

	job := newJob("x")
	if _, err := r.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	job.Generation = 1
	if _, err := r.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if sbx.Creates != 2 {
		t.Errorf("sandboxes created = %d, want 2", sbx.Creates)
	}
}

func TestRunFanOutFallsBackIndependently(t *testing.T) {
	repo := &memRepo{}
	provider := &scriptedProvider{
		code: []vybe.ChatResponse{
			writeCall("app/page.tsx", "x"),
			{Content: "<task_summary>Done</task_summary>"},
		},
		titleErr: errors.New("model down"),
		response: vybe.ChatResponse{Content: "Here you go."},
	}
	r := New(sandboxtest.New(), repo, durable.NewMemoryStore(), provider)

	if _, err := r.Run(context.Background(), newJob("x")); err != nil {
		t.Fatal(err)
	}
	m := repo.assistant()[0]
	if m.Fragment.Title != vybe.FallbackTitle {
		t.Errorf("title = %q, want fallback", m.Fragment.Title)
	}
	if m.Content != "Here you go." {
		t.Errorf("content = %q", m.Content)
	}
}

func TestRunResponseWithoutTextFallsBack(t *testing.T) {
	repo := &memRepo{}
	provider := &scriptedProvider{
		code: []vybe.ChatResponse{
			writeCall("app/page.tsx", "x"),
			{Content: "<task_summary>Done</task_summary>"},
		},
		title:    vybe.ChatResponse{Content: "Counter"},
		response: vybe.ChatResponse{ToolCalls: []vybe.ToolCall{{ID: "c", Name: "nope", Args: json.RawMessage(`{}`)}}},
	}
	r := New(sandboxtest.New(), repo, durable.NewMemoryStore(), provider)

	if _, err := r.Run(context.Background(), newJob("x")); err != nil {
		t.Fatal(err)
	}
	m := repo.assistant()[0]
	if m.Content != vybe.FallbackResponse || m.Fragment.Title != "Counter" {
		t.Errorf("message = %+v", m)
	}
}

// gatedSandboxes blocks Create until release is closed.
type gatedSandboxes struct {
	*sandboxtest.Fake
	entered chan struct{}
	release chan struct{}
}

func (g gatedSandboxes) Create(ctx context.Context, template string) (sandbox.Handle, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Fake.Create(ctx, template)
}

func TestRunConcurrentAttemptsCreateOneSandbox(t *testing.T) {
	sbx := gatedSandboxes{Fake: sandboxtest.New(), entered: make(chan struct{}, 2), release: make(chan struct{})}
	repo := &memRepo{}
	provider := &scriptedProvider{
		code: []vybe.ChatResponse{
			writeCall("app/page.tsx", "x"),
			{Content: "<task_summary>Done</task_summary>"},
		},
		title:    vybe.ChatResponse{Content: "Title"},
		response: vybe.ChatResponse{Content: "Response"},
	}
	// One Runner shared by every goroutine of a pool, as cmd/vybe wires it.
	r := New(sbx, repo, durable.NewMemoryStore(), provider, WithOwner("host-pool-1"))
	job := newJob("build")

	first := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), job)
		first <- err
	}()
	<-sbx.entered

	second := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), job)
		second <- err
	}()
	select {
	case err := <-second:
		if !errors.Is(err, durable.ErrStepInFlight) {
			t.Errorf("second attempt err = %v, want ErrStepInFlight", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("second attempt entered the in-flight sandbox step")
	}

	close(sbx.release)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if sbx.Creates != 1 {
		t.Errorf("sandboxes created = %d, want 1", sbx.Creates)
	}
	if len(repo.assistant()) != 1 {
		t.Errorf("saved %d messages, want 1", len(repo.assistant()))
	}
}

type failingSandboxes struct {
	*sandboxtest.Fake
}

func (failingSandboxes) Create(_ context.Context, template string) (sandbox.Handle, error) {
	return sandbox.Handle{}, &sandbox.ProvisionError{Template: template, Err: errors.New("quota exceeded")}
}

func TestRunProvisionFailureIsLifecycleError(t *testing.T) {
	repo := &memRepo{}
	r := New(failingSandboxes{sandboxtest.New()}, repo, durable.NewMemoryStore(), &scriptedProvider{})

	_, err := r.Run(context.Background(), newJob("x"))
	if !sandbox.IsLifecycle(err) {
		t.Fatalf("err = %v, want lifecycle error", err)
	}
	if len(repo.assistant()) != 0 {
		t.Error("no message should be saved")
	}
}

// expiringSandboxes hands out sandboxes that are already gone.
type expiringSandboxes struct {
	*sandboxtest.Fake
}

func (e expiringSandboxes) Create(ctx context.Context, template string) (sandbox.Handle, error) {
	h, err := e.Fake.Create(ctx, template)
	if err != nil {
		return h, err
	}
	return h, e.Fake.Kill(ctx, h.ID)
}

func TestRunSandboxGoneMidRunIsFatal(t *testing.T) {
	repo := &memRepo{}
	provider := &scriptedProvider{code: []vybe.ChatResponse{writeCall("app/page.tsx", "x")}}
	r := New(expiringSandboxes{sandboxtest.New()}, repo, durable.NewMemoryStore(), provider)

	_, err := r.Run(context.Background(), newJob("x"))
	if !sandbox.IsGone(err) {
		t.Fatalf("err = %v, want sandbox gone", err)
	}
	if provider.count("code") != 1 {
		t.Errorf("code calls = %d, want 1", provider.count("code"))
	}
	if len(repo.assistant()) != 0 {
		t.Error("no message should be saved")
	}
}

func TestRunListMessagesError(t *testing.T) {
	repo := &memRepo{listErr: errors.New("db down")}
	r := New(sandboxtest.New(), repo, durable.NewMemoryStore(), &scriptedProvider{})

	_, err := r.Run(context.Background(), newJob("x"))
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("err = %v", err)
	}
}

func TestSeedHistory(t *testing.T) {
	stored := []vybe.Message{
		{Role: vybe.RoleUser, Content: "make a todo app"},
		{Role: vybe.RoleAssistant, Kind: vybe.KindResult, Content: "Here is your todo app"},
		{Role: vybe.RoleUser, Content: "add dark mode"},
	}

	tests := []struct {
		name  string
		msgs  []vybe.Message
		input string
		want  []string
	}{
		{"input already stored", stored, "add dark mode",
			[]string{"user:make a todo app", "assistant:Here is your todo app", "user:add dark mode"}},
		{"input not stored", stored[:2], "add dark mode",
			[]string{"user:make a todo app", "assistant:Here is your todo app", "user:add dark mode"}},
		{"repeated request after answer", stored[:2], "make a todo app",
			[]string{"user:make a todo app", "assistant:Here is your todo app", "user:make a todo app"}},
		{"empty project", nil, "hello", []string{"user:hello"}},
		{"unknown role maps to user", []vybe.Message{{Role: "SYSTEM", Content: "x"}}, "",
			[]string{"user:x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seedHistory(tt.msgs, tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("history = %+v", got)
			}
			for i, m := range got {
				if s := m.Role + ":" + m.Content; s != tt.want[i] {
					t.Errorf("history[%d] = %q, want %q", i, s, tt.want[i])
				}
			}
		})
	}
}

func TestPlainTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Todo App", "Todo App"},
		{"**Todo App**", "Todo App"},
		{"# Weather  Dashboard\n", "Weather Dashboard"},
		{"\"Kanban Board\"", "Kanban Board"},
		{"`Chat` UI", "Chat UI"},
		{"", vybe.FallbackTitle},
		{"   ", vybe.FallbackTitle},
	}
	for _, tt := range tests {
		if got := PlainTitle(tt.in); got != tt.want {
			t.Errorf("PlainTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
