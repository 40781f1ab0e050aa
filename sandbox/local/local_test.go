package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/vybe/sandbox"
)

func newTestProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	p := New(t.TempDir(), time.Hour, opts...)
	t.Cleanup(p.Close)
	return p
}

func TestRunCommandCapturesStreams(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	h, err := p.Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.RunCommand(ctx, h, "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.Stdout != "out\n" || res.Stderr != "err\n" || res.ExitCode != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestWriteReadFile(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	h, _ := p.Create(ctx, "")

	if err := p.WriteFile(ctx, h, "app/page.tsx", []byte("export default 1")); err != nil {
		t.Fatal(err)
	}
	got, err := p.ReadFile(ctx, h, "app/page.tsx")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "export default 1" {
		t.Errorf("read %q", got)
	}

	_, err = p.ReadFile(ctx, h, "missing.txt")
	if !sandbox.IsFileNotFound(err) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestPathsStayInsideWorkspace(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	h, _ := p.Create(ctx, "")

	if err := p.WriteFile(ctx, h, "../../escape.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.root, "escape.txt")); !os.IsNotExist(err) {
		t.Error("write escaped the workspace")
	}
	if _, err := p.ReadFile(ctx, h, "escape.txt"); err != nil {
		t.Errorf("file should live at workspace root: %v", err)
	}
}

func TestTemplateIsCopied(t *testing.T) {
	templates := t.TempDir()
	os.MkdirAll(filepath.Join(templates, "next"), 0o755)
	os.WriteFile(filepath.Join(templates, "next", "package.json"), []byte("{}"), 0o644)

	p := newTestProvider(t, WithTemplates(templates))
	ctx := context.Background()
	h, err := p.Create(ctx, "next")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := p.ReadFile(ctx, h, "package.json"); err != nil || string(got) != "{}" {
		t.Errorf("template file = %q, %v", got, err)
	}
}

func TestExpiredSandboxIsGone(t *testing.T) {
	p := newTestProvider(t, WithTTL(time.Millisecond))
	ctx := context.Background()
	h, _ := p.Create(ctx, "")

	time.Sleep(5 * time.Millisecond)
	p.evictExpired()

	if _, err := p.Connect(ctx, h.ID); !sandbox.IsGone(err) {
		t.Errorf("Connect after expiry err = %v", err)
	}
	if _, err := p.RunCommand(ctx, h, "true"); !sandbox.IsGone(err) {
		t.Errorf("RunCommand after expiry err = %v", err)
	}
}

func TestEndpointIsDeterministic(t *testing.T) {
	p := newTestProvider(t, WithDomain("preview.test"))
	h := sandbox.Handle{ID: "abc"}
	if got := p.Endpoint(h, 3000); got != "https://3000-abc.preview.test" {
		t.Errorf("got %q", got)
	}
}
