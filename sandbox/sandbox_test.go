package sandbox

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
)

func TestHostEndpoint(t *testing.T) {
	h := Handle{ID: "abc123"}
	got := HostEndpoint("sandbox.example.dev", h, 3000)
	if got != "https://3000-abc123.sandbox.example.dev" {
		t.Errorf("got %q", got)
	}
	if again := HostEndpoint("sandbox.example.dev", h, 3000); again != got {
		t.Errorf("endpoint not deterministic: %q vs %q", again, got)
	}
}

func TestHostEndpointLabelFitsDNS(t *testing.T) {
	h := Handle{ID: strings.Repeat("f3", 32)} // full 64-hex container id
	u, err := url.Parse(HostEndpoint("sandbox.example.com", h, 3000))
	if err != nil {
		t.Fatal(err)
	}
	label, domain, _ := strings.Cut(u.Host, ".")
	if len(label) > MaxLabel {
		t.Errorf("label %q is %d chars, max %d", label, len(label), MaxLabel)
	}
	if !strings.HasPrefix(label, "3000-f3f3") || domain != "sandbox.example.com" {
		t.Errorf("host = %q", u.Host)
	}
}

func TestLimitedBuffer(t *testing.T) {
	w := &LimitedBuffer{Limit: 5}
	n, err := w.Write([]byte("hello world"))
	if err != nil || n != 11 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if w.String() != "hello" || !w.Truncated {
		t.Errorf("buffer = %q truncated=%v", w.String(), w.Truncated)
	}
}

func TestErrorClassification(t *testing.T) {
	gone := fmt.Errorf("connect: %w", &NotFoundError{Resource: ResourceSandbox, Name: "sbx"})
	missing := &NotFoundError{Resource: ResourceFile, Name: "a.txt"}
	prov := &ProvisionError{Template: "t", Err: errors.New("quota")}

	tests := []struct {
		err                       error
		gone, fileMissing, lifecy bool
	}{
		{gone, true, false, true},
		{missing, false, true, false},
		{prov, false, false, true},
		{errors.New("other"), false, false, false},
	}
	for _, tt := range tests {
		if IsGone(tt.err) != tt.gone || IsFileNotFound(tt.err) != tt.fileMissing || IsLifecycle(tt.err) != tt.lifecy {
			t.Errorf("%v: gone=%v file=%v lifecycle=%v", tt.err, IsGone(tt.err), IsFileNotFound(tt.err), IsLifecycle(tt.err))
		}
	}
}
