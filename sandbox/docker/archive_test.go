package docker

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestTarRoundTrip(t *testing.T) {
	r, err := tarFile("/home/user/app/page.tsx", []byte("export default 1"))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)

	tr := tar.NewReader(bytes.NewReader(data))
	hdr, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Name != "home/user/app/page.tsx" {
		t.Errorf("entry name = %q", hdr.Name)
	}

	got, err := untarFile(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "export default 1" {
		t.Errorf("content = %q", got)
	}
}

func TestUntarRejectsDirectory(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "app/", Typeflag: tar.TypeDir, Mode: 0o755})
	tw.Close()

	if _, err := untarFile(&buf); !errors.Is(err, errNotRegular) {
		t.Errorf("err = %v, want errNotRegular", err)
	}
}

func TestAbsResolvesAgainstWorkDir(t *testing.T) {
	p := &Provider{workDir: "/home/user"}
	tests := map[string]string{
		"app/page.tsx":   "/home/user/app/page.tsx",
		"./package.json": "/home/user/package.json",
		"/etc/hosts":     "/etc/hosts",
		"a/../b/./c.txt": "/home/user/b/c.txt",
	}
	for in, want := range tests {
		if got := p.abs(in); got != want {
			t.Errorf("abs(%q) = %q, want %q", in, got, want)
		}
	}
}
