// Package sandboxtest provides an in-memory sandbox.Provider for tests.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nevindra/vybe/sandbox"
)

// CommandFunc scripts the outcome of a command.
type CommandFunc func(command string) (sandbox.CommandResult, error)

// Fake keeps sandbox files in memory and counts every side effect.
type Fake struct {
	mu        sync.Mutex
	next      int
	live      map[string]map[string]string
	Command   CommandFunc
	FailWrite map[string]error // path -> error returned by WriteFile
	Creates   int
	Commands  []string
	Writes    []string
}

var (
	_ sandbox.Provider = (*Fake)(nil)
	_ sandbox.Killer   = (*Fake)(nil)
)

func New() *Fake {
	return &Fake{live: make(map[string]map[string]string), FailWrite: make(map[string]error)}
}

func (f *Fake) Create(_ context.Context, template string) (sandbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.Creates++
	id := fmt.Sprintf("sbx-%d", f.next)
	f.live[id] = make(map[string]string)
	return sandbox.Handle{ID: id, Template: template}, nil
}

func (f *Fake) Connect(_ context.Context, id string) (sandbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return sandbox.Handle{}, &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: id}
	}
	return sandbox.Handle{ID: id}, nil
}

func (f *Fake) RunCommand(_ context.Context, h sandbox.Handle, command string) (sandbox.CommandResult, error) {
	f.mu.Lock()
	if _, ok := f.live[h.ID]; !ok {
		f.mu.Unlock()
		return sandbox.CommandResult{}, &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: h.ID}
	}
	f.Commands = append(f.Commands, command)
	fn := f.Command
	f.mu.Unlock()
	if fn == nil {
		return sandbox.CommandResult{Stdout: "ok\n"}, nil
	}
	return fn(command)
}

func (f *Fake) WriteFile(_ context.Context, h sandbox.Handle, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.live[h.ID]
	if !ok {
		return &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: h.ID}
	}
	if err := f.FailWrite[path]; err != nil {
		return err
	}
	f.Writes = append(f.Writes, path)
	files[path] = string(content)
	return nil
}

func (f *Fake) ReadFile(_ context.Context, h sandbox.Handle, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.live[h.ID]
	if !ok {
		return nil, &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: h.ID}
	}
	content, ok := files[path]
	if !ok {
		return nil, &sandbox.NotFoundError{Resource: sandbox.ResourceFile, Name: path}
	}
	return []byte(content), nil
}

func (f *Fake) Endpoint(h sandbox.Handle, port int) string {
	return sandbox.HostEndpoint("sandbox.test", h, port)
}

// Kill expires a sandbox; later calls for it fail with NotFoundError.
func (f *Fake) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	return nil
}

// Files returns the sorted paths stored in sandbox id.
func (f *Fake) Files(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.live[id] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ErrInjected is a convenience error for FailWrite and scripted commands.
var ErrInjected = errors.New("injected failure")
