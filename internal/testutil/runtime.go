package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"domctl/internal/runtime"
)

// FakeRuntime is an in-memory runtime.Runtime that records every call.
type FakeRuntime struct {
	mu sync.Mutex

	// ReadyErr is returned by Ready.
	ReadyErr error
	// UpErr maps a service name to the error returned when it is started.
	UpErr map[string]error
	// DownErr is returned by Down.
	DownErr error
	// States holds inspected states by container name. Containers started
	// through Up become running and healthy unless already present.
	States map[string]runtime.ContainerState
	// HealthSequence, when set for a container, is consumed one value per Inspect.
	HealthSequence map[string][]string
	// ExecOutput maps "container:cmd joined by space" prefixes to stdout.
	ExecOutput map[string]string
	// ExecErr is returned by Exec when set.
	ExecErr error
	// Owners maps host ports to the owning container name.
	Owners map[int]string
	// Prefix is prepended to service names to derive container names.
	Prefix string

	Calls []string
	Execs []FakeExec
}

// FakeExec is one recorded Exec call.
type FakeExec struct {
	Container string
	Env       []string
	Cmd       []string
}

// NewFakeRuntime returns an empty fake whose containers are named prefix-service.
func NewFakeRuntime(prefix string) *FakeRuntime {
	return &FakeRuntime{
		Prefix:         prefix,
		UpErr:          map[string]error{},
		States:         map[string]runtime.ContainerState{},
		HealthSequence: map[string][]string{},
		ExecOutput:     map[string]string{},
		Owners:         map[int]string{},
	}
}

func (f *FakeRuntime) record(call string) {
	f.Calls = append(f.Calls, call)
}

// Ready implements runtime.Runtime.
func (f *FakeRuntime) Ready(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ready")
	return f.ReadyErr
}

// Up implements runtime.Runtime.
func (f *FakeRuntime) Up(_ context.Context, composeFile string, services ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("up " + strings.Join(services, " "))
	for _, svc := range services {
		if err := f.UpErr[svc]; err != nil {
			return err
		}
		name := f.Prefix + "-" + svc
		if _, ok := f.States[name]; !ok {
			f.States[name] = runtime.ContainerState{Exists: true, Status: "running", Health: runtime.HealthHealthy}
		}
	}
	return nil
}

// Down implements runtime.Runtime.
func (f *FakeRuntime) Down(_ context.Context, _ string, removeVolumes bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if removeVolumes {
		f.record("down -v")
	} else {
		f.record("down")
	}
	if f.DownErr != nil {
		return f.DownErr
	}
	for name, s := range f.States {
		s.Status = "exited"
		s.Health = ""
		f.States[name] = s
	}
	return nil
}

// Inspect implements runtime.Runtime.
func (f *FakeRuntime) Inspect(_ context.Context, container string) (runtime.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.States[container]
	if seq := f.HealthSequence[container]; len(seq) > 0 {
		state = runtime.ContainerState{Exists: true, Status: "running", Health: seq[0]}
		f.HealthSequence[container] = seq[1:]
	}
	return state, nil
}

// Exec implements runtime.Runtime. Output is looked up by the longest
// matching "container:command" prefix.
func (f *FakeRuntime) Exec(_ context.Context, container string, env []string, cmd ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("exec %s %s", container, strings.Join(cmd, " ")))
	f.Execs = append(f.Execs, FakeExec{Container: container, Env: env, Cmd: cmd})
	if f.ExecErr != nil {
		return "", f.ExecErr
	}
	key := container + ":" + strings.Join(cmd, " ")
	var best string
	var out string
	for prefix, o := range f.ExecOutput {
		if strings.HasPrefix(key, prefix) && len(prefix) > len(best) {
			best, out = prefix, o
		}
	}
	return out, nil
}

// PortOwner implements runtime.Runtime.
func (f *FakeRuntime) PortOwner(_ context.Context, port int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Owners[port], nil
}

// Record appends an external event to the call log so tests can assert
// ordering between the runtime and other collaborators.
func (f *FakeRuntime) Record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call)
}

// CallLog returns a copy of the recorded calls.
func (f *FakeRuntime) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

var _ runtime.Runtime = (*FakeRuntime)(nil)
