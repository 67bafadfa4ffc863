// Copyright © 2026 The imount Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//      http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imounttest provides a scriptable imount.Runner for driving
// forced-failure and canned-output unit tests without touching real
// disk images or external tools.
package imounttest

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Invocation records a single Run call, for tests that want to assert on
// the exact argv the code under test produced.
type Invocation struct {
	Name string
	Args []string
}

// MockRunner is a Runner that replays scripted output and induced errors
// instead of executing real commands, mirroring the teacher's GOFSMock
// induced-error pattern generalized to a table keyed by command name.
type MockRunner struct {
	mu sync.Mutex

	// Outputs maps a command name to the string Run should return for it.
	// A command not present in the map returns "".
	Outputs map[string]string

	// Errors maps a command name to the error Run should return for it
	// instead of running anything.
	Errors map[string]error

	// Calls accumulates every invocation in order.
	Calls []Invocation
}

// NewMockRunner returns an empty MockRunner; populate Outputs/Errors
// before exercising the code under test.
func NewMockRunner() *MockRunner {
	return &MockRunner{Outputs: map[string]string{}, Errors: map[string]error{}}
}

// Run records the invocation and returns the scripted output/error for
// name, if any.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Invocation{Name: name, Args: append([]string{}, args...)})

	if err, ok := m.Errors[name]; ok {
		return "", err
	}
	return m.Outputs[name], nil
}

// InduceError is a convenience for tests that only care that command
// fails, without constructing an *imount.Error themselves.
func (m *MockRunner) InduceError(command, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[command] = errors.New(message)
}

// SetOutput scripts the output Run returns for command.
func (m *MockRunner) SetOutput(command, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outputs[command] = output
}

// CalledWith reports whether command was invoked with args containing
// substr anywhere in its joined argv, useful for asserting "mount was
// called with -o ...offset=1234...".
func (m *MockRunner) CalledWith(command, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if c.Name == command && strings.Contains(strings.Join(c.Args, " "), substr) {
			return true
		}
	}
	return false
}

// CallCount returns how many times command was invoked.
func (m *MockRunner) CallCount(command string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Name == command {
			n++
		}
	}
	return n
}
