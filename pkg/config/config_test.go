// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/memreg/pkg/testutils"
)

type testOptions struct {
	Name    string   `json:"name,omitempty"`
	Count   int      `json:"count,omitempty"`
	Enabled bool     `json:"enabled,omitempty"`
	Tick    Duration `json:"tick,omitempty"`
}

func (o *testOptions) Validate() error {
	if o.Count < 0 {
		return fmt.Errorf("negative count %d", o.Count)
	}
	return nil
}

func testDefaults() interface{} {
	return &testOptions{Name: "default", Count: 1}
}

type notifyLog struct {
	events []Event
	reject bool
}

func (n *notifyLog) notify(e Event, _ Source) error {
	n.events = append(n.events, e)
	if n.reject && e == UpdateEvent {
		return fmt.Errorf("rejected")
	}
	return nil
}

func setupConfig(t *testing.T) (*Config, *testOptions, *notifyLog) {
	name := "test-" + t.Name()
	cfg := NewConfig(name, "test configuration")
	t.Cleanup(func() {
		configLock.Lock()
		delete(configs, name)
		configLock.Unlock()
	})
	opt := &testOptions{}
	n := &notifyLog{}
	cfg.Register("test", "test module", opt, testDefaults, WithNotify(n.notify))
	return cfg, opt, n
}

func TestRegisterResetsToDefaults(t *testing.T) {
	cfg, opt, _ := setupConfig(t)
	require.Equal(t, "default", opt.Name)
	require.Equal(t, 1, opt.Count)
	require.Equal(t, []string{"test"}, cfg.Modules())
	require.NotNil(t, cfg.GetModule("test"))
	require.Equal(t, "test module", cfg.GetModule("test").Description())
}

func TestRegisterTwicePanics(t *testing.T) {
	cfg, _, _ := setupConfig(t)
	require.Panics(t, func() {
		cfg.Register("test", "again", &testOptions{}, testDefaults)
	})
}

func TestParseYAMLData(t *testing.T) {
	cfg, opt, n := setupConfig(t)

	err := cfg.ParseYAMLData([]byte(`
test:
  name: foo
  count: 5
  enabled: true
  tick: 2s
`), External)
	require.NoError(t, err)
	require.Equal(t, "foo", opt.Name)
	require.Equal(t, 5, opt.Count)
	require.True(t, opt.Enabled)
	require.Equal(t, "2s", opt.Tick.String())
	require.Equal(t, []Event{UpdateEvent}, n.events)

	// missing section resets to defaults
	require.NoError(t, cfg.ParseYAMLData([]byte("{}"), External))
	require.Equal(t, "default", opt.Name)
	require.Equal(t, 1, opt.Count)
	require.False(t, opt.Enabled)
}

func TestUnknownModuleIsRejected(t *testing.T) {
	cfg, opt, n := setupConfig(t)

	err := cfg.ParseYAMLData([]byte(`
test:
  name: bar
bogus:
  foo: 1
`), External)
	testutils.VerifyError(t, err, 1, []string{"unknown configuration module", "bogus"})
	require.Equal(t, "default", opt.Name)
	require.Empty(t, n.events)
}

func TestValidationFailureRestores(t *testing.T) {
	cfg, opt, _ := setupConfig(t)

	require.NoError(t, cfg.ParseYAMLData([]byte("test:\n  count: 3\n"), External))
	err := cfg.ParseYAMLData([]byte("test:\n  count: -1\n"), External)
	require.Error(t, err)
	require.Equal(t, 3, opt.Count)
}

func TestRejectedUpdateReverts(t *testing.T) {
	cfg, opt, n := setupConfig(t)

	require.NoError(t, cfg.ParseYAMLData([]byte("test:\n  count: 3\n"), External))
	n.reject = true
	err := cfg.ParseYAMLData([]byte("test:\n  count: 7\n"), External)
	require.Error(t, err)
	require.Equal(t, 3, opt.Count)
	require.Equal(t, []Event{UpdateEvent, UpdateEvent, RevertEvent}, n.events)
}

func TestBackupRestore(t *testing.T) {
	cfg, opt, n := setupConfig(t)

	require.NoError(t, cfg.ParseYAMLData([]byte("test:\n  name: saved\n"), External))
	snapshot := cfg.Backup()
	require.NoError(t, cfg.ParseYAMLData([]byte("test:\n  name: changed\n"), External))
	require.Equal(t, "changed", opt.Name)

	require.NoError(t, cfg.Restore(snapshot))
	require.Equal(t, "saved", opt.Name)
	require.Equal(t, RevertEvent, n.events[len(n.events)-1])
}

func TestDumpAndHelp(t *testing.T) {
	cfg, _, _ := setupConfig(t)

	raw, err := cfg.Dump()
	require.NoError(t, err)
	require.Contains(t, string(raw), "name: default")
	require.Contains(t, cfg.Help(), "module test")
}

func TestBadYAML(t *testing.T) {
	cfg, _, _ := setupConfig(t)
	require.Error(t, cfg.ParseYAMLData([]byte("test: [\n"), External))
	require.Error(t, cfg.ParseYAMLData([]byte("test: 1\n"), External))
}

func TestDuration(t *testing.T) {
	tcases := []struct {
		name        string
		input       string
		expected    time.Duration
		expectedErr bool
	}{
		{name: "duration string", input: "test:\n  tick: 1m30s\n", expected: 90 * time.Second},
		{name: "nanoseconds", input: "test:\n  tick: 1000\n", expected: time.Microsecond},
		{name: "bad string", input: "test:\n  tick: soon\n", expectedErr: true},
		{name: "bad type", input: "test:\n  tick: [1]\n", expectedErr: true},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, opt, _ := setupConfig(t)
			err := cfg.ParseYAMLData([]byte(tc.input), External)
			if tc.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, Duration(tc.expected), opt.Tick)
		})
	}

	raw, err := Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"2s"`, string(raw))
}
