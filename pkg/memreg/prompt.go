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

// This file implements interactive prompt and command execution.

package memreg

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	pkgcfg "github.com/intel/memreg/pkg/config"
)

type Cmd struct {
	description string
	Run         func([]string) CommandStatus
}

// Prompt runs commands against a Registry, interactively or one by one.
type Prompt struct {
	r        *bufio.Reader
	w        *bufio.Writer
	f        *flag.FlagSet
	registry *Registry
	maps     map[string]*Map
	cmds     map[string]Cmd
	ps1      string
	echo     bool
	quit     bool
}

type CommandStatus int

const (
	csOk CommandStatus = iota
	csUnknownCommand
	csPipeCreateError
	csPipeProcessStartError
	csError
)

// Failed returns true if a command did not complete successfully.
func (cs CommandStatus) Failed() bool {
	return cs != csOk
}

// NewPrompt creates a prompt operating on the given registry.
func NewPrompt(ps1 string, reader *bufio.Reader, writer *bufio.Writer, registry *Registry) *Prompt {
	p := Prompt{
		r:        reader,
		w:        writer,
		ps1:      ps1,
		registry: registry,
		maps:     make(map[string]*Map),
	}
	p.cmds = map[string]Cmd{
		"q":          {"quit interactive prompt.", p.cmdQuit},
		"register":   {"register RANGE: register a memory region.", p.cmdRegister},
		"unregister": {"unregister RANGE: unregister memory regions.", p.cmdUnregister},
		"reserve":    {"reserve RANGE: reserve table space for memory.", p.cmdReserve},
		"regions":    {"list registered regions.", p.cmdRegions},
		"map":        {"manage maps: alloc, free, set, clear, translate, list.", p.cmdMap},
		"stats":      {"print statistics.", p.cmdStats},
		"metrics":    {"print metrics.", p.cmdMetrics},
		"config":     {"dump or load runtime configuration.", p.cmdConfig},
		"help":       {"print help.", p.cmdHelp},
		"nop":        {"no operation.", p.cmdNop},
	}
	return &p
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

func (p *Prompt) RunCmdSlice(cmdSlice []string) CommandStatus {
	if len(cmdSlice) == 0 {
		return csOk
	}
	if cmdSlice[0] == "" {
		cmdSlice[0] = "nop"
	}
	p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
	if p.w != nil {
		p.f.SetOutput(p.w)
	}
	cmd, ok := p.cmds[cmdSlice[0]]
	if !ok {
		if len(cmdSlice[0]) > 0 {
			p.output("unknown command %q\n", cmdSlice[0])
		}
		return csUnknownCommand
	}
	return cmd.Run(cmdSlice[1:])
}

func (p *Prompt) RunCmdString(cmdString string) CommandStatus {
	var err error
	// If command has "|", run the right-hand-side of the pipe in a
	// shell and pipe the output of the left-hand-side command to it.
	origOutputWriter := p.w
	pipeCmd := ""
	pipeIndex := strings.Index(cmdString, "|")
	if pipeIndex > -1 {
		pipeCmd = cmdString[pipeIndex+1:]
		cmdString = cmdString[:pipeIndex]
	}
	cmdSlice := strings.Fields(cmdString)
	if len(cmdSlice) == 0 {
		cmdSlice = []string{""}
	}

	var pipeProcess *exec.Cmd
	var pipeInput io.WriteCloser
	if pipeCmd != "" {
		pipeProcess = exec.Command("sh", "-c", pipeCmd)
		pipeInput, err = pipeProcess.StdinPipe()
		if err != nil {
			p.output("failed to create pipe for command %q", pipeCmd)
			return csPipeCreateError
		}
		pipeProcess.Stdout = origOutputWriter
		pipeProcess.Stderr = origOutputWriter
		if err := pipeProcess.Start(); err != nil {
			p.output("failed to start: sh -c %q: %s", pipeCmd, err)
			pipeInput.Close()
			return csPipeProcessStartError
		}
		p.w = bufio.NewWriter(pipeInput)
	}
	runRv := p.RunCmdSlice(cmdSlice)
	if pipeCmd != "" {
		p.w.Flush()
		pipeInput.Close()
		pipeProcess.Wait()
		p.w = origOutputWriter
		p.w.Flush()
	}
	return runRv
}

func (p *Prompt) Interact() {
	for !p.quit {
		p.output(p.ps1)
		cmdString, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quit: %s\n", err)
			break
		}
		if p.echo {
			p.output("%s", cmdString)
		}
		p.RunCmdString(cmdString)
	}
	p.output("quit.\n")
}

func (p *Prompt) SetEcho(newEcho bool) {
	p.echo = newEcho
}

// Close frees all maps allocated from the prompt.
func (p *Prompt) Close() {
	for _, name := range sortedMapKeys(p.maps) {
		p.maps[name].Free()
		delete(p.maps, name)
	}
}

func sortedCmdKeys(m map[string]Cmd) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedMapKeys(m map[string]*Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Prompt) cmdNop(args []string) CommandStatus {
	return csOk
}

func (p *Prompt) cmdHelp(args []string) CommandStatus {
	p.output("Available commands:\n")
	for _, name := range sortedCmdKeys(p.cmds) {
		p.output("        %-12s %s\n", name, p.cmds[name].description)
	}
	p.output("Syntax:\n")
	p.output("        <command> -h show help on command options.\n")
	p.output("        [command] | <shell-command>\n")
	p.output("                     pipe command output to shell-command.\n")
	p.output("        RANGE: STARTADDR (single 2M page), STARTADDR-ENDADDR, STARTADDR+SIZE[kMGT].\n")
	return csOk
}

func (p *Prompt) cmdQuit(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.quit = true
	return csOk
}

// rangeArg parses the single RANGE argument of a command.
func (p *Prompt) rangeArg(args []string) (AddrRange, bool) {
	if err := p.f.Parse(args); err != nil {
		return AddrRange{}, false
	}
	if p.f.NArg() != 1 {
		p.output("expected RANGE\n")
		return AddrRange{}, false
	}
	ar, err := ParseAddrRange(p.f.Arg(0))
	if err != nil {
		p.output("%s\n", err)
		return AddrRange{}, false
	}
	return ar, true
}

func (p *Prompt) cmdRegister(args []string) CommandStatus {
	ar, ok := p.rangeArg(args)
	if !ok {
		return csError
	}
	if err := p.registry.Register(ar.Addr, ar.Size); err != nil {
		p.output("register %s failed: %v\n", ar, err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdUnregister(args []string) CommandStatus {
	ar, ok := p.rangeArg(args)
	if !ok {
		return csError
	}
	if err := p.registry.Unregister(ar.Addr, ar.Size); err != nil {
		p.output("unregister %s failed: %v\n", ar, err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdReserve(args []string) CommandStatus {
	ar, ok := p.rangeArg(args)
	if !ok {
		return csError
	}
	if err := p.registry.Reserve(ar.Addr, ar.Size); err != nil {
		p.output("reserve %s failed: %v\n", ar, err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdRegions(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	regions := p.registry.Regions()
	for _, r := range regions {
		p.output("%s\n", r)
	}
	p.output("registered regions: %d\n", len(regions))
	return csOk
}

func (p *Prompt) cmdMap(args []string) CommandStatus {
	usage := "usage: map alloc|free|set|clear|translate|list ...\n"
	if len(args) == 0 {
		p.output(usage)
		return csError
	}
	switch args[0] {
	case "alloc":
		return p.cmdMapAlloc(args[1:])
	case "free":
		return p.cmdMapFree(args[1:])
	case "set":
		return p.cmdMapSet(args[1:])
	case "clear":
		return p.cmdMapClear(args[1:])
	case "translate":
		return p.cmdMapTranslate(args[1:])
	case "list":
		return p.cmdMapList(args[1:])
	}
	p.output(usage)
	return csError
}

// lookupMap returns the named map allocated from the prompt.
func (p *Prompt) lookupMap(args []string) (*Map, bool) {
	if len(args) == 0 {
		p.output("missing map NAME\n")
		return nil, false
	}
	m, ok := p.maps[args[0]]
	if !ok {
		p.output("no map %q\n", args[0])
		return nil, false
	}
	return m, true
}

func (p *Prompt) cmdMapAlloc(args []string) CommandStatus {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		p.output("usage: map alloc NAME [-default VALUE] [-contig] [-silent] [-fail-at ADDR]\n")
		return csError
	}
	name := args[0]
	defval := p.f.String("default", "0", "default translation of the map")
	contig := p.f.Bool("contig", false, "treat consecutive translations as contiguous")
	silent := p.f.Bool("silent", false, "do not subscribe to registration events")
	failAt := p.f.String("fail-at", "", "fail register notifications covering ADDR")
	if err := p.f.Parse(args[1:]); err != nil {
		return csOk
	}
	if _, ok := p.maps[name]; ok {
		p.output("map %q already exists\n", name)
		return csError
	}
	dv, err := strconv.ParseUint(*defval, 0, 64)
	if err != nil {
		p.output("invalid default translation %q: %v\n", *defval, err)
		return csError
	}

	opts := []MapOption{WithName(name)}
	if *contig {
		opts = append(opts, WithContiguity(func(prev, next uint64) bool {
			return next == prev+PageSize2MB
		}))
	}
	if !*silent {
		sub := &promptSubscriber{p: p, failAt: -1}
		if *failAt != "" {
			addr, err := ParseAddr(*failAt)
			if err != nil {
				p.output("%s\n", err)
				return csError
			}
			sub.failAt = int64(addr)
		}
		opts = append(opts, WithNotify(sub))
	}

	m, err := p.registry.AllocMap(dv, opts...)
	if err != nil {
		p.output("map alloc %s failed: %v\n", name, err)
		return csError
	}
	p.maps[name] = m
	return csOk
}

func (p *Prompt) cmdMapFree(args []string) CommandStatus {
	m, ok := p.lookupMap(args)
	if !ok {
		return csError
	}
	m.Free()
	delete(p.maps, args[0])
	return csOk
}

func (p *Prompt) cmdMapSet(args []string) CommandStatus {
	m, ok := p.lookupMap(args)
	if !ok {
		return csError
	}
	if len(args) != 3 {
		p.output("usage: map set NAME RANGE VALUE\n")
		return csError
	}
	ar, err := ParseAddrRange(args[1])
	if err != nil {
		p.output("%s\n", err)
		return csError
	}
	value, err := strconv.ParseUint(args[2], 0, 64)
	if err != nil {
		p.output("invalid translation %q: %v\n", args[2], err)
		return csError
	}
	if err := m.SetTranslation(ar.Addr, ar.Size, value); err != nil {
		p.output("map set %s %s failed: %v\n", args[0], ar, err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdMapClear(args []string) CommandStatus {
	m, ok := p.lookupMap(args)
	if !ok {
		return csError
	}
	if len(args) != 2 {
		p.output("usage: map clear NAME RANGE\n")
		return csError
	}
	ar, err := ParseAddrRange(args[1])
	if err != nil {
		p.output("%s\n", err)
		return csError
	}
	if err := m.ClearTranslation(ar.Addr, ar.Size); err != nil {
		p.output("map clear %s %s failed: %v\n", args[0], ar, err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdMapTranslate(args []string) CommandStatus {
	m, ok := p.lookupMap(args)
	if !ok {
		return csError
	}
	if len(args) < 2 || len(args) > 3 {
		p.output("usage: map translate NAME ADDR [SIZE]\n")
		return csError
	}
	addr, err := ParseAddr(args[1])
	if err != nil {
		p.output("%s\n", err)
		return csError
	}
	if len(args) == 2 {
		p.output("%x: %#x\n", addr, m.Translate(addr))
		return csOk
	}
	size, err := ParseBytes(args[2])
	if err != nil {
		p.output("%s\n", err)
		return csError
	}
	value, actual := m.TranslateSize(addr, size)
	p.output("%x: %#x size %s\n", addr, value, FormatBytes(actual))
	return csOk
}

func (p *Prompt) cmdMapList(args []string) CommandStatus {
	for _, name := range sortedMapKeys(p.maps) {
		m := p.maps[name]
		p.output("%s: default %#x, %d leaf tables\n", name, m.DefaultTranslation(), m.LeafCount())
	}
	p.output("maps: %d, subscribers: %d\n", len(p.maps), p.registry.Maps())
	return csOk
}

func (p *Prompt) cmdStats(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.output("%s", p.registry.Stats().Summarize())
	return csOk
}

func (p *Prompt) cmdMetrics(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil || p.w == nil {
		return csOk
	}
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(p.registry); err != nil {
		p.output("failed to register collector: %v\n", err)
		return csError
	}
	families, err := reg.Gather()
	if err != nil {
		p.output("failed to gather metrics: %v\n", err)
		return csError
	}
	enc := expfmt.NewEncoder(p.w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			p.output("failed to encode metrics: %v\n", err)
			return csError
		}
	}
	p.w.Flush()
	return csOk
}

func (p *Prompt) cmdConfig(args []string) CommandStatus {
	load := p.f.String("load", "", "load runtime configuration from YAML FILE")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	cfg := pkgcfg.DefaultConfig()
	if *load != "" {
		if err := cfg.ParseYAMLFile(*load); err != nil {
			p.output("failed to load configuration: %v\n", err)
			return csError
		}
	}
	raw, err := cfg.Dump()
	if err != nil {
		p.output("%v\n", err)
		return csError
	}
	p.output("%s", raw)
	return csOk
}

// promptSubscriber prints the notifications a map receives.
type promptSubscriber struct {
	p      *Prompt
	failAt int64
}

func (s *promptSubscriber) Notify(m *Map, action Action, vaddr, size uint64) error {
	ar := AddrRange{Addr: vaddr, Size: size}
	if action == ActionRegister && s.failAt >= 0 && ar.Contains(uint64(s.failAt)) {
		s.p.output("%s: %s %s: rejected\n", m.Name(), action, ar)
		return fmt.Errorf("%s: rejecting %s", m.Name(), ar)
	}
	s.p.output("%s: %s %s\n", m.Name(), action, ar)
	return nil
}
