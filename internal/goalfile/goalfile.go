// Package goalfile loads a YAML description of named shell-backed steps
// into a concrete, engine-ready scheduler.Scheduler. It stands in for the
// task-registration / build-file-parsing layer spec.md treats as an
// external collaborator: the minimum concrete thing needed to exercise the
// engine end-to-end from a file on disk.
package goalfile

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"taskforge/internal/node"
	"taskforge/internal/scheduler"
)

// ShellStep is a YAML-declared unit of work: a shell command, its
// declared dependencies, and whether its result may be cached.
type ShellStep struct {
	Name      string            `yaml:"name"`
	Run       string            `yaml:"run"`
	DependsOn []string          `yaml:"depends_on"`
	Cacheable bool              `yaml:"cacheable"`
	Env       map[string]string `yaml:"env"`
	WorkDir   string            `yaml:"workdir"`
}

// File is the top-level shape of a goal file.
type File struct {
	Goals []string    `yaml:"goals"`
	Steps []ShellStep `yaml:"steps"`
}

// ShellNode is the node.Node produced for one ShellStep.
type ShellNode struct {
	StepName  string
	Command   string
	Env       map[string]string
	WorkDir   string
	Cacheable bool
}

// ShellKind is the node.Kind() value every ShellNode reports; hybrid
// engine configs select it via threaded_node_types.
const ShellKind = "shell"

func (n ShellNode) IsCacheable() bool { return n.Cacheable }
func (n ShellNode) Kind() string      { return ShellKind }

// ShellBuilder executes a ShellNode by spawning its command with
// os/exec. Its output (stdout+stderr, combined) is the Result's Value.
type ShellBuilder struct{}

func (ShellBuilder) Name() string { return "shell-builder" }

func (ShellBuilder) Build(ctx context.Context, n node.Node) (node.Result, error) {
	sn, ok := n.(ShellNode)
	if !ok {
		return node.Result{}, fmt.Errorf("shell-builder: unsupported node type %T", n)
	}
	if strings.TrimSpace(sn.Command) == "" {
		return node.Result{}, fmt.Errorf("shell-builder: step %q has an empty run command", sn.StepName)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", sn.Command)
	if sn.WorkDir != "" {
		cmd.Dir = sn.WorkDir
	}
	cmd.Env = os.Environ()
	for k, v := range sn.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return node.Result{}, fmt.Errorf("step %q: %w: %s", sn.StepName, err, out.String())
	}
	return node.Result{Value: out.Bytes()}, nil
}

// Codec encodes/decodes ShellNode via gob, for internal/storage.NodeCodec.
type Codec struct{}

func (Codec) Encode(n node.Node) ([]byte, error) {
	sn, ok := n.(ShellNode)
	if !ok {
		return nil, fmt.Errorf("goalfile.Codec: unexpected node type %T", n)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sn); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Codec) Decode(kind string, data []byte) (node.Node, error) {
	if kind != ShellKind {
		return nil, fmt.Errorf("goalfile.Codec: unknown kind %q", kind)
	}
	var sn ShellNode
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sn); err != nil {
		return nil, err
	}
	return sn, nil
}

// Scheduler is the engine-facing handle produced by Load: a
// scheduler.Scheduler over the goal file's graph, plus the declared root
// goal names.
type Scheduler struct {
	scheduler.Scheduler
	Goals []string
}

// Load parses the goal file at path and builds its Scheduler. Unknown
// YAML fields are rejected to avoid a goal file silently diverging from
// what the loader actually understands.
func Load(path string) (*Scheduler, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read goal file: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse goal file: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("parse goal file: no steps declared")
	}

	specs := make([]scheduler.NodeSpec, 0, len(f.Steps))
	for _, s := range f.Steps {
		specs = append(specs, scheduler.NodeSpec{
			Name: s.Name,
			Node: ShellNode{
				StepName:  s.Name,
				Command:   s.Run,
				Env:       s.Env,
				WorkDir:   s.WorkDir,
				Cacheable: s.Cacheable,
			},
			DependsOn: s.DependsOn,
		})
	}

	graph, err := scheduler.NewGraph(specs)
	if err != nil {
		return nil, fmt.Errorf("goal file graph: %w", err)
	}

	goals := f.Goals
	if len(goals) == 0 {
		goals = defaultGoals(f.Steps)
	}

	sched := scheduler.NewLocalScheduler(graph, ShellBuilder{})
	return &Scheduler{Scheduler: sched, Goals: goals}, nil
}

// defaultGoals falls back to every step that is not itself a dependency of
// another step — the leaves of the "depends on" relation, read the other
// way around.
func defaultGoals(steps []ShellStep) []string {
	isDependency := make(map[string]bool, len(steps))
	for _, s := range steps {
		for _, d := range s.DependsOn {
			isDependency[d] = true
		}
	}
	var goals []string
	for _, s := range steps {
		if !isDependency[s.Name] {
			goals = append(goals, s.Name)
		}
	}
	return goals
}
