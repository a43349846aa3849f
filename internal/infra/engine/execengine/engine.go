// Package execengine adapts an external analysis-framework runner into the
// AnalysisEngine port. The runner is a subprocess speaking JSON: a request on
// stdin, a response on stdout. This keeps the framework's runtime (and its
// crashes) fully isolated from the worker process.
package execengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

var _ forensics.AnalysisEngine = (*Engine)(nil)

// Engine invokes the runner binary once per operation.
type Engine struct {
	binary string
	logger *logger.Logger
	tracer trace.Tracer
}

// NewEngine creates an engine around the runner binary, falling back to
// "memharbor-runner" on PATH when empty.
func NewEngine(binary string, log *logger.Logger, tracer trace.Tracer) *Engine {
	if binary == "" {
		binary = "memharbor-runner"
	}
	return &Engine{binary: binary, logger: log.With("component", "exec_engine"), tracer: tracer}
}

// request is the JSON document written to the runner's stdin.
type request struct {
	Command      string         `json:"command"`
	Plugin       string         `json:"plugin,omitempty"`
	File         string         `json:"file,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ExtractFiles bool           `json:"extract_files,omitempty"`
}

// response is the JSON document read from the runner's stdout. Exactly one of
// the outcome groups is populated: plugin/parameter listings, run output,
// unsatisfied requirements, or an error trace.
type response struct {
	Plugins    []string    `json:"plugins,omitempty"`
	Parameters []parameter `json:"parameters,omitempty"`

	Rows        []forensics.Row `json:"rows,omitempty"`
	Diagnostics string          `json:"diagnostics,omitempty"`
	Recovered   []recoveredFile `json:"recovered_files,omitempty"`

	Unsatisfied []unsatisfied `json:"unsatisfied,omitempty"`
	ErrorTrace  string        `json:"error_trace,omitempty"`
}

type parameter struct {
	Name     string   `json:"name"`
	Optional bool     `json:"optional"`
	Mode     string   `json:"mode"`
	Type     string   `json:"type,omitempty"`
	Choices  []string `json:"choices,omitempty"`
}

type recoveredFile struct {
	PreferredName string `json:"preferred_name"`
	StagePath     string `json:"stage_path"`
}

type unsatisfied struct {
	Requirement string `json:"requirement"`
	Description string `json:"description"`
}

// ListPlugins returns the identifiers of every plugin the runner knows.
func (e *Engine) ListPlugins(ctx context.Context) ([]string, error) {
	resp, err := e.invoke(ctx, request{Command: "list"})
	if err != nil {
		return nil, err
	}
	return resp.Plugins, nil
}

// DescribeParameters returns the configuration requirements declared by a
// plugin. Parameters with an unrecognized requirement mode are rejected.
func (e *Engine) DescribeParameters(ctx context.Context, pluginName string) ([]forensics.Parameter, error) {
	resp, err := e.invoke(ctx, request{Command: "describe", Plugin: pluginName})
	if err != nil {
		return nil, err
	}

	params := make([]forensics.Parameter, 0, len(resp.Parameters))
	for _, p := range resp.Parameters {
		param := forensics.Parameter{
			Name:     p.Name,
			Optional: p.Optional,
			Mode:     forensics.RequirementMode(p.Mode),
			Type:     p.Type,
			Choices:  p.Choices,
		}
		if err := param.Validate(); err != nil {
			return nil, fmt.Errorf("plugin %s: %w", pluginName, err)
		}
		params = append(params, param)
	}
	return params, nil
}

// Execute runs one plugin against the artifact. Unmet requirements reported
// by the runner become *forensics.UnsatisfiedError; every other failure,
// including a runner crash, becomes *forensics.EngineRuntimeError.
func (e *Engine) Execute(
	ctx context.Context,
	pluginName, artifactPath string,
	cfg forensics.EngineConfig,
) (*forensics.EngineOutput, error) {
	ctx, span := e.tracer.Start(ctx, "exec_engine.execute",
		trace.WithAttributes(
			attribute.String("plugin", pluginName),
			attribute.String("artifact", artifactPath),
			attribute.Bool("extract_files", cfg.ExtractFiles),
		))
	defer span.End()

	resp, err := e.invoke(ctx, request{
		Command:      "run",
		Plugin:       pluginName,
		File:         artifactPath,
		Parameters:   cfg.Parameters,
		ExtractFiles: cfg.ExtractFiles,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner invocation failed")
		return nil, &forensics.EngineRuntimeError{Trace: err.Error()}
	}

	if len(resp.Unsatisfied) > 0 {
		reqs := make([]forensics.UnsatisfiedRequirement, 0, len(resp.Unsatisfied))
		for _, u := range resp.Unsatisfied {
			reqs = append(reqs, forensics.UnsatisfiedRequirement{
				Requirement: u.Requirement,
				Description: u.Description,
			})
		}
		return nil, &forensics.UnsatisfiedError{Requirements: reqs}
	}
	if resp.ErrorTrace != "" {
		span.SetStatus(codes.Error, "plugin run failed")
		return nil, &forensics.EngineRuntimeError{Trace: resp.ErrorTrace}
	}

	recovered := make([]forensics.RecoveredFile, 0, len(resp.Recovered))
	for _, f := range resp.Recovered {
		recovered = append(recovered, forensics.RecoveredFile{
			PreferredName: f.PreferredName,
			StagePath:     f.StagePath,
		})
	}

	return &forensics.EngineOutput{
		Rows:              resp.Rows,
		RenderDiagnostics: resp.Diagnostics,
		RecoveredFiles:    recovered,
	}, nil
}

// invoke runs the binary once, feeding the request on stdin and decoding the
// response from stdout. A non-zero exit with stderr output is surfaced as the
// error trace.
func (e *Engine) invoke(ctx context.Context, req request) (*response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding runner request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("runner %s: %s", req.Command, detail)
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decoding runner response: %w", err)
	}
	return &resp, nil
}
