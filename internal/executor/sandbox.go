package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"archon/internal/logging"
	"archon/internal/types"
)

// SandboxExecutor interprets the payload's patch program with Yaegi instead
// of compiling it. The program must define
//
//	func Apply(manifest map[string]interface{}) (bool, error)
//
// Imports are restricted to a stdlib allowlist; no filesystem, network or
// exec access reaches the interpreter.
type SandboxExecutor struct {
	allowedImports map[string]bool
	log            *logging.Logger
}

func NewSandboxExecutor() *SandboxExecutor {
	return &SandboxExecutor{
		log: logging.Get(logging.CategoryExecutor),
		allowedImports: map[string]bool{
			"strings":       true,
			"strconv":       true,
			"fmt":           true,
			"math":          true,
			"regexp":        true,
			"encoding/json": true,
			"time":          true,
			"sort":          true,
			"bytes":         true,
			// Blocked: os, os/exec, net, net/http, syscall, unsafe.
		},
	}
}

func (s *SandboxExecutor) ExecuteMutation(ctx context.Context, payload types.MutationPayload) (bool, error) {
	if payload.PatchProgram == "" {
		return false, fmt.Errorf("payload %s/%s carries no patch program", payload.Signature, payload.VersionID)
	}
	if err := s.validateImports(payload.PatchProgram); err != nil {
		return false, fmt.Errorf("patch program rejected: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return false, fmt.Errorf("loading interpreter stdlib: %w", err)
	}

	if _, err := i.Eval(wrapProgram(payload.PatchProgram)); err != nil {
		return false, fmt.Errorf("patch program evaluation failed: %w", err)
	}

	applyVal, err := i.Eval("main.Apply")
	if err != nil {
		return false, fmt.Errorf("patch program has no Apply function: %w", err)
	}
	apply, ok := applyVal.Interface().(func(map[string]interface{}) (bool, error))
	if !ok {
		return false, fmt.Errorf("Apply has wrong signature, want func(map[string]interface{}) (bool, error)")
	}

	type result struct {
		ok  bool
		err error
	}
	results := make(chan result, 1)
	go func() {
		ok, err := apply(payload.Manifest)
		results <- result{ok, err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			s.log.Error("patch program for %s/%s failed: %v", payload.Signature, payload.VersionID, r.err)
		}
		return r.ok, r.err
	case <-ctx.Done():
		return false, fmt.Errorf("patch program timed out: %w", ctx.Err())
	}
}

// validateImports scans the program source for import statements and rejects
// anything outside the allowlist.
func (s *SandboxExecutor) validateImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			pkg := strings.Trim(trimmed, `"`)
			if pkg != "" && !s.allowedImports[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
			if !s.allowedImports[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

func wrapProgram(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
