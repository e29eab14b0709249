package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/native"
	"github.com/bpowers/simlin-sub000/sim"
	"github.com/bpowers/simlin-sub000/wasmengine"
)

func main() {
	var (
		projectFile = flag.String("project", "", "Path to project file (protobuf, XMILE or Vensim MDL)")
		engineKind  = flag.String("engine", "native", "Engine backend: native or wasm")
		wasmFile    = flag.String("wasm", "", "Path to engine wasm build (for -engine wasm)")
		modelName   = flag.String("model", "", "Model to inspect (default: main model)")
		varNames    = flag.String("vars", "", "Variables to print series for (comma-separated)")
		runTo       = flag.Float64("to", 0, "Run to this simulated time instead of the end")
		ltm         = flag.Bool("ltm", false, "Enable Loops-That-Matter instrumentation")
		list        = flag.Bool("list", false, "List models and variables and exit")
		exportXMILE = flag.String("export-xmile", "", "Write the project as XMILE to this path and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *projectFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: siminspect -project <file> [-model name] [-vars a,b] [-to t]")
		fmt.Fprintln(os.Stderr, "       siminspect -project <file> -list")
		fmt.Fprintln(os.Stderr, "       siminspect -project <file> -i  (interactive mode)")
		os.Exit(1)
	}

	eng, cleanup, err := newEngine(*engineKind, *wasmFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(eng, *projectFile, *modelName, *ltm); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := inspect(eng, *projectFile, *modelName, *varNames, *runTo, *ltm, *list, *exportXMILE); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newEngine picks the requested backend. The cleanup func tears down
// whatever the backend holds open.
func newEngine(kind, wasmFile string) (simlin.Engine, func(), error) {
	switch kind {
	case "native":
		eng, err := native.Load()
		if err != nil {
			return nil, nil, err
		}
		return eng, func() {}, nil

	case "wasm":
		if wasmFile == "" {
			return nil, nil, fmt.Errorf("-engine wasm requires -wasm <file>")
		}
		data, err := os.ReadFile(wasmFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read wasm module: %w", err)
		}
		ctx := context.Background()
		eng, err := wasmengine.New(ctx, data)
		if err != nil {
			return nil, nil, err
		}
		return eng, func() { _ = eng.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q (want native or wasm)", kind)
	}
}

func inspect(eng simlin.Engine, projectFile, modelName, varsStr string, runTo float64, ltm, listOnly bool, exportPath string) error {
	p, err := sim.OpenFile(eng, projectFile)
	if err != nil {
		return err
	}
	defer p.Close()

	if exportPath != "" {
		data, err := p.ExportXMILE()
		if err != nil {
			return err
		}
		return os.WriteFile(exportPath, data, 0o644)
	}

	models, err := p.ModelNames()
	if err != nil {
		return err
	}
	fmt.Printf("Project: %s\n", projectFile)
	fmt.Printf("Models: %s\n", strings.Join(models, ", "))

	m, err := p.Model(modelName)
	if err != nil {
		return err
	}
	defer m.Close()

	vars, err := m.VarNames()
	if err != nil {
		return err
	}
	fmt.Printf("\nVariables (%d):\n", len(vars))
	for _, v := range vars {
		deps, err := m.IncomingLinks(v)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			fmt.Printf("  %s <- %s\n", v, strings.Join(deps, ", "))
		} else {
			fmt.Printf("  %s\n", v)
		}
	}

	if listOnly {
		return nil
	}

	s, err := m.NewSim(ltm)
	if err != nil {
		return err
	}
	defer s.Close()

	if runTo > 0 {
		err = s.RunTo(runTo)
	} else {
		err = s.RunToEnd()
	}
	if err != nil {
		return err
	}

	steps, err := s.StepCount()
	if err != nil {
		return err
	}
	fmt.Printf("\nSimulated %d steps\n", steps)

	if ltm {
		loops, err := s.Loops()
		if err != nil {
			return err
		}
		fmt.Printf("\nFeedback loops (%d):\n", len(loops))
		for _, loop := range loops {
			fmt.Printf("  %s (%s): %s\n", loop.ID, loop.Polarity, strings.Join(loop.Variables, " -> "))
		}
	}

	if varsStr == "" {
		return nil
	}
	for _, name := range strings.Split(varsStr, ",") {
		name = strings.TrimSpace(name)
		series, err := s.Series(name)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s:\n", name)
		for i, v := range series {
			fmt.Printf("  [%d] %g\n", i, v)
		}
	}
	return nil
}
