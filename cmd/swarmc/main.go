// Command swarmc compiles textual swarm-ir files to WebAssembly modules.
//
// Usage:
//
//	swarmc [-o out.wasm] [--no-opt] <input.swir>
//
// Target configuration comes from the environment: SWARMC_MEMORY_PAGES
// sets the initial linear memory size and SWARMC_SATURATING_FTOI selects
// saturating float-to-int lowering.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/charmbracelet/lipgloss"
	"github.com/mna/mainer"
	"go.uber.org/zap"
	"golang.org/x/term"

	swarmir "github.com/IQBigBang/swarm-ir"
	"github.com/IQBigBang/swarm-ir/emit"
	"github.com/IQBigBang/swarm-ir/ir"
	"github.com/IQBigBang/swarm-ir/irtext"
	"github.com/IQBigBang/swarm-ir/passes"
)

const binName = "swarmc"

var (
	// placeholder values, replaced on build
	version   = "{v}"
	buildDate = "{d}"
)

var usage = fmt.Sprintf(`usage: %s [<option>...] <input.swir>
       %[1]s -h|--help
       %[1]s -v|--version

Compile a textual swarm-ir file to a WebAssembly module.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       -o --output <file>        Output file (default: input with .wasm).
       --no-opt                  Disable the peephole optimizer.
       --verbose                 Log the pipeline stages to stderr.

Target configuration is read from the environment:
       SWARMC_MEMORY_PAGES      Initial memory size in 64KiB pages (default 1).
       SWARMC_SATURATING_FTOI   Use saturating float-to-int conversion.
`, binName)

// envConf is the target configuration read from the environment.
type envConf struct {
	MemoryPages    uint32 `env:"SWARMC_MEMORY_PAGES" envDefault:"1"`
	SaturatingFtoi bool   `env:"SWARMC_SATURATING_FTOI" envDefault:"false"`
}

type cmd struct {
	Help    bool   `flag:"h,help"`
	Version bool   `flag:"v,version"`
	Output  string `flag:"o,output"`
	NoOpt   bool   `flag:"no-opt"`
	Verbose bool   `flag:"verbose"`

	args []string
}

func (c *cmd) SetArgs(args []string) {
	c.args = args
}

func (c *cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) != 1 {
		return fmt.Errorf("exactly one input file is required")
	}
	return nil
}

func (c *cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{EnvVars: false}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, usage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, usage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, version, buildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.run(ctx, stdio); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s %s\n", errLabel(), err)
		return mainer.Failure
	}
	return mainer.Success
}

// errLabel renders the error prefix, styled when stderr is a terminal.
func errLabel() string {
	label := "error:"
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(label)
	}
	return label
}

func (c *cmd) run(ctx context.Context, stdio mainer.Stdio) error {
	var conf envConf
	if err := env.Parse(&conf); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if c.Verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
		passes.SetLogger(logger)
		emit.SetLogger(logger)
	}

	input := c.args[0]
	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m := ir.NewModule(ir.ModuleConf{
		InitialMemoryPages: conf.MemoryPages,
		SaturatingFtoi:     conf.SaturatingFtoi,
	})
	if err := irtext.ParseModule(m, string(src)); err != nil {
		return err
	}

	out, err := swarmir.CompileToWasm(m, !c.NoOpt)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = strings.TrimSuffix(input, ".swir") + ".wasm"
	}
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdio.Stdout, "%s: %d bytes\n", output, len(out))
	return nil
}

func main() {
	c := &cmd{}
	os.Exit(int(c.Main(os.Args, mainer.CurrentStdio())))
}
