// Command luago loads and runs Lua 5.1 binary chunks, or disassembles
// them for inspection.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/oisee/luago/pkg/chunk"
	"github.com/oisee/luago/pkg/value"
	"github.com/oisee/luago/pkg/vm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "luago",
		Short:         "Lua 5.1 bytecode loader and virtual machine",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	showDebug := rootCmd.PersistentFlags().Bool("debug", false, "show debug-level VM trace logging")
	maxIndexDepth := rootCmd.PersistentFlags().Int("max-index-depth", 100, "maximum __index/__newindex chain length")
	maxCallDepth := rootCmd.PersistentFlags().Int("max-call-depth", 200, "maximum non-tail call nesting depth")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return nil
	}

	rootCmd.AddCommand(
		newRunCommand(showDebug, maxIndexDepth, maxCallDepth),
		newDisasmCommand(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLevel := log.Info
		if showDebug {
			minLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLevel,
			Output: log.New(os.Stderr, "luago: ", log.StdFlags, nil),
		})
	})
}

func newRunCommand(showDebug *bool, maxIndexDepth, maxCallDepth *int) *cobra.Command {
	return &cobra.Command{
		Use:   "run <chunk> [args...]",
		Short: "Load and execute a Lua 5.1 binary chunk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			proto, err := chunk.Load(f, args[0])
			if err != nil {
				return fmt.Errorf("luago run: %w", err)
			}

			s := vm.New(
				vm.WithMaxIndexDepth(*maxIndexDepth),
				vm.WithMaxCallDepth(*maxCallDepth),
				vm.WithExecTrace(*showDebug),
			)
			log.Debugf(cmd.Context(), "loaded %s (state %s)", args[0], s.ID)

			scriptArgs := make([]value.Value, len(args)-1)
			for i, a := range args[1:] {
				scriptArgs[i] = value.Str(a)
			}
			if _, err := s.RunMain(proto, scriptArgs); err != nil {
				return fmt.Errorf("luago run: %w", err)
			}
			return nil
		},
	}
}

func newDisasmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <chunk>",
		Short: "Disassemble a Lua 5.1 binary chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			proto, err := chunk.Load(f, args[0])
			if err != nil {
				return fmt.Errorf("luago disasm: %w", err)
			}
			dumpPrototype(cmd.OutOrStdout(), proto, 0)
			return nil
		},
	}
}

func dumpPrototype(w io.Writer, p *chunk.Prototype, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Fprintf(w, "%sfunction <%s:%d,%d> (%d instructions, %d params, %d upvalues)\n",
		indent, p.Source, p.LineDefined, p.LastLineDefined, len(p.Code), p.NumParams, p.NumUpvalues)
	for pc, ins := range p.Code {
		info := ins.Op.Info()
		line := p.LineAt(pc)
		switch info.Format {
		case chunk.FormatABx:
			fmt.Fprintf(w, "%s  [%d] line %d\t%-10s A=%d Bx=%d\n", indent, pc, line, info.Name, ins.A, ins.Bx)
		case chunk.FormatAsBx:
			fmt.Fprintf(w, "%s  [%d] line %d\t%-10s A=%d sBx=%d\n", indent, pc, line, info.Name, ins.A, ins.SBx)
		default:
			fmt.Fprintf(w, "%s  [%d] line %d\t%-10s A=%d B=%d C=%d\n", indent, pc, line, info.Name, ins.A, ins.B, ins.C)
		}
	}
	for _, child := range p.Protos {
		dumpPrototype(w, child, depth+1)
	}
}
