package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/javelin-vm/javelin/pkg/trace"
	"github.com/javelin-vm/javelin/pkg/vm"
)

var opts struct {
	classpath    string
	libJava      string
	unittestMode bool
	tracing      bool
	jvmti        bool
	storeClasses bool
	verbose      bool
}

var exitCode int

var rootCmd = &cobra.Command{
	Use:   "javelin <main-class> [args...]",
	Short: "A Java virtual machine",
	Long: `javelin loads Java class files, verifies them, and executes bytecode
starting from the main class's public static void main(String[]).

The main class is given by its binary name (foo.Bar) or internal name
(foo/Bar); it is searched on the classpath, a colon-separated list of
directories, jar files and jmod files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.verbose {
			trace.SetLevel(trace.FINE)
		}

		classpath := opts.classpath
		if classpath == "" {
			classpath = "."
		}
		if opts.libJava != "" {
			classpath = classpath + string(filepath.ListSeparator) + opts.libJava
		}

		machine, err := vm.NewVM(vm.Options{
			Classpath:             classpath,
			LibJava:               opts.libJava,
			UnitTestMode:          opts.unittestMode,
			Tracing:               opts.tracing,
			JVMTI:                 opts.jvmti,
			StoreGeneratedClasses: opts.storeClasses,
		})
		if err != nil {
			return err
		}

		mainClass := internalName(args[0])
		exitCode = machine.Run(mainClass, args[1:])
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&opts.classpath, "classpath", "", "colon-separated class search path")
	rootCmd.Flags().StringVar(&opts.libJava, "libjava", "", "path to the base library classes")
	rootCmd.Flags().BoolVar(&opts.unittestMode, "unittest-mode", false, "run public static void test*() methods instead of main")
	rootCmd.Flags().BoolVar(&opts.tracing, "tracing", false, "trace each executed instruction")
	rootCmd.Flags().BoolVar(&opts.jvmti, "jvmti", false, "enable the JVMTI agent scaffolding")
	rootCmd.Flags().BoolVar(&opts.storeClasses, "store-generated-classes", false, "write dynamically defined classes to the working directory")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose load tracing")
}

// internalName converts foo.Bar to foo/Bar; internal names pass through.
func internalName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out[i] = '/'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return exitCode
}
