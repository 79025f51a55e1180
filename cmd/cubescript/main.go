// Command cubescript compiles and runs a single CubeScript source file.
// There is no REPL or line-editing integration (spec.md §1's Non-goals);
// this is a thin script runner for embedding tests and CI, not an
// interactive front-end.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cubescript/cubescript"
	"github.com/cubescript/cubescript/config"
	"github.com/cubescript/cubescript/stdlib"
)

func main() {
	var trace bool
	var configDir string
	flag.BoolVar(&trace, "trace", false, "enable compile/runtime diagnostic logging")
	flag.StringVar(&configDir, "config-dir", "", "directory containing cubescript.toml to apply before running")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: cubescript [-trace] [-config-dir DIR] SCRIPT")
		os.Exit(2)
	}
	path := flag.Arg(0)

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cubescript: %v\n", err)
		os.Exit(1)
	}

	var opts = []cubescript.Option{
		cubescript.WithOutput(os.Stdout),
	}
	if trace {
		opts = append(opts, cubescript.WithLogf(log.Printf))
	}
	s := cubescript.NewState(opts...)

	if err := stdlib.Register(s); err != nil {
		fmt.Fprintf(os.Stderr, "cubescript: %v\n", err)
		os.Exit(1)
	}

	t := s.NewThread()

	if configDir != "" {
		cfg, err := config.Load(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cubescript: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Apply(t); err != nil {
			fmt.Fprintf(os.Stderr, "cubescript: %v\n", err)
			os.Exit(1)
		}
		s.ClearOverrides()
	}

	if _, err := t.RunString(string(src)); err != nil {
		fmt.Fprintf(os.Stderr, "cubescript: %v\n", err)
		os.Exit(1)
	}
}
