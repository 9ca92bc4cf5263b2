package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	verbose     = flag.Bool("v", false, "verbose output")
	short       = flag.Bool("short", false, "run only short tests")
	race        = flag.Bool("race", false, "enable the race detector")
	cover       = flag.Bool("cover", false, "report coverage")
	integration = flag.Bool("integration", false, "also run tests that reach the Binance testnet")
	timeout     = flag.Duration("timeout", 5*time.Minute, "test timeout")
	testRegexp  = flag.String("run", "", "run only tests matching the regular expression")
	pkgs        = flag.String("pkg", "./...", "package pattern")
)

func main() {
	flag.Parse()

	args := []string{"test"}
	if *verbose {
		args = append(args, "-v")
	}
	if *short {
		args = append(args, "-short")
	}
	if *race {
		args = append(args, "-race")
	}
	if *cover {
		args = append(args, "-cover")
	}
	args = append(args, fmt.Sprintf("-timeout=%s", timeout.String()))
	if *testRegexp != "" {
		args = append(args, fmt.Sprintf("-run=%s", *testRegexp))
	}
	args = append(args, *pkgs)

	// The integration flag is defined by the root package tests only.
	if *integration {
		if *pkgs != "./..." && *pkgs != "." {
			fmt.Println("-integration applies to the root package; use -pkg . or ./...")
			os.Exit(2)
		}
		args[len(args)-1] = "."
		args = append(args, "-args", "-integration")
	}

	cmd := exec.Command("go", args...)
	env := os.Environ()
	env = append(env, "TEST_ENV=true")
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fmt.Printf("Running tests with args: %s\n", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Printf("Error running tests: %v\n", err)
		os.Exit(1)
	}
}
