package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/downfa11-org/kvs/pkg/client"
	"github.com/downfa11-org/kvs/pkg/controller"
	"github.com/downfa11-org/kvs/pkg/engine"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

// backend is what the CLI needs from either a local store or a server.
type backend interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Remove(key string) error
	Compact() error
	Close() error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kvs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", ".", "store directory (local mode)")
	addr := fs.String("addr", "", "server address host:port (remote mode)")
	gzip := fs.Bool("gzip", false, "gzip frames in remote mode")
	compression := fs.String("compression", "none", "record compression for new local stores")
	logLevel := fs.String("log-level", "warn", "Log Level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: kvs [flags] set <key> <value> | get <key> | rm <key> | compact")
		fmt.Fprintln(stderr, "       kvs [flags]    (read commands from stdin)")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	util.SetOutput(stderr)
	util.SetLevel(util.ParseLogLevel(*logLevel))

	var store backend
	var repl func(string) string
	if *addr != "" {
		c, err := client.Dial(*addr, client.Options{EnableGzip: *gzip})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		store = c
		repl = func(line string) string {
			resp, err := c.Do(line)
			if err != nil {
				return "ERROR: " + err.Error()
			}
			return resp
		}
	} else {
		cfg := engine.DefaultConfig(*dataDir)
		cfg.AutoCompact = false
		cfg.CompressionType = *compression
		e, err := engine.Open(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		store = e
		ch := controller.NewCommandHandler(e)
		ctx := controller.NewClientContext("cli", "stdin")
		repl = func(line string) string {
			return ch.HandleCommand(line, ctx)
		}
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}()

	if fs.NArg() == 0 {
		return runREPL(stdin, stdout, repl)
	}
	return runCommand(store, fs.Args(), stdout, stderr)
}

func runCommand(store backend, args []string, stdout, stderr io.Writer) int {
	cmd, rest := strings.ToLower(args[0]), args[1:]
	want := map[string]int{"set": 2, "get": 1, "rm": 1, "compact": 0}
	n, ok := want[cmd]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n", args[0])
		return 2
	}
	if len(rest) != n {
		fmt.Fprintf(stderr, "Error: %s expects %d argument(s), got %d\n", cmd, n, len(rest))
		return 2
	}

	var err error
	switch cmd {
	case "set":
		err = store.Set(rest[0], rest[1])
	case "get":
		var value string
		var found bool
		value, found, err = store.Get(rest[0])
		if err == nil {
			if found {
				fmt.Fprintln(stdout, value)
			} else {
				fmt.Fprintln(stdout, controller.RespKeyNotFound)
			}
		}
	case "rm":
		err = store.Remove(rest[0])
		if errors.Is(err, types.ErrKeyNotFound) {
			fmt.Fprintln(stdout, controller.RespKeyNotFound)
			return 1
		}
	case "compact":
		err = store.Compact()
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runREPL(stdin io.Reader, stdout io.Writer, handle func(string) string) int {
	fmt.Fprintln(stdout, "🔹 kvs ready. Type HELP for commands.")

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "EXIT") || strings.EqualFold(line, "QUIT") {
			break
		}
		fmt.Fprintln(stdout, handle(line))
	}
	return 0
}
