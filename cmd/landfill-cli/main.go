// landfill-cli is an interactive REPL for inspecting and mutating a
// Landfill store.
//
// Usage:
//
//	landfill-cli [--config path] [--store-dir path]
//
// Commands (in REPL):
//
//	put <text>       Store text content, print its offset
//	get <offset>     Retrieve content by offset
//	stat             Show store counters
//	verify <offset>  Re-read an offset and print its digest
//	help             Show this help
//	exit / quit / q  Exit
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/calvinalkan/landfill"
	"github.com/calvinalkan/landfill/internal/storeconfig"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("landfill-cli", pflag.ContinueOnError)

	configPath := fs.String("config", "", "path to a JWCC config file")
	storeDir := fs.String("store-dir", "", "store directory (overrides config file)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	explicit := *configPath != ""
	path := storeconfig.SearchPath(*configPath)

	cfg, err := storeconfig.Load(path, explicit, *storeDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := landfill.Open(cfg.StoreDir, landfill.Options{})
	if err != nil {
		return fmt.Errorf("opening store %q: %w", cfg.StoreDir, err)
	}
	defer store.Close()

	repl := &REPL{store: store, storeDir: cfg.StoreDir}

	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	store    *landfill.Store
	storeDir string
	liner    *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".landfill_cli_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("landfill-cli (store=%s)\n", r.storeDir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("landfill> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(args)

		case "get":
			r.cmdGet(args)

		case "stat":
			r.cmdStat()

		case "verify":
			r.cmdVerify(args)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"put", "get", "stat", "verify", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <text>       Store text content, print its offset")
	fmt.Println("  get <offset>     Retrieve content by offset")
	fmt.Println("  stat             Show store counters")
	fmt.Println("  verify <offset>  Re-read an offset and print its digest")
	fmt.Println("  help             Show this help")
	fmt.Println("  exit / quit / q  Exit")
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: put <text>")

		return
	}

	content := strings.Join(args, " ")

	offset, err := r.store.Put([]byte(content))
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: offset=%d\n", offset)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <offset>")

		return
	}

	offset, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing offset: %v\n", err)

		return
	}

	data, d, err := r.store.Get(offset)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("Content: %q\n", string(data))
	fmt.Printf("Digest:  %s\n", hex.EncodeToString(d[:]))
}

func (r *REPL) cmdVerify(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: verify <offset>")

		return
	}

	offset, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing offset: %v\n", err)

		return
	}

	_, d, err := r.store.Get(offset)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: offset %d has digest %s\n", offset, hex.EncodeToString(d[:]))
}

func (r *REPL) cmdStat() {
	s := r.store.Stat()

	fmt.Printf("Store stats:\n")
	fmt.Printf("  Head offset:      %d\n", s.HeadOffset)
	fmt.Printf("  Mapped capacity:  %d bytes\n", s.MappedCapacity)
	fmt.Printf("  Index buckets:    %d\n", s.IndexBuckets)
	fmt.Printf("  Index slots:      %d\n", s.IndexSlots)
}
