// Command ktask boots the simulated kernel and runs the user program.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/mattn/go-tty"
	"github.com/viant/afs"
	"github.com/viant/ktask"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		configURL = flag.String("config", "", "configuration URL (yaml)")
		program   = flag.String("program", "", "user program URL, overrides config")
		cpus      = flag.Int("cpus", 0, "number of processors, overrides config")
		ticks     = flag.Int("ticks", 1000, "ticks per processor, 0 runs until interrupted")
		keyboard  = flag.Bool("tty", false, "feed terminal input to the keyboard")
		dump      = flag.Bool("dump", false, "print the effective configuration and exit")
	)
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx, *configURL, *program, *cpus, *ticks, *keyboard, *dump); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, configURL, program string, cpus, ticks int, keyboard, dump bool) error {
	fs := afs.New()
	cfg := ktask.DefaultConfig()
	if configURL != "" {
		var err error
		if cfg, err = ktask.LoadConfig(ctx, fs, configURL); err != nil {
			return err
		}
	}
	if program != "" {
		cfg.Program = program
	}
	if cpus > 0 {
		cfg.CPUs = cpus
	}
	if dump {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	srv, err := ktask.New(ctx, ktask.WithConfig(cfg), ktask.WithFS(fs))
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close(context.Background()) }()

	if keyboard {
		terminal, err := tty.Open()
		if err != nil {
			return fmt.Errorf("failed to open tty: %w", err)
		}
		defer terminal.Close()
		restore, err := terminal.Raw()
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer func() { _ = restore() }()
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go feed(ctx, cancel, terminal, srv)
	}

	runErr := srv.Runtime().Run(ctx, ticks)
	summary := struct {
		BootID    string `json:"bootId"`
		Ticks     uint64 `json:"ticks"`
		FreePages int    `json:"freePages"`
		UsedPages int    `json:"usedPages"`
		Stats     any    `json:"stats"`
		Tasks     any    `json:"tasks"`
	}{srv.BootID(), srv.Ticks(), srv.FreePages(), srv.UsedPages(), srv.Stats(), srv.Tasks()}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n%s\n", data)
	return runErr
}

// feed forwards terminal bytes to the console keyboard. Ctrl-C stops the
// machine since raw mode swallows the signal.
func feed(ctx context.Context, cancel context.CancelFunc, terminal *tty.TTY, srv *ktask.Service) {
	for ctx.Err() == nil {
		r, err := terminal.ReadRune()
		if err != nil {
			cancel()
			return
		}
		if r == 3 {
			cancel()
			return
		}
		if r == '\r' {
			r = '\n'
		}
		// a full latch drops the key, as the device would
		_ = srv.Console().Press(ctx, byte(r))
	}
}
