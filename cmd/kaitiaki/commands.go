package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/roelfdiedericks/kaitiaki/internal/config"
	khttp "github.com/roelfdiedericks/kaitiaki/internal/http"
	"github.com/roelfdiedericks/kaitiaki/internal/llm"
	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Listen string `help:"Listen address, overrides server.listen."`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := newApp(g, config.Overrides{Server: config.ServerConfig{Listen: c.Listen}})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer a.bus.Unsubscribe(a.persistState())
	if err := a.watchSecrets(ctx); err != nil {
		L_warn("secrets: watch disabled", "error", err)
	}

	srv, err := khttp.NewServer(&khttp.ServerConfig{
		Listen:    a.cfg.Server.Listen,
		Token:     a.cfg.Server.Token,
		RateLimit: a.cfg.Server.RateLimit,
		Burst:     a.cfg.Server.Burst,

		TrustedProxies:  a.cfg.Server.TrustedProxies,
		GenerateTimeout: a.cfg.Server.GenerateTimeout.Std(),
	}, a.orch, a.metrics)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	st := a.orch.Status(ctx)
	L_info("kaitiaki: ready", "version", version, "listen", a.cfg.Server.Listen,
		"models", a.registry.Len(), "available", len(st.AvailableModels), "chain", st.ChainOrder)

	<-ctx.Done()
	L_info("kaitiaki: shutting down")
	return srv.Stop(context.Background())
}

// GenerateCmd runs one generation and prints the text.
type GenerateCmd struct {
	Prompt string `arg:"" help:"Prompt text, or - to read from stdin."`
	Model  string `help:"Preferred model." short:"m"`
	JSON   bool   `help:"Print the full result as JSON." name:"json"`
}

func (c *GenerateCmd) Run(g *Globals) error {
	prompt, err := readPrompt(c.Prompt, os.Stdin)
	if err != nil {
		return err
	}

	a, err := newApp(g, config.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.orch.GenerateWithFallback(ctx, prompt, c.Model)
	if err != nil {
		var ex *llm.ExhaustedError
		if errors.As(err, &ex) {
			printAttempts(os.Stderr, ex.Attempts)
		}
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.Text)
	if res.FailedOver {
		L_info("generate: served by fallback", "model", res.Model, "failed", len(res.Attempts))
	}
	return nil
}

func readPrompt(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func printAttempts(w io.Writer, attempts []llm.Attempt) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tKIND\tREASON")
	for _, at := range attempts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", at.Model, at.Kind, llm.Explain(at.Err))
	}
	tw.Flush()
}

// ModelsCmd lists models that can currently generate.
type ModelsCmd struct {
	All bool `help:"Include unavailable models with the reason." short:"a"`
}

func (c *ModelsCmd) Run(g *Globals) error {
	a, err := newApp(g, config.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if !c.All {
		for _, name := range a.orch.ListAvailableModels(ctx) {
			fmt.Println(name)
		}
		return nil
	}
	return writeModels(os.Stdout, a.orch.Status(ctx).Models)
}

func writeModels(w io.Writer, models []llm.ModelStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tKIND\tAVAILABLE\tREASON")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", m.Name, m.Kind, m.Available, m.Reason)
	}
	return tw.Flush()
}

// StatusCmd prints the status report.
type StatusCmd struct {
	JSON    bool `help:"Print as JSON." name:"json"`
	Metrics bool `help:"Also print recorded metrics."`
}

func (c *StatusCmd) Run(g *Globals) error {
	a, err := newApp(g, config.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.orch.Status(context.Background())
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	writeStatus(os.Stdout, st)
	if c.Metrics {
		fmt.Println()
		return a.metrics.WriteTable(os.Stdout)
	}
	return nil
}

func writeStatus(w io.Writer, st llm.Status) {
	fmt.Fprintf(w, "%s\n", st.Name)
	fmt.Fprintf(w, "  chain:      %s\n", joinKinds(st.ChainOrder))
	fmt.Fprintf(w, "  providers:  %s\n", joinKinds(st.AvailableProviders))
	fmt.Fprintf(w, "  models:     %s\n", orNone(strings.Join(st.AvailableModels, ", ")))
	fmt.Fprintf(w, "  preferred:  %s\n", orNone(st.PreferredModel))
	fmt.Fprintf(w, "  provider:   %s\n", orNone(string(st.CurrentProvider)))
	fmt.Fprintf(w, "  reloaded:   %s\n", st.LastReload.Format("2006-01-02 15:04:05"))
	for _, d := range st.Diagnostics {
		fmt.Fprintf(w, "  skipped:    %s\n", d)
	}
}

func joinKinds(kinds []llm.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return orNone(strings.Join(parts, ", "))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("kaitiaki %s\n", version)
	return nil
}
