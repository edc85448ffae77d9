// Command kaitiaki serves text generation across several LLM providers,
// falling back through a configured chain when one fails.
package main

import (
	"github.com/alecthomas/kong"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config  string `help:"Config file (default: ./kaitiaki.toml or ~/.kaitiaki/kaitiaki.toml)." type:"path" short:"c"`
	EnvFile string `help:"Secrets .env file, overrides llm.env_file." type:"path"`
	Debug   bool   `help:"Enable debug logging." short:"d"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API."`
	Generate GenerateCmd `cmd:"" help:"Generate text for a prompt."`
	Models   ModelsCmd   `cmd:"" help:"List models that can currently generate."`
	Status   StatusCmd   `cmd:"" help:"Show provider and model status."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("kaitiaki"),
		kong.Description("Multi-provider LLM gateway with ordered fallback."),
		kong.UsageOnError(),
	)

	level := LevelWarn
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Settings{Level: level, TimeFormat: "15:04:05", ShowCaller: cli.Debug})

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
