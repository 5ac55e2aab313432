// Command tcpserver 启动一个按行或按块应答的 TCP 服务器。
//
//	tcpserver start -p 7000 -r Acknowledged
//	tcpserver start --config tcpserver.toml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/wyfcoding/tcpserver/app"
	"github.com/wyfcoding/tcpserver/config"
)

// version 在构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "tcpserver: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] != "start" {
		if len(args) > 0 && (args[0] == "--version" || args[0] == "version") {
			fmt.Println(version)
			return nil
		}
		usage()
		return errors.New("expected subcommand \"start\"")
	}

	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	port := fs.IntP("port", "p", 0, "port to listen on (required unless set in config)")
	fs.StringP("response", "r", "Acknowledged", "response sent to every message")
	fs.String("handler", "answer", "I/O handler: answer or sink")
	fs.String("framing", "raw", "message framing: raw or line")
	fs.Bool("debug", false, "log wire level events")
	fs.Bool("verbose", true, "print every transaction to stdout")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}
	if *port == 0 && *configPath == "" {
		return errors.New("--port is required when no --config is given")
	}

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		return err
	}
	conf := config.Default()
	if err := loader.Load(*configPath, conf); err != nil {
		return err
	}

	b := app.NewBuilder("tcpserver", conf).
		WithOutput(os.Stdout).
		WithVersion(version)
	a, err := b.Build(context.Background())
	if err != nil {
		return err
	}
	config.PrintWithMask(slog.Default(), conf)
	loader.Watch(b.Reload)

	return a.Run(context.Background())
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tcpserver start [-p port] [-r response] [--handler answer|sink] [--framing raw|line] [--config file] [--debug] [--verbose]")
}
