package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "vgmsg", "config.yaml")
}

func makeLogger(ctx *cli.Context) zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	log := zerolog.New(writer).With().Timestamp().Logger()
	if ctx.Bool("json-log") {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log
}

func main() {
	_ = godotenv.Load()
	app := &cli.App{
		Name:    "vgmsg",
		Usage:   "Messaging client for the Vantage CRM dashboard",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: getConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "json-log",
				Usage: "Emit JSON logs instead of the console format",
			},
		},
		Commands: []*cli.Command{
			runCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
