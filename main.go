package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/homeconnect-integration/cmd"
)

func main() {
	app := &cli.App{
		Name:   "homeconnect-sync",
		Usage:  "keeps a live mirror of Home Connect appliances and fans it out to mqtt, postgres and influx",
		Action: cmd.SyncCommand,
		Commands: []*cli.Command{
			{
				Name:   "api-key",
				Usage:  "generate an API key for the http server and print its hash",
				Action: cmd.APIKeyCommand,
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"CONFIG_FILE"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
