// Command kvs is the embedded CLI front end: it opens the log-structured
// store directly (no network hop) and runs exactly one operation per
// invocation. Grounded on the original source's src/bin/kvs.rs.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aether-kv/kvs/internal/engine"
	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/urfave/cli/v2"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	app := &cli.App{
		Name:  "kvs",
		Usage: "embedded key-value store CLI",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "set KEY to VALUE",
				ArgsUsage: "KEY VALUE",
				Action:    runSet,
			},
			{
				Name:      "get",
				Usage:     "print the value for KEY",
				ArgsUsage: "KEY",
				Action:    runGet,
			},
			{
				Name:      "rm",
				Usage:     "remove KEY",
				ArgsUsage: "KEY",
				Action:    runRemove,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}
}

func openEngine() (*engine.Engine, error) {
	return engine.Open("kvs.db")
}

func runSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("Usage: kvs set KEY VALUE", 255)
	}
	e, err := openEngine()
	if err != nil {
		return cli.Exit(err.Error(), 255)
	}
	defer e.Close()

	if err := e.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return cli.Exit(err.Error(), 255)
	}
	return nil
}

func runGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: kvs get KEY", 255)
	}
	e, err := openEngine()
	if err != nil {
		return cli.Exit(err.Error(), 255)
	}
	defer e.Close()

	value, ok, err := e.Get(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 255)
	}
	if !ok {
		fmt.Println("Key not found")
		return nil
	}
	fmt.Println(value)
	return nil
}

func runRemove(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: kvs rm KEY", 255)
	}
	e, err := openEngine()
	if err != nil {
		return cli.Exit(err.Error(), 255)
	}
	defer e.Close()

	if err := e.Remove(c.Args().Get(0)); err != nil {
		var notExist *kvserrors.ErrKeyNotExist
		if errors.As(err, &notExist) {
			fmt.Println("Key not found")
			return cli.Exit("", 255)
		}
		return cli.Exit(err.Error(), 255)
	}
	return nil
}
