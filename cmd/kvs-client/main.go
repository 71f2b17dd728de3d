// Command kvs-client is the network client front end. Grounded on the
// original source's src/bin/kvs-client.rs: one subcommand per invocation,
// dialing --addr fresh for the single request/reply exchange.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aether-kv/kvs/internal/client"
	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "kvs-client",
		Usage: "key-value store network client",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:4000", Usage: "server address"},
		},
		Commands: []*cli.Command{
			{
				Name:      "set",
				ArgsUsage: "KEY VALUE",
				Action:    runSet,
			},
			{
				Name:      "get",
				ArgsUsage: "KEY",
				Action:    runGet,
			},
			{
				Name:      "rm",
				ArgsUsage: "KEY",
				Action:    runRemove,
			},
			{
				Name:   "terminate",
				Action: runTerminate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("addr"))
}

func runSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("Usage: kvs-client set KEY VALUE", 255)
	}
	if err := newClient(c).Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return keyAwareExit(err)
	}
	return nil
}

func runGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: kvs-client get KEY", 255)
	}
	value, found, err := newClient(c).Get(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 255)
	}
	if !found {
		fmt.Println("Key not found")
		return nil
	}
	fmt.Println(value)
	return nil
}

func runRemove(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: kvs-client rm KEY", 255)
	}
	if err := newClient(c).Remove(c.Args().Get(0)); err != nil {
		return keyAwareExit(err)
	}
	return nil
}

func runTerminate(c *cli.Context) error {
	if err := newClient(c).Kill(); err != nil {
		return cli.Exit(err.Error(), 255)
	}
	return nil
}

// keyAwareExit prints "Key not found" for a missing key before exiting
// with the shared failure code, matching the original source's set/rm
// behavior for KvsError::KeyNotExist.
func keyAwareExit(err error) error {
	var notExist *kvserrors.ErrKeyNotExist
	if errors.As(err, &notExist) {
		fmt.Println("Key not found")
		return cli.Exit("", 255)
	}
	return cli.Exit(err.Error(), 255)
}
