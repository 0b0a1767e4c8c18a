// Command signpath prints an image path with its signature appended.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dunamismax/imgopt/internal/signature"
	"github.com/rs/zerolog/log"
)

type cli struct {
	Path   string `arg:"" help:"Image path to sign, e.g. /image/abc/300x200/webp"`
	Secret string `help:"Signing secret" env:"URL_SIGNING_SECRET"`
	Verify bool   `help:"Treat path as signed and print it without its signature if valid"`
}

func (c *cli) Run() error {
	if c.Secret == "" {
		return errors.New("a signing secret is required (--secret or URL_SIGNING_SECRET)")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with /: %s", c.Path)
	}

	if c.Verify {
		stripped, err := signature.Verify(c.Path, c.Secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, stripped)
		return nil
	}

	fmt.Fprintln(os.Stdout, signature.Sign(c.Path, c.Secret))
	return nil
}

func main() {
	var args cli
	ctx := kong.Parse(
		&args,
		kong.Name("signpath"),
		kong.Description("Sign image paths for the edge filter."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}
