package cmd

import (
	"fmt"
	"io"

	"github.com/anicoll/homeconnect-integration/pkg/hasher"
	"github.com/urfave/cli/v2"
)

const apiKeyBytes = 32

// APIKeyCommand prints a fresh API key and the hash to put in SERVER_API_KEY_HASH.
func APIKeyCommand(ctx *cli.Context) error {
	return printAPIKey(ctx.App.Writer)
}

func printAPIKey(w io.Writer) error {
	key, err := hasher.GenerateToken(apiKeyBytes)
	if err != nil {
		return err
	}
	hash, err := hasher.HashPassword([]byte(key))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "api key: %s\nSERVER_API_KEY_HASH=%s\n", key, hash)
	return err
}
