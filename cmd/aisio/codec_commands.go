package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"aisio/internal/codecproc"
	"aisio/internal/wire"
)

// The codec commands read no configuration so they stay cheap to spawn as an
// external codec provider.
func newCodecCommand() *cobra.Command {
	var charset string

	cmd := &cobra.Command{
		Use:         "codec",
		Short:       "Encode and decode wire records",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	cmd.PersistentFlags().StringVar(&charset, "charset", "utf-8", "Legacy string charset")

	cmd.AddCommand(&cobra.Command{
		Use:     "encode [json]",
		Short:   "Turn a JSON [name, args] document into a record",
		Example: `  aisio codec encode '["move", [10, 20]]'`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFor(charset)
			if err != nil {
				return err
			}
			input, err := inputArg(cmd, args)
			if err != nil {
				return err
			}
			record, err := codecproc.SerializeJSON(codec, input)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(record))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "decode [record]",
		Short:   "Turn a record into a JSON [name, args] document ([] on failure)",
		Example: `  aisio codec decode 'a|0x...#'`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFor(charset)
			if err != nil {
				return err
			}
			input, err := inputArg(cmd, args)
			if err != nil {
				return err
			}
			doc, err := codecproc.UnserializeJSON(codec, input)
			if err != nil {
				// Providers read an empty array as a failed decode.
				fmt.Fprintln(cmd.OutOrStdout(), "[]")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return err
		},
	})

	return cmd
}

func codecFor(charset string) (*wire.Codec, error) {
	enc, err := wire.CharsetByName(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return wire.Default, nil
	}
	return wire.New(wire.WithCharset(enc)), nil
}

// inputArg returns the positional argument, or stdin when none is given.
func inputArg(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	trimmed := strings.TrimRight(string(data), "\r\n")
	if trimmed == "" {
		return nil, fmt.Errorf("no input: pass an argument or pipe it on stdin")
	}
	return []byte(trimmed), nil
}
