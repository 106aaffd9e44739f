package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "positions":
		err = positionsCmd(args, os.Stdout)
	case "db":
		err = dbCmd(args, os.Stdout)
	case "archive":
		err = archiveCmd(args, os.Stdout)
	case "audit":
		err = auditCmd(args, os.Stdout)
	case "reload", "move", "group":
		err = httpCmd(os.Args[1], args, os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: admin <command> [flags]

offline (server stopped, or json backend):
  positions info|clear|set|list   edit the position ledger
  archive create|list             copy the ledger aside / list copies
  audit outcomes|transfers        read audit segments

index (safe while running):
  db positions-in|outcomes|import

online (talks to a running server):
  reload | move | group`)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
