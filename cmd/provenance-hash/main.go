package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

// provenance-hash prints the content fingerprint the gateway expects for
// each file argument and, given a creator wallet and registration program,
// where its registration account would live.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("provenance-hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	wallet := fs.String("wallet", "", "creator wallet address (optional)")
	program := fs.String("program", "", "registration program id (required with -wallet)")
	plain := fs.Bool("plain", false, "print only the hash, one per line")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	red := color.New(color.FgRed)
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: provenance-hash [-wallet ADDR -program ID] [-plain] FILE...")
		return 2
	}

	var programs ledger.Programs
	var creator address.Address
	withAddress := *wallet != ""
	if withAddress {
		var err error
		if creator, err = address.Parse(*wallet); err != nil {
			red.Fprintf(stderr, "invalid -wallet: %v\n", err)
			return 2
		}
		if programs.Registration, err = address.Parse(*program); err != nil {
			red.Fprintf(stderr, "invalid -program: %v\n", err)
			return 2
		}
	}

	failed := false
	for _, path := range fs.Args() {
		digest, err := hashFile(path)
		if err != nil {
			red.Fprintf(stderr, "✗ %s: %v\n", path, err)
			failed = true
			continue
		}
		if *plain {
			fmt.Fprintln(stdout, digest)
			continue
		}
		color.New(color.FgGreen).Fprintf(stdout, "✓ %s\n", path)
		fmt.Fprintf(stdout, "  contentHash:         %s\n", digest)
		if !withAddress {
			continue
		}
		h, err := protocol.ParseHash32(digest)
		if err == nil {
			var reg address.Address
			if reg, err = programs.RegistrationAddress(creator, h); err == nil {
				color.New(color.FgCyan).Fprintf(stdout, "  registrationAddress: %s\n", reg)
				continue
			}
		}
		red.Fprintf(stderr, "✗ %s: registration address: %v\n", path, err)
		failed = true
	}
	if failed {
		return 1
	}
	return 0
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return protocol.ContentHash(f)
}
