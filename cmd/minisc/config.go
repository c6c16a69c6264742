// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
)

const defaultLogLevel = "info"

// config defines the configuration options for minisc.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Expression string `short:"e" long:"expression" description:"Parse a miniscript expression and show its analysis"`
	Compile    string `short:"c" long:"compile" description:"Compile a policy into a miniscript expression and its script"`
	Decode     string `short:"d" long:"decode" description:"Decode a hex encoded witness script into its miniscript expression"`
	Lift       string `short:"l" long:"lift" description:"Lift a miniscript expression into its semantic policy"`
	Tree       bool   `short:"t" long:"tree" description:"Draw the expression tree of the result"`
	DebugLevel string `short:"D" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel: defaultLogLevel,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Exactly one mode of operation must be selected.
	numModes := 0
	for _, mode := range []string{
		cfg.Expression, cfg.Compile, cfg.Decode, cfg.Lift,
	} {
		if mode != "" {
			numModes++
		}
	}
	if numModes != 1 {
		err := errors.New("exactly one of --expression, --compile, " +
			"--decode or --lift must be given")
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Validate debug log level.
	if _, ok := btclog.LevelFromString(cfg.DebugLevel); !ok {
		err := fmt.Errorf("the specified debug level [%v] is invalid",
			cfg.DebugLevel)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
