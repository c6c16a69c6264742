// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// minisc is a command line driver for the miniscript library. It parses and
// analyzes miniscript expressions, compiles policies, decodes witness scripts
// back into expressions and lifts expressions to their semantic policies.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/miniscript"
	"github.com/btcsuite/miniscript/policy"
)

var (
	cfg *config
	log btclog.Logger
)

// analyze prints the expression, its derived annotations and its script
// encoding. The script hex can only be shown once all variables are bound to
// values, which is the case for decoded scripts but usually not for parsed
// expressions.
func analyze(node *miniscript.AST) error {
	info := node.TypeInfo()
	fmt.Printf("miniscript: %s\n", node)
	fmt.Printf("type: %s%s\n", info.BasicType, info.Properties)
	fmt.Printf("script size: %d bytes\n", info.ScriptLen)
	fmt.Printf("max ops: %d\n", info.MaxOpCount)
	fmt.Printf("max witness elements: %d\n", info.MaxWitnessElems)
	if err := node.IsSane(); err != nil {
		fmt.Printf("sane: no (%v)\n", err)
	} else {
		fmt.Println("sane: yes")
	}
	fmt.Printf("script: %s\n", node.ScriptString())

	script, err := node.Script()
	switch {
	case err == nil:
		fmt.Printf("script hex: %x\n", script)
	case miniscript.IsErrorCode(err, miniscript.ErrMissingValue):
		// Variables are unbound, there is no concrete script.
	default:
		return err
	}

	if cfg.Tree {
		fmt.Print(node.DrawTree())
	}
	return nil
}

// parseExpression parses a miniscript expression and shows its analysis.
func parseExpression(expression string) error {
	node, err := miniscript.Parse(expression)
	if err != nil {
		return err
	}
	return analyze(node)
}

// compilePolicy compiles a policy into its cheapest sane miniscript
// expression and shows the analysis of the result.
func compilePolicy(policyStr string) error {
	pol, err := policy.Parse(policyStr)
	if err != nil {
		return err
	}
	node, err := policy.Compile(pol)
	if err != nil {
		return err
	}
	fmt.Printf("policy: %s\n", pol)
	fmt.Printf("semantic: %s\n", pol.Lift())
	return analyze(node)
}

// decodeScript decodes a hex encoded witness script into the miniscript
// expression it is the canonical encoding of.
func decodeScript(scriptHex string) error {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return fmt.Errorf("invalid script hex: %v", err)
	}
	node, err := miniscript.FromScript(script)
	if err != nil {
		return err
	}
	if asm, err := txscript.DisasmString(script); err == nil {
		fmt.Printf("asm: %s\n", asm)
	}
	return analyze(node)
}

// liftExpression lifts a miniscript expression to the semantic policy it
// enforces.
func liftExpression(expression string) error {
	node, err := miniscript.Parse(expression)
	if err != nil {
		return err
	}
	sem, err := policy.LiftMiniscript(node)
	if err != nil {
		return err
	}
	fmt.Printf("miniscript: %s\n", node)
	fmt.Printf("semantic: %s\n", sem)
	return nil
}

// realMain is the real main function for the utility. It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func realMain() error {
	// Load configuration and parse command line.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	// Setup logging. Results go to stdout, logs to stderr.
	backendLogger := btclog.NewBackend(os.Stderr)
	defer os.Stderr.Sync()
	level, _ := btclog.LevelFromString(cfg.DebugLevel)
	log = backendLogger.Logger("MAIN")
	log.SetLevel(level)
	msLog := backendLogger.Logger("MINI")
	msLog.SetLevel(level)
	miniscript.UseLogger(msLog)
	policyLog := backendLogger.Logger("PLCY")
	policyLog.SetLevel(level)
	policy.UseLogger(policyLog)

	switch {
	case cfg.Expression != "":
		err = parseExpression(cfg.Expression)
	case cfg.Compile != "":
		err = compilePolicy(cfg.Compile)
	case cfg.Decode != "":
		err = decodeScript(cfg.Decode)
	case cfg.Lift != "":
		err = liftExpression(cfg.Lift)
	}
	if err != nil {
		log.Errorf("%v", err)
		return err
	}
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
