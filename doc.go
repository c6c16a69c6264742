// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package miniscript implements miniscript, a structured language for a useful
subset of Bitcoin scripts: https://bitcoin.sipa.be/miniscript/.

Miniscript expressions compose fragments like pk(key), older(n) or sha256(h)
with combinators like and_v, or_d and thresh into spending conditions that
still have a direct, deterministic translation to script. Every expression
carries a type that describes how its script interacts with the stack, which
makes it possible to reason about correctness, spending cost and malleability
without executing anything.

This package targets scripts executed inside P2WSH. It provides:

  - Parse, which turns a miniscript expression into a fully type-annotated
    tree, and NewNode for building trees directly.
  - Script and FromScript, which translate between an expression and its
    witness script. The translation is canonical: each expression has one
    script and decoding accepts only that encoding.
  - IsSane and its finer-grained checks, which tell whether an expression is
    safe to use as a spending condition (non-malleable, requires a signature,
    within the standardness limits).
  - Satisfy, which builds a minimal non-malleable witness for an expression
    given callbacks that produce signatures and hash preimages.

The policy subpackage compiles assurance-level descriptions (and/or/thresh of
keys, hashes and timelocks) into efficient miniscript.

Errors

Errors returned by this package are of type miniscript.Error, wrapping an
ErrorCode that identifies the failure. Use IsErrorCode to test for a specific
one.
*/
package miniscript
