// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript_test

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/miniscript"
)

// This example demonstrates parsing a miniscript expression. The parsed
// expression is printed in its canonical form, with syntactic sugar like
// pk(key) expanded.
func ExampleParse() {
	node, err := miniscript.Parse(
		"or_d(pk(key_1),and_v(v:pkh(key_2),older(144)))",
	)
	if err != nil {
		fmt.Println(err)
		return
	}

	// Check that the expression is a valid witness script with a
	// non-malleable satisfaction that requires a signature.
	if err := node.IsSane(); err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(node)

	// Output:
	// or_d(c:pk_k(key_1),and_v(vc:pk_h(key_2),older(144)))
}

// This example demonstrates generating a witness script from a miniscript
// expression. The key variable is bound to a concrete public key first.
func ExampleAST_Script() {
	node, err := miniscript.Parse("pk(key_1)")
	if err != nil {
		fmt.Println(err)
		return
	}

	// Bind key_1 to a public key. Ordinarily the key would come from a
	// wallet; here it is hard coded.
	err = node.ApplyVars(func(identifier string) ([]byte, error) {
		if identifier == "key_1" {
			return hex.DecodeString(
				"0279be667ef9dcbbac55a06295ce870b07029bfc" +
					"db2dce28d959f2815b16f81798",
			)
		}
		return nil, nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	script, err := node.Script()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%x\n", script)

	// Output:
	// 210279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798ac
}

// This example demonstrates decoding a witness script back into a miniscript
// expression. Key variables are not recoverable from a script, so the decoded
// expression contains the raw key in hex.
func ExampleFromScript() {
	script, err := hex.DecodeString(
		"210279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f28" +
			"15b16f81798ac",
	)
	if err != nil {
		fmt.Println(err)
		return
	}

	node, err := miniscript.FromScript(script)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(node)

	// Output:
	// c:pk_k(0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798)
}

// This example demonstrates building and satisfying a 2-of-3 multisig witness
// script with keys derived from an extended key.
func Example_multisig() {
	// The BIP32 test vector 1 master key. Ordinarily each cosigner holds
	// their own extended key and only shares the neutered public part.
	masterKey, err := hdkeychain.NewKeyFromString(
		"xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPP" +
			"qjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrM" +
			"PHi",
	)
	if err != nil {
		fmt.Println(err)
		return
	}

	node, err := miniscript.Parse("multi(2,key_1,key_2,key_3)")
	if err != nil {
		fmt.Println(err)
		return
	}

	// Bind each key variable to a derived child key. The first cosigner
	// is offline, so only the second and third keep their private key
	// around for signing.
	signers := make(map[string]*btcec.PrivateKey)
	err = node.ApplyVars(func(identifier string) ([]byte, error) {
		var childIndex uint32
		switch identifier {
		case "key_1":
			childIndex = 0
		case "key_2":
			childIndex = 1
		case "key_3":
			childIndex = 2
		default:
			return nil, fmt.Errorf("unknown key %s", identifier)
		}
		childKey, err := masterKey.Derive(childIndex)
		if err != nil {
			return nil, err
		}
		privKey, err := childKey.ECPrivKey()
		if err != nil {
			return nil, err
		}
		pubKey := privKey.PubKey().SerializeCompressed()
		if identifier != "key_1" {
			signers[string(pubKey)] = privKey
		}
		return pubKey, nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	script, err := node.Script()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Sane:", node.IsSane() == nil)
	fmt.Println("Witness script size:", len(script))

	// The digest would ordinarily be the BIP143 sighash of the spending
	// transaction.
	sigHash := chainhash.HashB([]byte("spending transaction digest"))
	witness, err := node.Satisfy(&miniscript.Satisfier{
		CheckOlder: func(value uint32) (bool, error) {
			return false, nil
		},
		CheckAfter: func(value uint32) (bool, error) {
			return false, nil
		},
		Preimage: func(hashFunc string, hash []byte) ([]byte, bool) {
			return nil, false
		},
		Sign: func(pubKey []byte) ([]byte, bool) {
			privKey, ok := signers[string(pubKey)]
			if !ok {
				return nil, false
			}
			sig := ecdsa.Sign(privKey, sigHash)
			return append(sig.Serialize(),
				byte(txscript.SigHashAll)), true
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Witness elements:", len(witness))

	// Output:
	// Sane: true
	// Witness script size: 105
	// Witness elements: 3
}

// This example demonstrates a hash time locked contract. The receiver can
// claim the output with their signature and the hash preimage. After 144
// blocks the sender can reclaim it with their signature alone.
func Example_htlc() {
	// The preimage is revealed on chain when the receiver claims, which is
	// what makes the contract usable for atomic swaps.
	preimage := []byte("32-byte secret, shared off chain")
	hash := chainhash.HashB(preimage)

	receiverPriv, receiverPub := btcec.PrivKeyFromBytes(
		bytes.Repeat([]byte{0x01}, 32))
	senderPriv, senderPub := btcec.PrivKeyFromBytes(
		bytes.Repeat([]byte{0x02}, 32))

	node, err := miniscript.Parse(
		"andor(pk(key_receiver),sha256(H)," +
			"and_v(v:pk(key_sender),older(144)))",
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	err = node.ApplyVars(func(identifier string) ([]byte, error) {
		switch identifier {
		case "key_receiver":
			return receiverPub.SerializeCompressed(), nil
		case "key_sender":
			return senderPub.SerializeCompressed(), nil
		case "H":
			return hash, nil
		}
		return nil, nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := node.IsSane(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(node)

	sigHash := chainhash.HashB([]byte("claim transaction digest"))

	// The receiver claims before the timelock expires, revealing the
	// preimage.
	claimWitness, err := node.Satisfy(&miniscript.Satisfier{
		CheckOlder: func(value uint32) (bool, error) {
			return false, nil
		},
		CheckAfter: func(value uint32) (bool, error) {
			return false, nil
		},
		Preimage: func(hashFunc string, h []byte) ([]byte, bool) {
			if hashFunc == "sha256" && bytes.Equal(h, hash) {
				return preimage, true
			}
			return nil, false
		},
		Sign: func(pubKey []byte) ([]byte, bool) {
			if !bytes.Equal(pubKey,
				receiverPub.SerializeCompressed()) {

				return nil, false
			}
			sig := ecdsa.Sign(receiverPriv, sigHash)
			return append(sig.Serialize(),
				byte(txscript.SigHashAll)), true
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Claim witness elements:", len(claimWitness))

	// Once 144 blocks have passed, the sender reclaims without the
	// preimage.
	refundWitness, err := node.Satisfy(&miniscript.Satisfier{
		CheckOlder: func(value uint32) (bool, error) {
			return true, nil
		},
		CheckAfter: func(value uint32) (bool, error) {
			return false, nil
		},
		Preimage: func(hashFunc string, h []byte) ([]byte, bool) {
			return nil, false
		},
		Sign: func(pubKey []byte) ([]byte, bool) {
			if !bytes.Equal(pubKey,
				senderPub.SerializeCompressed()) {

				return nil, false
			}
			sig := ecdsa.Sign(senderPriv, sigHash)
			return append(sig.Serialize(),
				byte(txscript.SigHashAll)), true
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Refund witness elements:", len(refundWitness))

	// Output:
	// andor(c:pk_k(key_receiver),sha256(H),and_v(vc:pk_k(key_sender),older(144)))
	// Claim witness elements: 2
	// Refund witness elements: 2
}
