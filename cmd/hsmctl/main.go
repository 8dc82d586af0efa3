// hsmctl is the control CLI for hsmd: it issues generateKeys, rotateKeys,
// eraseKeys, digestBytes, signBytes, and validSignature requests over the
// daemon's Unix domain socket and prints results as base64-encoded bytes.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"hsmd/internal/ipc"
)

var socketPath = flag.String("socket", "/run/hsmd/hsmd.sock", "path to hsmd's control socket")

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	client, err := ipc.Dial(*socketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hsmctl:", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := dispatch(client, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hsmctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `hsmctl - Control utility for hsmd

Usage: hsmctl [options] <command> [args]

Commands:
  generate <new-mask-b64>
  rotate <existing-mask-b64> <new-mask-b64>
  erase
  digest <message-b64>
  sign <mask-b64> <message-b64>
  verify <public-key-b64> <signature-b64> <message-b64>

Options:
  -socket <path>  Path to hsmd's control socket (default: /run/hsmd/hsmd.sock)`)
}

func dispatch(client *ipc.Client, cmd string, args []string) error {
	switch cmd {
	case "generate":
		return cmdGenerate(client, args)
	case "rotate":
		return cmdRotate(client, args)
	case "erase":
		return cmdErase(client)
	case "digest":
		return cmdDigest(client, args)
	case "sign":
		return cmdSign(client, args)
	case "verify":
		return cmdVerify(client, args)
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func decodeArg(name, value string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return b, nil
}

func cmdGenerate(client *ipc.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hsmctl generate <new-mask-b64>")
	}
	mask, err := decodeArg("new-mask", args[0])
	if err != nil {
		return err
	}
	pub, err := client.GenerateKeys(mask)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(pub))
	return nil
}

func cmdRotate(client *ipc.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: hsmctl rotate <existing-mask-b64> <new-mask-b64>")
	}
	existing, err := decodeArg("existing-mask", args[0])
	if err != nil {
		return err
	}
	fresh, err := decodeArg("new-mask", args[1])
	if err != nil {
		return err
	}
	pub, err := client.RotateKeys(existing, fresh)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(pub))
	return nil
}

func cmdErase(client *ipc.Client) error {
	if err := client.EraseKeys(); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdDigest(client *ipc.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hsmctl digest <message-b64>")
	}
	msg, err := decodeArg("message", args[0])
	if err != nil {
		return err
	}
	digest, err := client.DigestBytes(msg)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(digest))
	return nil
}

func cmdSign(client *ipc.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: hsmctl sign <mask-b64> <message-b64>")
	}
	mask, err := decodeArg("mask", args[0])
	if err != nil {
		return err
	}
	msg, err := decodeArg("message", args[1])
	if err != nil {
		return err
	}
	sig, err := client.SignBytes(mask, msg)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(sig))
	return nil
}

func cmdVerify(client *ipc.Client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: hsmctl verify <public-key-b64> <signature-b64> <message-b64>")
	}
	pub, err := decodeArg("public-key", args[0])
	if err != nil {
		return err
	}
	sig, err := decodeArg("signature", args[1])
	if err != nil {
		return err
	}
	msg, err := decodeArg("message", args[2])
	if err != nil {
		return err
	}
	valid, err := client.ValidSignature(pub, sig, msg)
	if err != nil {
		return err
	}
	fmt.Println(valid)
	return nil
}
