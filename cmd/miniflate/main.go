// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Command miniflate is a thin stdin/stdout driver over the package's
// streaming core: compress, decompress, and zlib-info subcommands.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/elliotnunn/miniflate"
	"github.com/elliotnunn/miniflate/internal/deflate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "compress":
		err = runCompress(os.Args[2:])
	case "decompress":
		err = runDecompress(os.Args[2:])
	case "zlib-info":
		err = runZlibInfo(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "miniflate:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: miniflate <compress|decompress|zlib-info> [flags]")
}

func runCompress(args []string) error {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	level := fs.Int("level", 6, "compression level 0..10")
	raw := fs.Bool("raw", false, "emit headerless DEFLATE instead of zlib framing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flags := deflate.WriteZlibHeader | deflate.ComputeAdler32
	if *raw {
		flags = 0
	}
	slog.Info("compressStart", "level", *level, "raw", *raw)
	bw := bufio.NewWriter(os.Stdout)
	w := miniflate.NewWriterFlags(bw, *level, flags)
	n, err := io.Copy(w, bufio.NewReader(os.Stdin))
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	slog.Info("compressStop", "bytesIn", n)
	return bw.Flush()
}

func runDecompress(args []string) error {
	fs := flag.NewFlagSet("decompress", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	slog.Info("decompressStart")
	r, err := miniflate.NewReader(bufio.NewReader(os.Stdin))
	if err != nil {
		return err
	}
	defer r.Close()
	out := bufio.NewWriter(os.Stdout)
	n, err := io.Copy(out, r)
	if err != nil {
		return err
	}
	slog.Info("decompressStop", "bytesOut", n)
	return out.Flush()
}

func runZlibInfo(args []string) error {
	fs := flag.NewFlagSet("zlib-info", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	var header [2]byte
	if _, err := io.ReadFull(in, header[:]); err != nil {
		return err
	}
	cmf, flg := header[0], header[1]
	fmt.Printf("CMF=%#02x FLG=%#02x method=%d window=%dB level-hint=%d\n",
		cmf, flg, cmf&0x0f, 1<<(8+(cmf>>4)&0x0f), flg>>6)

	rest, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	if len(rest) < 4 {
		return fmt.Errorf("stream too short for an Adler-32 trailer")
	}
	trailer := rest[len(rest)-4:]
	adler := binary.BigEndian.Uint32(trailer)
	fmt.Printf("adler32=%#08x\n", adler)
	return nil
}

