// Command addr2symbol resolves a single memory address to its symbol
// name, either against an offline executable plus a saved maps file
// or, with no -maps flag, against the process's own live symbol
// table for self-testing.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v3"
	"github.com/sirupsen/logrus"

	"github.com/jattle/pprofgo/internal/resolver"
)

var (
	exeHelp  = "executable file path"
	mapsHelp = "proc mapping file path, may be empty to use the running process's own maps"
	addrHelp = "hex memory address, 0x00007fd4246d05b6 or 00007fd4246d05b6"
)

type arguments struct {
	exe  string
	maps string
	addr string
}

func (a *arguments) sanityCheck() error {
	if a.exe == "" {
		return errors.New("no executable path specified")
	}
	if a.addr == "" {
		return errors.New("no address specified")
	}
	return nil
}

func parseArgs() (*arguments, error) {
	var args arguments
	fs := flag.NewFlagSet("addr2symbol", flag.ContinueOnError)
	fs.StringVar(&args.exe, "exe", "", exeHelp)
	fs.StringVar(&args.maps, "maps", "", mapsHelp)
	fs.StringVar(&args.addr, "addr", "", addrHelp)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("ADDR2SYMBOL")); err != nil {
		return nil, err
	}
	return &args, args.sanityCheck()
}

// parseHexAddr accepts an address with or without a leading 0x.
func parseHexAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func main() {
	args, err := parseArgs()
	if err != nil {
		logrus.WithError(err).Error("parse args failed")
		os.Exit(1)
	}

	addr, err := parseHexAddr(args.addr)
	if err != nil {
		logrus.WithError(err).WithField("addr", args.addr).Error("invalid address")
		os.Exit(1)
	}

	var r *resolver.Resolver
	if args.maps != "" {
		mapsData, ferr := os.ReadFile(args.maps)
		if ferr != nil {
			logrus.WithError(ferr).WithField("path", args.maps).Error("read maps file failed")
			os.Exit(1)
		}
		r, err = resolver.New(args.exe, string(mapsData))
	} else {
		r, err = resolver.NewSelfAnalysis()
	}
	if err != nil {
		logrus.WithError(err).Error("build resolver failed")
		os.Exit(1)
	}

	info, serr := r.SearchSymbol(addr)
	name := ""
	if serr == nil {
		name = info.Name
	}
	fmt.Fprintf(os.Stderr, "addr: 0x%016x, symbol: %s\n", addr, name)
}
