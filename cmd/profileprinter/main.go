// Command profileprinter dumps a gperftools binary CPU profile's
// header, call stacks, and running totals to stdout.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jattle/pprofgo/internal/cpuprofile"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s profile\n", os.Args[0])
		os.Exit(1)
	}

	path := os.Args[1]
	f, err := os.Open(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("open profile failed")
		os.Exit(1)
	}
	defer f.Close()

	profile, perr := cpuprofile.Parse(f)
	if perr != nil && perr.Kind != cpuprofile.KindEmptyMapsText {
		logrus.WithError(perr).WithField("path", path).Error("parse profile failed")
		os.Exit(1)
	}
	if perr != nil {
		logrus.WithError(perr).WithField("path", path).Warn("profile has no maps text")
	}

	fmt.Println("Dump CPU profile:")
	fmt.Println(profile.String())
}
