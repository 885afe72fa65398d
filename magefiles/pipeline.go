//go:build mage

package main

import (
	"os"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Pipeline groups targets that drive the built CLI.
type Pipeline mg.Namespace

// Fetch refreshes the cached candidate list from the registry.
func (Pipeline) Fetch() error {
	mg.Deps(Build)
	return sh.RunV(binPath, "fetch")
}

// Run refreshes the list and harvests every candidate.
func (Pipeline) Run() error {
	mg.Deps(Build)
	return sh.RunV(binPath, "run")
}

// Process harvests the identifiers in $CVE_IDS (space separated).
func (Pipeline) Process() error {
	mg.Deps(Init, Build)
	ids := strings.Fields(os.Getenv("CVE_IDS"))
	if len(ids) == 0 {
		return mg.Fatal(2, "CVE_IDS is empty")
	}
	return sh.RunV(binPath, append([]string{"process"}, ids...)...)
}
