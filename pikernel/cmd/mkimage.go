// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"pikernel.dev/pikernel/pikernel/cmd/util"
	"pikernel.dev/pikernel/pikernel/config"
	"pikernel.dev/pikernel/pkg/fs/hostfs"
	"pikernel.dev/pikernel/pkg/images"
	"pikernel.dev/pikernel/pkg/log"
)

// MkImage implements subcommands.Command for the "mkimage" command.
type MkImage struct {
	list bool
}

// Name implements subcommands.Command.Name.
func (*MkImage) Name() string {
	return "mkimage"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MkImage) Synopsis() string {
	return "write the built-in program images to a host directory"
}

// Usage implements subcommands.Command.Usage.
func (*MkImage) Usage() string {
	return `mkimage [-list] <dir> - write the built-in programs below <dir>, under --images.

The directory can then be booted with --root=<dir>.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *MkImage) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.list, "list", false, "list the built-in programs instead of writing them.")
}

// Execute implements subcommands.Command.Execute.
func (m *MkImage) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if m.list {
		if err := listImages(os.Stdout); err != nil {
			return util.Errorf("Listing images: %v", err)
		}
		return subcommands.ExitSuccess
	}
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := installImages(ctx, f.Arg(0), conf.ImagesDir); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// installImages writes the built-in programs to imagesDir below the host
// directory root, holding the root lock exclusively.
func installImages(ctx context.Context, root, imagesDir string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating %q: %w", root, err)
	}
	hfs, err := hostfs.New(root)
	if err != nil {
		return err
	}
	unlock, err := hfs.Lock(ctx, true /* exclusive */)
	if err != nil {
		return err
	}
	defer unlock()
	if err := images.Install(hfs, imagesDir); err != nil {
		return err
	}
	log.Infof("Installed %d images in %s%s", len(images.All()), hfs.Root(), imagesDir)
	return nil
}

// listImages prints the built-in programs.
func listImages(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tDESCRIPTION\n")
	for _, p := range images.All() {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
	}
	return tw.Flush()
}
