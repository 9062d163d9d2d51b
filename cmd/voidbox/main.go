// Command voidbox is the thin CLI entry point over internal/vbox's core
// operations. The CLI surface itself is out of scope of the runtime
// engine; this wraps just enough of it to drive the engine from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nilltadios/voidbox/container"
	"github.com/nilltadios/voidbox/internal/vbox"
)

func main() {
	if _, ok := os.LookupEnv(container.SetupEnvKey); ok {
		if err := container.Init(); err != nil {
			fmt.Fprintln(os.Stderr, "voidbox: container init:", err)
			os.Exit(250)
		}
		// Init only returns on setup failure; a successful run forks the
		// app, stays alive as its subreaper, and exits the process
		// directly with the app's mapped status, never reaching here.
		return
	}

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	dataRoot := os.Getenv("VOIDBOX_DATA")
	if dataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox:", err)
			return 1
		}
		dataRoot = home + "/.local/share/voidbox"
	}

	e, err := vbox.New(dataRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "voidbox:", err)
		return 1
	}

	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "install":
		fs := flag.NewFlagSet("install", flag.ContinueOnError)
		fs.Parse(rest)
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: voidbox install <manifest.toml>")
			return 2
		}
		rec, err := e.Install(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox install:", err)
			return 252
		}
		fmt.Printf("installed %s (%s)\n", rec.Name, rec.InstalledVersion)
		return 0

	case "run":
		fs := flag.NewFlagSet("run", flag.ContinueOnError)
		fs.Parse(rest)
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: voidbox run <name> [args...]")
			return 2
		}
		status, err := e.Run(ctx, fs.Arg(0), fs.Args()[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox run:", err)
			if status != nil {
				return int(status.Code)
			}
			return 1
		}
		return int(status.Code)

	case "shell":
		fs := flag.NewFlagSet("shell", flag.ContinueOnError)
		fs.Parse(rest)
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: voidbox shell <name>")
			return 2
		}
		status, err := e.Shell(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox shell:", err)
			if status != nil {
				return int(status.Code)
			}
			return 1
		}
		return int(status.Code)

	case "remove":
		fs := flag.NewFlagSet("remove", flag.ContinueOnError)
		purge := fs.Bool("purge", false, "also delete the app's writable layer")
		fs.Parse(rest)
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: voidbox remove [--purge] <name>")
			return 2
		}
		if err := e.Remove(fs.Arg(0), *purge); err != nil {
			fmt.Fprintln(os.Stderr, "voidbox remove:", err)
			return 1
		}
		return 0

	case "update":
		fs := flag.NewFlagSet("update", flag.ContinueOnError)
		fs.Parse(rest)
		name := ""
		if fs.NArg() == 1 {
			name = fs.Arg(0)
		}
		outcomes, err := e.Update(ctx, name)
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox update:", err)
			return 1
		}
		for _, o := range outcomes {
			if o.Updated {
				fmt.Printf("%s: %s -> %s\n", o.Name, o.OldVersion, o.NewVersion)
			} else {
				fmt.Printf("%s: up to date (%s)\n", o.Name, o.OldVersion)
			}
		}
		return 0

	case "list":
		recs, err := e.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox list:", err)
			return 1
		}
		for _, r := range recs {
			fmt.Printf("%s\t%s\t%s\n", r.Name, r.InstalledVersion, r.BaseID)
		}
		return 0

	case "settings":
		fs := flag.NewFlagSet("settings", flag.ContinueOnError)
		fs.Parse(rest)
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: voidbox settings <name> [tag=true|false ...]")
			return 2
		}
		name := fs.Arg(0)
		if fs.NArg() == 1 {
			d, err := e.Info(name)
			if err != nil {
				fmt.Fprintln(os.Stderr, "voidbox settings:", err)
				return 1
			}
			fmt.Printf("%+v\n", d.App.Permissions)
			return 0
		}
		overrides := map[string]bool{}
		for _, kv := range fs.Args()[1:] {
			tag, val, ok := splitOverride(kv)
			if !ok {
				fmt.Fprintf(os.Stderr, "voidbox settings: invalid override %q, want tag=true|false\n", kv)
				return 2
			}
			overrides[tag] = val
		}
		if err := e.SaveOverrides(name, overrides); err != nil {
			fmt.Fprintln(os.Stderr, "voidbox settings:", err)
			return 1
		}
		return 0

	case "info":
		fs := flag.NewFlagSet("info", flag.ContinueOnError)
		fs.Parse(rest)
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: voidbox info <name>")
			return 2
		}
		d, err := e.Info(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "voidbox info:", err)
			return 1
		}
		fmt.Printf("%s %s\nbase: %s\nbinary: %s\n", d.Record.Name, d.Record.InstalledVersion, d.Record.BaseID, d.App.Binary.RelativePath)
		return 0

	default:
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: voidbox <install|run|shell|remove|update|list|info|settings> ...")
}

// splitOverride parses a "tag=true"/"tag=false" command-line argument.
func splitOverride(kv string) (tag string, val bool, ok bool) {
	i := -1
	for j, c := range kv {
		if c == '=' {
			i = j
			break
		}
	}
	if i < 0 {
		return "", false, false
	}
	tag, raw := kv[:i], kv[i+1:]
	switch raw {
	case "true":
		return tag, true, true
	case "false":
		return tag, false, true
	default:
		return "", false, false
	}
}
