package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/install"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tcmux",
		Short: "Toolchain multiplexer",
		Long: `tcmux installs toolchains from release channels and routes tool
invocations to the right one based on the working directory.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newInstallCmd(a),
		newUninstallCmd(a),
		newDefaultCmd(a),
		newOverrideCmd(a),
		newWhichCmd(a),
		newRunCmd(a),
		newShowCmd(a),
		newListCmd(a),
	)
	return rootCmd
}

func newInstallCmd(a *app) *cobra.Command {
	var (
		profile string
		extras  []string
		exact   bool
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "install <toolchain>",
		Short: "Install a toolchain from its release channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.canonicalName(ctx, args[0])
			if err != nil {
				return err
			}
			if profile == "" {
				s, err := a.store.Load()
				if err != nil {
					return err
				}
				profile = s.Profile
			}
			ins := a.installer()
			ins.WaitForLock = wait
			result, err := ins.Install(ctx, install.InstallRequest{
				ID:      id,
				Profile: profile,
				Extras:  extras,
				Exact:   exact,
			})
			if err != nil {
				return err
			}
			switch result.Outcome {
			case install.OutcomeUnchanged:
				fmt.Printf("%s is already up to date\n", result.Toolchain)
			default:
				fmt.Printf("installed %s\n", result.Toolchain)
				for _, c := range result.Components {
					fmt.Printf("  %s\n", c)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "component profile (default from settings)")
	cmd.Flags().StringArrayVarP(&extras, "component", "c", nil, "additional component (repeatable)")
	cmd.Flags().BoolVar(&exact, "exact", false, "fail instead of searching earlier release dates")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for another tcmux process to release the lock")
	return cmd
}

func newUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <toolchain>",
		Short: "Remove an installed toolchain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.canonicalName(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.installer().Uninstall(ctx, id.Name()); err != nil {
				return err
			}
			fmt.Printf("uninstalled %s\n", id.Name())
			return nil
		},
	}
}

func newDefaultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default [toolchain]",
		Short: "Show or set the global default toolchain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				name, ok, err := a.store.Default()
				if err != nil {
					return err
				}
				if !ok {
					if name, ok = a.store.FallbackDefault(); ok {
						fmt.Printf("%s (system fallback)\n", name)
						return nil
					}
					fmt.Println("no default toolchain configured")
					return nil
				}
				fmt.Println(name)
				return nil
			}
			if err := a.withLock(func() error { return a.store.SetDefault(args[0]) }); err != nil {
				return err
			}
			fmt.Printf("default toolchain set to %s\n", args[0])
			return nil
		},
	}
}

func newOverrideCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage directory-scoped toolchain overrides",
	}

	var setPath string
	setCmd := &cobra.Command{
		Use:   "set <toolchain>",
		Short: "Bind a directory to a toolchain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := overrideDir(setPath)
			if err != nil {
				return err
			}
			if err := a.withLock(func() error { return a.store.SetOverride(dir, args[0]) }); err != nil {
				return err
			}
			fmt.Printf("override set: %s -> %s\n", dir, args[0])
			return nil
		},
	}
	setCmd.Flags().StringVar(&setPath, "path", "", "directory to bind (default: current directory)")

	var unsetPath string
	unsetCmd := &cobra.Command{
		Use:   "unset",
		Short: "Remove the override for a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := overrideDir(unsetPath)
			if err != nil {
				return err
			}
			var removed bool
			err = a.withLock(func() error {
				removed, err = a.store.UnsetOverride(dir)
				return err
			})
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("no override for %s\n", dir)
				return nil
			}
			fmt.Printf("override removed for %s\n", dir)
			return nil
		},
	}
	unsetCmd.Flags().StringVar(&unsetPath, "path", "", "directory to unbind (default: current directory)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List directory overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			if len(s.Overrides) == 0 {
				fmt.Println("no overrides")
				return nil
			}
			for _, dir := range sortedKeys(s.Overrides) {
				fmt.Printf("%s\t%s\n", dir, s.Overrides[dir])
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, unsetCmd, listCmd)
	return cmd
}

func newWhichCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "which [+toolchain] <binary>",
		Short: "Print the path a proxied binary resolves to",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			shorthand, rest := splitShorthand(args)
			if len(rest) != 1 {
				return fmt.Errorf("expected exactly one binary name")
			}
			id, _, err := a.resolveActive(cmd.Context(), shorthand)
			if err != nil {
				return err
			}
			path, err := a.dispatcher().Command(id.Name(), rest[0])
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <toolchain> <command> [args...]",
		Short: "Run a command from a specific toolchain",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.canonicalName(ctx, args[0])
			if err != nil {
				return err
			}
			code, err := a.dispatcher().Run(ctx, id.Name(), args[1], args[2:])
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	// Everything after the command name belongs to the child.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active toolchain and why it was selected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, res, err := a.resolveActive(cmd.Context(), "")
			if err != nil {
				return err
			}
			state, rec, err := toolchain.Inspect(a.root, id.Name())
			if err != nil {
				return err
			}
			fmt.Printf("active toolchain: %s\n", id.Name())
			fmt.Printf("selected because: %s\n", res.Reason)
			fmt.Printf("state: %s\n", state)
			if rec != nil {
				fmt.Println("components:")
				for _, c := range rec.Components {
					fmt.Printf("  %s\n", c)
				}
			}
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed toolchains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := toolchain.List(a.root)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no toolchains installed")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func overrideDir(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return dir, nil
}

func splitShorthand(args []string) (string, []string) {
	for i, arg := range args {
		if len(arg) > 1 && arg[0] == '+' {
			rest := append(append([]string{}, args[:i]...), args[i+1:]...)
			return arg[1:], rest
		}
	}
	return "", args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
