package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"sitekit_datastore/internal/settings"
	"sitekit_datastore/src/logger"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change module settings",
	}
	cmd.AddCommand(newSettingsGetCmd(a), newSettingsSetCmd(a))
	return cmd
}

func newSettingsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <module>",
		Short: "Print the saved settings of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.registry.Module(args[0])
			if err != nil {
				return err
			}
			values, err := m.Settings.ResolveSettings(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), values)
		},
	}
}

func newSettingsSetCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "set <module> name=value...",
		Short: "Change settings and save them",
		Long: "Values are parsed as JSON when possible (true, 3, [\"a\"]) and\n" +
			"taken as plain strings otherwise.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.registry.Module(args[0])
			if err != nil {
				return err
			}
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			store := m.Settings
			if _, err := store.ResolveSettings(cmd.Context()); err != nil {
				return err
			}
			if err := store.SetSettings(values); err != nil {
				return err
			}

			changed := changedKeys(store, values)
			out := cmd.OutOrStdout()
			if len(changed) == 0 {
				fmt.Fprintln(out, "no changes")
				return nil
			}
			fmt.Fprintf(out, "changing %s\n", strings.Join(changed, ", "))

			if dryRun {
				store.RollbackSettings()
				return nil
			}
			if err := store.SaveSettings(cmd.Context()); err != nil {
				return err
			}
			logger.Info().Str("module", m.Slug).Strs("fields", changed).Msg("settings updated")

			saved, _ := store.SavedSettings()
			return writeJSON(out, saved)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without saving")
	return cmd
}

func changedKeys(store *settings.Store, values settings.Values) []string {
	var keys []string
	for k := range values {
		if store.HaveSettingsChanged(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func parseAssignments(args []string) (settings.Values, error) {
	values := make(settings.Values, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		var v any
		if err := sonic.UnmarshalString(raw, &v); err != nil {
			v = raw
		}
		values[name] = v
	}
	return values, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
