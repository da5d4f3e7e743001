package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cardsync/internal/app"
	"cardsync/internal/config"
	"cardsync/internal/model"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run (e.g. "Pull").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, promptPassphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// promptPassphrase reads the local credential passphrase without echo.
func promptPassphrase() (string, error) {
	return promptSecret("Passphrase: ")
}

func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret input: %w", err)
	}
	return string(data), nil
}

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Synchronize CardDAV address books with a local contact store",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Photo store:  %s\n", cfg.Photos.Type)
		fmt.Printf("Push workers: %d\n", cfg.PushWorkers)
		return nil
	},
}

// connection command

var connectionCmd = &cobra.Command{
	Use:   "connection",
	Short: "Manage sync connections",
}

var connectionAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a CardDAV connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		bookPath, _ := cmd.Flags().GetString("address-book")
		username, _ := cmd.Flags().GetString("username")

		password, err := promptSecret("CardDAV password: ")
		if err != nil {
			return err
		}

		a, err := newApp("ConnectionAdd")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.AddConnection(cmd.Context(), args[0], endpoint, bookPath, username, password)
		if err != nil {
			return err
		}
		fmt.Printf("Connection added: %s\n", id)
		return nil
	},
}

var connectionAddImportCmd = &cobra.Command{
	Use:   "add-import <name>",
	Short: "Add an import-only connection for scraped profiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ConnectionAddImport")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.AddImportConnection(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Import connection added: %s\n", id)
		return nil
	},
}

var connectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ConnectionList")
		if err != nil {
			return err
		}
		defer a.Close()

		conns, err := a.ListConnections(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range conns {
			last := "never"
			if c.LastSyncAt != nil {
				last = c.LastSyncAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-8s  %-20s  last sync: %s\n", c.ID, c.Kind, c.Name, last)
		}
		return nil
	},
}

var connectionRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a sync connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ConnectionRemove")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.RemoveConnection(cmd.Context(), args[0])
	},
}

// sync commands

var pullCmd = &cobra.Command{
	Use:   "pull <connection-id>",
	Short: "Pull remote address-book state into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Pull")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Pull(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Pull complete: %d created, %d updated, %d unchanged, %d orphaned\n",
			result.Created, result.Updated, result.Unchanged, result.Orphaned)
		if len(result.Conflicts) > 0 {
			fmt.Printf("Conflicts recorded: %s\n", strings.Join(result.Conflicts, ", "))
		}
		for _, e := range result.Errors {
			fmt.Printf("Error: %v\n", e)
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <connection-id> [contact-id...]",
	Short: "Push locally changed contacts to the remote address book",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Push")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Push(cmd.Context(), args[0], args[1:]...)
		if err != nil {
			return err
		}
		fmt.Printf("Push complete: %d created, %d updated, %d skipped\n",
			result.Created, result.Updated, result.Skipped)
		if len(result.Conflicts) > 0 {
			fmt.Printf("Conflicts recorded: %s\n", strings.Join(result.Conflicts, ", "))
		}
		for _, e := range result.Errors {
			fmt.Printf("Error: %v\n", e)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <batch-file>",
	Short: "Merge a JSON batch of scraped profiles into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectionID, _ := cmd.Flags().GetString("connection")
		if connectionID == "" {
			return fmt.Errorf("--connection is required")
		}

		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Import(cmd.Context(), args[0], connectionID)
		if err != nil {
			return err
		}
		fmt.Printf("Import complete: %d created, %d enriched, %d unchanged\n",
			result.Created, result.Enriched, result.Unchanged)
		for _, e := range result.Errors {
			fmt.Printf("Error: %v\n", e)
		}
		return nil
	},
}

// contacts command

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Inspect and manage contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		orphanedOnly, _ := cmd.Flags().GetBool("orphaned")

		a, err := newApp("ContactsList")
		if err != nil {
			return err
		}
		defer a.Close()

		contacts, err := a.ListContacts(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range contacts {
			if orphanedOnly && c.State != model.StateOrphaned {
				continue
			}
			name := ""
			for _, f := range c.Fields {
				if f.Kind == model.FieldName {
					name = f.Value
					break
				}
			}
			dirty := " "
			if c.Dirty {
				dirty = "*"
			}
			fmt.Printf("%s %s  %-8s  %s\n", dirty, c.ID, c.State, name)
		}
		return nil
	},
}

var contactsSetCmd = &cobra.Command{
	Use:   "set <contact-id> <kind> <value>",
	Short: "Edit a contact field and mark it for push",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")

		a, err := newApp("ContactsSet")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.SetContactField(cmd.Context(), args[0], args[1], label, args[2])
	},
}

var contactsHideCmd = &cobra.Command{
	Use:   "hide <contact-id>",
	Short: "Hide a contact (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ContactsHide")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.HideContact(cmd.Context(), args[0])
	},
}

var contactsUnhideCmd = &cobra.Command{
	Use:   "unhide <contact-id>",
	Short: "Restore a hidden contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ContactsUnhide")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.UnhideContact(cmd.Context(), args[0])
	},
}

var contactsPhotoCmd = &cobra.Command{
	Use:   "photo <contact-id>",
	Short: "Export a contact's cached photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return fmt.Errorf("--out is required")
		}

		a, err := newApp("ContactsPhoto")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ExportPhoto(cmd.Context(), args[0], out); err != nil {
			return err
		}
		fmt.Printf("Photo written to %s\n", out)
		return nil
	},
}

// conflicts command

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Review and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		connectionID, _ := cmd.Flags().GetString("connection")

		a, err := newApp("ConflictsList")
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := a.ListConflicts(cmd.Context(), connectionID)
		if err != nil {
			return err
		}
		for _, cf := range conflicts {
			fmt.Printf("%s  contact=%s  source=%s  recorded=%s\n",
				cf.ID, cf.ContactID, cf.Source.String(), cf.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict, keeping local or remote state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetString("keep")

		a, err := newApp("ConflictsResolve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ResolveConflict(cmd.Context(), args[0], keep); err != nil {
			return err
		}
		fmt.Printf("Conflict %s resolved (%s kept)\n", args[0], keep)
		return nil
	},
}

func init() {
	connectionAddCmd.Flags().String("endpoint", "", "CardDAV server base URL")
	connectionAddCmd.Flags().String("address-book", "", "address book collection path")
	connectionAddCmd.Flags().String("username", "", "CardDAV username")
	connectionAddCmd.MarkFlagRequired("endpoint")
	connectionAddCmd.MarkFlagRequired("address-book")
	connectionAddCmd.MarkFlagRequired("username")

	importCmd.Flags().String("connection", "", "import connection id")
	contactsListCmd.Flags().Bool("orphaned", false, "show only orphaned contacts")
	contactsSetCmd.Flags().String("label", "", `field label, e.g. "work"`)
	contactsPhotoCmd.Flags().String("out", "", "output file path")
	conflictsListCmd.Flags().String("connection", "", "restrict to one connection")
	conflictsResolveCmd.Flags().String("keep", "remote", `winner: "local" or "remote"`)

	configCmd.AddCommand(configInitCmd, configListCmd)
	connectionCmd.AddCommand(connectionAddCmd, connectionAddImportCmd, connectionListCmd, connectionRemoveCmd)
	contactsCmd.AddCommand(contactsListCmd, contactsSetCmd, contactsHideCmd, contactsUnhideCmd, contactsPhotoCmd)
	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)

	rootCmd.AddCommand(configCmd, connectionCmd, pullCmd, pushCmd, importCmd, contactsCmd, conflictsCmd)
}
