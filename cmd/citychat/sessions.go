package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/lhdbsbz/citychat/internal/config"
	"github.com/lhdbsbz/citychat/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage terminal chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.NewStore(config.SessionDir())
		if err := store.Load(); err != nil {
			return err
		}
		entries := store.List()
		if len(entries) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tUSER\tEXCHANGES\tCONVERSATION\tUPDATED")
		for _, e := range entries {
			conv := e.ConversationID
			if conv == "" {
				conv = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.Name, e.UserID, e.Exchanges, conv, humanize.Time(e.UpdatedAt))
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.NewStore(config.SessionDir())
		if err := store.Load(); err != nil {
			return err
		}
		if _, ok := store.Get(args[0]); !ok {
			return fmt.Errorf("session %q not found", args[0])
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
}
