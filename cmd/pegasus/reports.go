package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/pegasus/internal/database"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Browse the report archive",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.GetAllReports()
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No reports archived. Create one with: pegasus run \"<target>\"")
			return nil
		}

		fmt.Println("Archived Reports:")
		fmt.Println()
		for _, r := range items {
			fmt.Printf("  [%s] %-6s %s\n", database.ShortID(r.ID), r.Status, r.Target)
			fmt.Printf("             %s, %d sections, %s\n", database.FormatCreatedAt(r.CreatedAt), r.SectionCount, r.Model)
		}
		return nil
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print an archived report as Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := findReport(db, args[0])
		if err != nil {
			return err
		}
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %s\n\n", *r.Error)
		}
		fmt.Print(r.Markdown)
		return nil
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an archived report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := findReport(db, args[0])
		if err != nil {
			return err
		}
		if _, err := db.DeleteReport(r.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted report [%s]: %s\n", database.ShortID(r.ID), r.Target)
		return nil
	},
}

func init() {
	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
}

// findReport resolves a full or abbreviated report ID.
func findReport(db *database.DB, prefix string) (*database.Report, error) {
	matches, err := db.FindReports(prefix)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("report %s not found", prefix)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("report ID %s is ambiguous (%d matches)", prefix, len(matches))
	}
}
