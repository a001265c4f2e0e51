package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/battlewithbytes/pve-nestlab/internal/naming"
	"github.com/battlewithbytes/pve-nestlab/internal/ui"
)

func init() {
	rootCmd.AddCommand(themesCmd)
}

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List the available VM naming themes",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, theme := range naming.Themes() {
			fmt.Println(ui.Cyan.Render(theme))
			fmt.Println(ui.Dim.Render("  " + strings.Join(naming.Preview(theme, 5), ", ") + ", ..."))
		}
		return nil
	},
}
