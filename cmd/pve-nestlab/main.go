package main

import (
	"fmt"
	"os"

	"github.com/battlewithbytes/pve-nestlab/internal/ui"
	"github.com/battlewithbytes/pve-nestlab/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "pve-nestlab",
	Short:   "Nested Proxmox lab provisioner",
	Version: version.Version,
}

func init() {
	rootCmd.Long = ui.Green.Render("PVE NestLab") + " " + ui.Cyan.Render(version.Version) + "\n" +
		ui.Dim.Render("Provisions a nested Proxmox VE hypervisor on an existing cluster and fills it with themed guest VMs for lab and training environments.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
