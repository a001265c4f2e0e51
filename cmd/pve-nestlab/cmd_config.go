package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
	"github.com/battlewithbytes/pve-nestlab/internal/ui"
)

var configShowPath string

func init() {
	configShowCmd.Flags().StringVar(&configShowPath, "config", config.DefaultConfigPath, "path to the config file")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View PVE NestLab configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configShowPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println(ui.Cyan.Render("Service:"))
		fmt.Println(ui.Dim.Render("  Bind:       ") + ui.White.Render(fmt.Sprintf("%s:%d", cfg.Service.BindAddress, cfg.Service.Port)))
		fmt.Println(ui.Dim.Render("  Auth:       ") + ui.White.Render(cfg.Auth.Mode))
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Proxmox:"))
		fmt.Println(ui.Dim.Render("  Skip TLS:   ") + ui.White.Render(fmt.Sprintf("%v", cfg.Proxmox.TLSSkipVerify)))
		if cfg.Proxmox.TLSCACertPath != "" {
			fmt.Println(ui.Dim.Render("  CA cert:    ") + ui.White.Render(cfg.Proxmox.TLSCACertPath))
		}
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Limits:"))
		fmt.Println(ui.Dim.Render("  VM count:   ") + ui.White.Render(fmt.Sprintf("%d-%d", cfg.Limits.VMCountMin, cfg.Limits.VMCountMax)))
		fmt.Println(ui.Dim.Render("  Workers:    ") + ui.White.Render(fmt.Sprintf("%d", cfg.Limits.ProvisionWorkers)))
		fmt.Println(ui.Dim.Render("  Task wait:  ") + ui.White.Render(fmt.Sprintf("%ds", cfg.Limits.TaskTimeoutSec)))
		fmt.Println(ui.Dim.Render("  Log cap:    ") + ui.White.Render(fmt.Sprintf("%d entries", cfg.Limits.LogCapacity)))
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Nested Hypervisor Defaults:"))
		fmt.Println(ui.Dim.Render("  Name:       ") + ui.White.Render(cfg.Nested.Name))
		fmt.Println(ui.Dim.Render("  Memory:     ") + ui.White.Render(fmt.Sprintf("%d MB", cfg.Nested.MemoryMB)))
		fmt.Println(ui.Dim.Render("  Cores:      ") + ui.White.Render(fmt.Sprintf("%d", cfg.Nested.Cores)))
		fmt.Println(ui.Dim.Render("  Disk:       ") + ui.White.Render(fmt.Sprintf("%d GB", cfg.Nested.DiskGB)))
		fmt.Println(ui.Dim.Render("  Bridge:     ") + ui.White.Render(cfg.Nested.Bridge))
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Guest VM Defaults:"))
		fmt.Println(ui.Dim.Render("  Memory:     ") + ui.White.Render(fmt.Sprintf("%d MB", cfg.Guest.MemoryMB)))
		fmt.Println(ui.Dim.Render("  Cores:      ") + ui.White.Render(fmt.Sprintf("%d", cfg.Guest.Cores)))
		fmt.Println(ui.Dim.Render("  Disk:       ") + ui.White.Render(fmt.Sprintf("%d GB", cfg.Guest.DiskGB)))
		fmt.Println(ui.Dim.Render("  Bridge:     ") + ui.White.Render(cfg.Guest.Bridge))
		fmt.Println()
		fmt.Println(ui.Dim.Render("Config file: " + configShowPath))

		return nil
	},
}
