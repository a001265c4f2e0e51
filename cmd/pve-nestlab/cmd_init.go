package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
	"github.com/battlewithbytes/pve-nestlab/internal/ui"
)

var initConfigPath string

func init() {
	initCmd.Flags().StringVar(&initConfigPath, "config", config.DefaultConfigPath, "path to write the config file")
	rootCmd.AddCommand(initCmd)
}

// initAnswers collects the wizard inputs. Numeric fields are entered as
// strings and parsed after validation.
type initAnswers struct {
	BindAddress     string
	PortStr         string
	AuthMode        string
	Password        string
	PasswordConfirm string
	TLSSkipVerify   bool
	NestedMemoryStr string
	NestedCoresStr  string
	NestedDiskStr   string
	Bridge          string
	Confirmed       bool
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a port between 1 and 65535")
	}
	return nil
}

func buildInitForm(answers *initAnswers) *huh.Form {
	answers.BindAddress = config.DefaultBindAddress
	answers.PortStr = fmt.Sprintf("%d", config.DefaultPort)
	answers.AuthMode = config.AuthModeNone
	answers.TLSSkipVerify = true
	answers.NestedMemoryStr = fmt.Sprintf("%d", config.DefaultNestedMemoryMB)
	answers.NestedCoresStr = fmt.Sprintf("%d", config.DefaultNestedCores)
	answers.NestedDiskStr = fmt.Sprintf("%d", config.DefaultNestedDiskGB)
	answers.Bridge = config.DefaultBridge

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("PVE NestLab Setup").
				Description("Configure the lab provisioner service.\nProxmox credentials are never stored; operators supply them per session."),
			huh.NewInput().
				Title("Bind Address").
				Description("IP address to listen on. Use 0.0.0.0 for all interfaces.").
				Value(&answers.BindAddress).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("bind address cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Port").
				Value(&answers.PortStr).
				Validate(validatePort),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Authentication Mode").
				Options(
					huh.NewOption("None (trusted network)", config.AuthModeNone),
					huh.NewOption("Password", config.AuthModePassword),
				).
				Value(&answers.AuthMode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&answers.Password).
				Validate(func(s string) error {
					if len(s) < 8 {
						return fmt.Errorf("password must be at least 8 characters")
					}
					return nil
				}),
			huh.NewInput().
				Title("Confirm Password").
				EchoMode(huh.EchoModePassword).
				Value(&answers.PasswordConfirm).
				Validate(func(s string) error {
					if s != answers.Password {
						return fmt.Errorf("passwords do not match")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return answers.AuthMode != config.AuthModePassword }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Skip TLS certificate verification?").
				Description("Lab Proxmox hosts usually run self-signed certificates.").
				Value(&answers.TLSSkipVerify),
		),
		huh.NewGroup(
			huh.NewNote().
				Title("Nested Hypervisor Defaults").
				Description("Applied when a create request leaves a field empty."),
			huh.NewInput().
				Title("Memory (MB)").
				Value(&answers.NestedMemoryStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("CPU Cores").
				Value(&answers.NestedCoresStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Disk (GB)").
				Value(&answers.NestedDiskStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Network Bridge").
				Value(&answers.Bridge),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Write configuration to %s?", initConfigPath)).
				Value(&answers.Confirmed),
		),
	).WithTheme(huh.ThemeCatppuccin())
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create the service configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		var answers initAnswers
		if err := buildInitForm(&answers).Run(); err != nil {
			return err
		}
		if !answers.Confirmed {
			fmt.Println(ui.Yellow.Render("Aborted, nothing written."))
			return nil
		}

		cfg := config.Default()
		cfg.Service.BindAddress = strings.TrimSpace(answers.BindAddress)
		cfg.Service.Port, _ = strconv.Atoi(strings.TrimSpace(answers.PortStr))
		cfg.Auth.Mode = answers.AuthMode
		cfg.Proxmox.TLSSkipVerify = answers.TLSSkipVerify
		cfg.Nested.MemoryMB, _ = strconv.Atoi(strings.TrimSpace(answers.NestedMemoryStr))
		cfg.Nested.Cores, _ = strconv.Atoi(strings.TrimSpace(answers.NestedCoresStr))
		cfg.Nested.DiskGB, _ = strconv.Atoi(strings.TrimSpace(answers.NestedDiskStr))
		if b := strings.TrimSpace(answers.Bridge); b != "" {
			cfg.Nested.Bridge = b
			cfg.Guest.Bridge = b
		}

		if answers.AuthMode == config.AuthModePassword {
			hash, err := bcrypt.GenerateFromPassword([]byte(answers.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			cfg.Auth.PasswordHash = string(hash)
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := cfg.Save(initConfigPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Println(ui.Green.Render("✓") + " Configuration written to " + ui.White.Render(initConfigPath))
		fmt.Println(ui.Dim.Render("  Start the service with: pve-nestlab serve"))
		return nil
	},
}
