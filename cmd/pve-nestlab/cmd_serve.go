package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
	"github.com/battlewithbytes/pve-nestlab/internal/ops"
	"github.com/battlewithbytes/pve-nestlab/internal/proxmox"
	"github.com/battlewithbytes/pve-nestlab/internal/server"
	"github.com/spf13/cobra"
)

func getPrimaryIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return ""
}

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath, "path to config file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PVE NestLab service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Printf("  config:  %s not found, using defaults\n", serveConfigPath)
			cfg = config.Default()
		}

		fmt.Printf("PVE NestLab starting...\n")
		fmt.Printf("  listen:  %s:%d\n", cfg.Service.BindAddress, cfg.Service.Port)
		fmt.Printf("  auth:    %s\n", cfg.Auth.Mode)
		fmt.Printf("  limits:  %d-%d VMs per batch, %d workers\n",
			cfg.Limits.VMCountMin, cfg.Limits.VMCountMax, cfg.Limits.ProvisionWorkers)
		if cfg.Proxmox.TLSSkipVerify {
			fmt.Printf("  tls:     certificate verification disabled\n")
		}

		dialer := proxmox.NewDialer(cfg.Proxmox)
		eng := ops.New(cfg, dialer.Dial, ops.WithMetrics(ops.NewMetrics()))

		srv := server.New(cfg, eng)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			addr := srv.Addr()
			if strings.HasPrefix(addr, "0.0.0.0:") {
				if ip := getPrimaryIP(); ip != "" {
					fmt.Printf("\nListening on http://%s (http://%s)\n", addr, ip+addr[len("0.0.0.0"):])
				} else {
					fmt.Printf("\nListening on http://%s\n", addr)
				}
			} else {
				fmt.Printf("\nListening on http://%s\n", addr)
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "server error: %v\n", err)
				os.Exit(1)
			}
		}()

		<-sig
		fmt.Println("\nShutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}
