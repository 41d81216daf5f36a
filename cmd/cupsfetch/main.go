// SPDX-License-Identifier: GPL-3.0-or-later

// Command cupsfetch sends raw IPP requests and downloads files from a
// CUPS server using the gnomecups engine.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/bassosimone/runtimex"
	gnomecups "github.com/eurolinux-enterprise-linux-sources/libgnomecups"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "cupsfetch",
		Short:         "Talk IPP to a CUPS server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fileCmd = &cobra.Command{
		Use:   "file PATH",
		Short: "Download PATH (e.g. /admin/conf/cupsd.conf) from the server",
		Args:  cobra.ExactArgs(1),
		RunE:  runFile,
	}

	requestCmd = &cobra.Command{
		Use:   "request PATH",
		Short: "POST an encoded IPP request to PATH and print the response status",
		Args:  cobra.ExactArgs(1),
		RunE:  runRequest,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("server", "", "server name, host:port or socket path (default $CUPS_SERVER or localhost)")
	flags.Uint16("port", 0, "IPP port (default $IPP_PORT or 631)")
	flags.String("encrypt", "", "encryption: never, ifrequested, required, always (default $CUPS_ENCRYPTION)")
	flags.String("user", "", "user name for authentication (default $CUPS_USER or $USER)")
	flags.String("dns", "", "resolve the server through this DNS-over-UDP nameserver (e.g. 8.8.8.8:53)")
	flags.Duration("timeout", 30*time.Second, "overall timeout")
	flags.BoolP("verbose", "v", false, "log engine events to stderr")
	flags.Bool("trace-io", false, "with --verbose, also log every read and write on the wire")

	fileCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	requestCmd.Flags().String("payload", "", "file holding the encoded IPP request")
	runtimex.Assert(requestCmd.MarkFlagRequired("payload") == nil)

	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(requestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cupsfetch: %s\n", err)
		os.Exit(1)
	}
}

// newEngine builds and initializes an engine from the command line flags.
func newEngine(cmd *cobra.Command) (*gnomecups.Engine, error) {
	flags := cmd.Flags()
	cfg := gnomecups.NewConfig()

	if server, _ := flags.GetString("server"); server != "" {
		cfg.Server = server
	}
	if port, _ := flags.GetUint16("port"); port != 0 {
		cfg.Port = port
	}
	if value, _ := flags.GetString("encrypt"); value != "" {
		encryption, err := gnomecups.ParseEncryption(value)
		if err != nil {
			return nil, err
		}
		cfg.Encryption = encryption
	}
	if user, _ := flags.GetString("user"); user != "" {
		cfg.Username = user
	}

	logger := gnomecups.DefaultSLogger()
	if verbose, _ := flags.GetBool("verbose"); verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		cfg.ObserveIO, _ = flags.GetBool("trace-io")
	}

	if nameserver, _ := flags.GetString("dns"); nameserver != "" {
		addrport, err := netip.ParseAddrPort(nameserver)
		if err != nil {
			return nil, fmt.Errorf("invalid --dns: %w", err)
		}
		cfg.Resolver = gnomecups.NewDNSOverUDPResolver(cfg, addrport, logger)
	}

	engine := gnomecups.NewEngine(cfg, logger)
	if err := engine.Init(passwordFromEnv); err != nil {
		return nil, err
	}
	return engine, nil
}

// passwordFromEnv answers authentication prompts with $CUPS_PASSWORD.
func passwordFromEnv(prompt, username string) (string, string, bool) {
	password, found := os.LookupEnv("CUPS_PASSWORD")
	if !found {
		fmt.Fprintf(os.Stderr, "cupsfetch: %s(set CUPS_PASSWORD to answer)\n", prompt)
		return "", "", false
	}
	return username, password, true
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runFile(cmd *cobra.Command, args []string) error {
	engine, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var sink io.Writer = os.Stdout
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		filep, err := os.Create(output)
		if err != nil {
			return err
		}
		defer filep.Close()
		sink = filep
	}
	return engine.GetFile(ctx, "", args[0], sink)
}

func runRequest(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("payload")
	payload, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	engine, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	resp, err := engine.Execute(ctx, payload, "", args[0])
	if err != nil {
		return err
	}
	fmt.Printf("version:    %d.%d\n", resp.Major, resp.Minor)
	fmt.Printf("status:     %s (0x%04x)\n", resp.Status, uint16(resp.Status))
	fmt.Printf("request-id: %d\n", resp.RequestID)
	fmt.Printf("size:       %d bytes\n", len(resp.Raw))
	return nil
}
