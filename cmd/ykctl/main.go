// ykctl inspects and configures YubiKeys attached over USB.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/seagrayinc/yubikit/pkg/management"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
	"github.com/seagrayinc/yubikit/pkg/yubikit"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer stop()

	cmd := &cli.Command{
		Name:  "ykctl",
		Usage: "inspect and configure YubiKeys",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.UintFlag{
				Name:  "serial",
				Usage: "act on the YubiKey with this serial number",
			},
		},
		Commands: []*cli.Command{
			listCommand(),
			infoCommand(),
			configCommand(),
			modeCommand(),
			resetCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setupLogging(cmd *cli.Command) {
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// selectDevice applies the selection safety rule: an explicit --serial wins,
// otherwise exactly one YubiKey must be connected.
func selectDevice(ctx context.Context, cmd *cli.Command) (*yubikit.DeviceRecord, error) {
	manager := yubikit.NewDefaultManager()
	if serial := cmd.Uint("serial"); serial != 0 {
		records, err := manager.ListDeviceRecords(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			if record.Info.Serial == uint32(serial) {
				return record, nil
			}
		}
		return nil, fmt.Errorf("%w with serial %d", yubikit.ErrNoDevice, serial)
	}
	return manager.RequireSingleDevice(ctx)
}

func openSession(ctx context.Context, cmd *cli.Command) (*management.Session, error) {
	record, err := selectDevice(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return management.NewSession(record.Device)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list connected YubiKeys",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd)
			manager := yubikit.NewDefaultManager()
			records, err := manager.ListDeviceRecords(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no YubiKeys found")
				return nil
			}
			for _, record := range records {
				serial := "-"
				if record.Info.Serial != 0 {
					serial = fmt.Sprintf("%d", record.Info.Serial)
				}
				fmt.Printf("%-28s %-10s serial: %s\n", record.Name(), record.Info.Version, serial)
			}
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "show detailed device information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd)
			record, err := selectDevice(ctx, cmd)
			if err != nil {
				return err
			}
			printInfo(record.Info)
			return nil
		},
	}
}

func printInfo(info *management.DeviceInfo) {
	fmt.Printf("Product:          %s\n", management.ProductName(info))
	if info.Serial != 0 {
		fmt.Printf("Serial:           %d\n", info.Serial)
	}
	fmt.Printf("Firmware:         %s\n", info.Version)
	if !info.VersionQualifier.IsFinal() {
		fmt.Printf("Firmware build:   %s\n", info.VersionQualifier)
	}
	fmt.Printf("Form factor:      %s\n", info.FormFactor)
	if info.IsFips {
		fmt.Println("FIPS capable:     yes")
	}
	if info.IsLocked {
		fmt.Println("Config locked:    yes")
	}
	if info.PinComplexity {
		fmt.Println("PIN complexity:   enforced")
	}
	for _, t := range []yubikey.Transport{yubikey.TransportUSB, yubikey.TransportNFC} {
		if !info.HasTransport(t) {
			continue
		}
		fmt.Printf("%s supported:    %s\n", t, info.SupportedCapabilities(t))
		if enabled, ok := info.EnabledCapabilities(t); ok {
			fmt.Printf("%s enabled:     %s\n", t, enabled)
		}
	}
	if info.IsNfcRestricted {
		fmt.Println("NFC restricted:   yes")
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "enable or disable applications over a transport",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "enable", Usage: "application to enable (repeatable)"},
			&cli.StringSliceFlag{Name: "disable", Usage: "application to disable (repeatable)"},
			&cli.StringFlag{Name: "transport", Value: "usb", Usage: "transport to configure (usb or nfc)"},
			&cli.BoolFlag{Name: "reboot", Usage: "reboot the YubiKey to apply immediately"},
			&cli.StringFlag{Name: "lock-code", Usage: "current configuration lock code (32 hex digits)"},
			&cli.StringFlag{Name: "new-lock-code", Usage: "new configuration lock code (32 hex digits)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd)

			transport, err := parseTransport(cmd.String("transport"))
			if err != nil {
				return err
			}
			currentLock, err := parseLockCode(cmd.String("lock-code"))
			if err != nil {
				return err
			}
			newLock, err := parseLockCode(cmd.String("new-lock-code"))
			if err != nil {
				return err
			}

			record, err := selectDevice(ctx, cmd)
			if err != nil {
				return err
			}
			session, err := management.NewSession(record.Device)
			if err != nil {
				return err
			}
			defer session.Close()

			config := management.NewConfiguration(record.Info)
			for _, name := range cmd.StringSlice("enable") {
				capability, err := parseCapability(name)
				if err != nil {
					return err
				}
				config.Enable(transport, capability)
			}
			for _, name := range cmd.StringSlice("disable") {
				capability, err := parseCapability(name)
				if err != nil {
					return err
				}
				config.Disable(transport, capability)
			}
			return config.Apply(ctx, session, cmd.Bool("reboot"), currentLock, newLock)
		},
	}
}

func modeCommand() *cli.Command {
	return &cli.Command{
		Name:      "mode",
		Usage:     "set the allowed USB interfaces (pre-5.0 firmware)",
		ArgsUsage: "otp[+fido][+ccid]",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "chalresp-timeout", Value: 15, Usage: "challenge-response touch timeout in seconds"},
			&cli.UintFlag{Name: "autoeject-timeout", Usage: "CCID auto-eject timeout in 10s of seconds"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd)
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected a single mode argument, e.g. otp+fido+ccid")
			}
			mode, err := parseMode(cmd.Args().First())
			if err != nil {
				return err
			}
			session, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer session.Close()
			return session.SetMode(ctx, mode,
				byte(cmd.Uint("chalresp-timeout")), uint16(cmd.Uint("autoeject-timeout")))
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "factory reset all applications (supported devices only)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "skip the confirmation prompt"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupLogging(cmd)
			if !cmd.Bool("force") {
				fmt.Print("This wipes all data on the YubiKey. Type 'yes' to continue: ")
				var answer string
				fmt.Scanln(&answer)
				if strings.ToLower(answer) != "yes" {
					return fmt.Errorf("aborted")
				}
			}
			session, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer session.Close()
			return session.DeviceReset(ctx)
		},
	}
}

func parseTransport(name string) (yubikey.Transport, error) {
	switch strings.ToLower(name) {
	case "usb":
		return yubikey.TransportUSB, nil
	case "nfc":
		return yubikey.TransportNFC, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", name)
	}
}

func parseCapability(name string) (management.Capability, error) {
	switch strings.ToLower(name) {
	case "otp":
		return management.CapabilityOTP, nil
	case "u2f", "fido-u2f":
		return management.CapabilityU2F, nil
	case "fido2":
		return management.CapabilityFIDO2, nil
	case "fido":
		return management.CapabilityU2F | management.CapabilityFIDO2, nil
	case "oath":
		return management.CapabilityOATH, nil
	case "piv":
		return management.CapabilityPIV, nil
	case "openpgp", "pgp":
		return management.CapabilityOPENPGP, nil
	default:
		return 0, fmt.Errorf("unknown application %q", name)
	}
}

func parseMode(arg string) (yubikey.UsbMode, error) {
	interfaces := 0
	for _, part := range strings.Split(strings.ToLower(arg), "+") {
		switch part {
		case "otp":
			interfaces |= yubikey.UsbInterfaceOTP
		case "fido", "u2f":
			interfaces |= yubikey.UsbInterfaceFIDO
		case "ccid":
			interfaces |= yubikey.UsbInterfaceCCID
		default:
			return 0, fmt.Errorf("unknown interface %q", part)
		}
	}
	return yubikey.ModeForInterfaces(interfaces)
}

func parseLockCode(arg string) ([]byte, error) {
	if arg == "" {
		return nil, nil
	}
	code, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("lock code must be hex: %w", err)
	}
	if len(code) != management.LockCodeSize {
		return nil, fmt.Errorf("lock code must be %d bytes", management.LockCodeSize)
	}
	return code, nil
}
