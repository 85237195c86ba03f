package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bit2swaz/loramesh/internal/config"
	"github.com/bit2swaz/loramesh/internal/core"
	"github.com/bit2swaz/loramesh/internal/discovery"
	"github.com/bit2swaz/loramesh/internal/engine"
	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"github.com/bit2swaz/loramesh/internal/transport"
	"github.com/bit2swaz/loramesh/internal/tui"
	"github.com/bit2swaz/loramesh/internal/uplink"
	"github.com/bit2swaz/loramesh/internal/utils"
	"github.com/bit2swaz/loramesh/internal/web"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "loramesh",
	Short: "LoRa mesh relay node",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Attach to the LoRa module and run the relay node",
	Run: func(cmd *cobra.Command, args []string) {
		if err := checkPort(cfg.WebPort); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Web port %d is already in use.\n", cfg.WebPort)
			os.Exit(1)
		}

		slog.Info("Starting LoRa mesh node", "device", cfg.Device, "baud", cfg.Baud)
		serialCfg := transport.SerialConfig{Device: cfg.Device, Baud: cfg.Baud}
		link, err := transport.OpenSerial(serialCfg)
		if err != nil {
			slog.Error("Failed to open serial link", "error", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		tm := transport.NewManager(link)
		defer tm.Close()

		localID, err := core.ResolveIdentity(tm, core.DefaultHandshake())
		if err != nil {
			slog.Warn("Identity unresolved, continuing as relay-only", "error", err)
		}

		db, err := store.Init(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to init DB", "error", err)
			os.Exit(1)
		}
		history, err := store.LoadMessages(db)
		if err != nil {
			slog.Error("Failed to load message history", "error", err)
			os.Exit(1)
		}
		conv := store.NewConversations(store.NewDBJournal(db))
		conv.Load(history)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		presence := discovery.NewPresence(db)
		presence.PeerUpdates = make(chan discovery.PeerInfo, 64)
		go presence.Run(ctx)
		go discovery.StartReaper(ctx, db, time.Minute, cfg.ReaperTTL)

		opts := engine.DefaultOptions()
		opts.RelayWindow = cfg.RelayWindow
		opts.PollInterval = cfg.PollInterval
		opts.DetachAfter = 5
		opts.Observer = presence
		eng, err := engine.New(tm, conv, localID, opts)
		if err != nil {
			slog.Error("Failed to create engine", "error", err)
			os.Exit(1)
		}

		if cfg.Webhook != "" {
			slog.Info("Initializing Uplink Service", "webhook", "REDACTED", "prefix", cfg.WebhookPrefix)
			upService := uplink.NewService(cfg.Webhook, cfg.WebhookPrefix)
			eng.UplinkChan = make(chan store.Message, 100)
			upService.Start(eng.UplinkChan)
		}

		if err := eng.Start(ctx); err != nil {
			slog.Error("Failed to start engine", "error", err)
			os.Exit(1)
		}
		go transport.Redial(ctx, tm, func() (transport.Link, error) {
			return transport.OpenSerial(serialCfg)
		}, 2*time.Second)

		webSrv := web.NewServer(db, eng, cfg.WebPort)
		go func() {
			if err := webSrv.Start(ctx); err != nil {
				slog.Error("Web server failed", "error", err)
				os.Exit(1)
			}
		}()

		url := utils.WebURL(cfg.WebPort)
		if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
			fmt.Println("\nSCAN TO OPEN THE NODE:")
			fmt.Println(qr.ToString(false))
		}
		fmt.Println("URL:", url)

		if cfg.Headless {
			slog.Info("Running in HEADLESS mode (No TUI)")
			<-ctx.Done()
			return
		}
		if err := tui.StartTUI(eng, db, eng.MsgUpdates, presence.PeerUpdates, protocol.DeviceID(cfg.Peer)); err != nil {
			slog.Error("TUI failed", "error", err)
		}
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the device id reported by the LoRa module",
	RunE: func(cmd *cobra.Command, args []string) error {
		link, err := transport.OpenSerial(transport.SerialConfig{Device: cfg.Device, Baud: cfg.Baud})
		if err != nil {
			return err
		}
		tm := transport.NewManager(link)
		defer tm.Close()

		id, err := core.ResolveIdentity(tm, core.DefaultHandshake())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports, marking known LoRa boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found")
			return nil
		}
		for _, p := range ports {
			mark := " "
			if p.Known {
				mark = "*"
			}
			if p.USB {
				fmt.Fprintf(out, "%s %s [%s:%s] %s\n", mark, p.Name, p.VID, p.PID, p.Product)
			} else {
				fmt.Fprintf(out, "%s %s\n", mark, p.Name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, whoamiCmd, portsCmd)

	rootCmd.PersistentFlags().StringVarP(&cfg.Device, "device", "d", cfg.Device, "Serial device of the LoRa module (auto-detected when empty)")
	rootCmd.PersistentFlags().IntVarP(&cfg.Baud, "baud", "b", cfg.Baud, "Serial baud rate")

	startCmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	startCmd.Flags().StringVarP(&cfg.Peer, "peer", "p", cfg.Peer, "Device id of the conversation to open")
	startCmd.Flags().IntVarP(&cfg.WebPort, "web-port", "w", cfg.WebPort, "Web interface port")
	startCmd.Flags().BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run without the terminal UI")
	startCmd.Flags().DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Link poll interval")
	startCmd.Flags().DurationVar(&cfg.RelayWindow, "relay-window", cfg.RelayWindow, "Duplicate suppression window (0 disables)")
	startCmd.Flags().StringVar(&cfg.Webhook, "webhook", cfg.Webhook, "Webhook URL for the uplink service")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
