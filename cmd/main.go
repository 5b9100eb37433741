/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-chat-go/internal/audio"
	"github.com/loqalabs/loqa-chat-go/internal/config"
	"github.com/loqalabs/loqa-chat-go/internal/logging"
	"github.com/loqalabs/loqa-chat-go/internal/nats"
	"github.com/loqalabs/loqa-chat-go/internal/transport"
)

const chatQueueCapacity = 64

// options holds the parsed command line. Only flags the user actually passed
// override values from the config file.
type options struct {
	configPath   string
	device       int
	rate         int
	list         bool
	natsURL      string
	clientID     string
	telemetryURL string
	verbose      bool

	set map[string]bool
}

func parseOptions(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("loqa-chat", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", config.DefaultConfigPath, "Path to the key=value config file")
	fs.IntVar(&opts.device, "device", -1, "Audio device ID (-1 for the default duplex device)")
	fs.IntVar(&opts.rate, "rate", audio.DefaultSampleRate, "Sample rate in Hz")
	fs.BoolVar(&opts.list, "list", false, "List audio devices and exit")
	fs.StringVar(&opts.natsURL, "nats", "", "NATS server URL for chat, e.g. nats://localhost:4222 (empty disables chat)")
	fs.StringVar(&opts.clientID, "id", "", "Client identifier")
	fs.StringVar(&opts.telemetryURL, "telemetry", "", "Hub URL for level telemetry over HTTP")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})

	return opts, nil
}

// applyTo overrides config values with explicitly passed flags
func (o options) applyTo(cfg *config.ClientConfig) {
	if o.set["device"] {
		cfg.Audio.DeviceID = o.device
	}
	if o.set["rate"] {
		cfg.Audio.SampleRate = o.rate
	}
	if o.set["nats"] {
		cfg.Chat.NATSURL = o.natsURL
	}
	if o.set["id"] {
		cfg.Chat.ClientID = o.clientID
	}
	if o.set["telemetry"] {
		cfg.Telemetry.URL = o.telemetryURL
	}
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(opts.verbose)
	if err != nil {
		log.Fatalf("❌ Failed to create logger: %v", err)
	}

	if err := run(opts, logger); err != nil {
		logger.Errorw("❌ Chat client exited with error", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(opts options, logger *zap.SugaredLogger) error {
	cfg, err := config.NewConfig(opts.configPath, logger)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if err := cfg.Load(); err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Infow("No config file found, using defaults", "path", cfg.Path())
	}
	opts.applyTo(cfg)

	backend, err := audio.NewPortAudioBackendForHostAPI(cfg.Audio.HostAPI)
	if err != nil {
		return fmt.Errorf("select host API: %w", err)
	}

	engine, err := audio.NewAudioEngine(backend, logger)
	if err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			logger.Warnw("Audio shutdown reported an error", "error", err)
		}
	}()

	if opts.list {
		devices, err := engine.EnumerateDevices()
		if err != nil {
			return fmt.Errorf("enumerate devices: %w", err)
		}
		printDevices(os.Stdout, devices)
		return nil
	}

	logger.Infof("🚀 Starting Loqa Chat Client")
	logger.Infof("📋 Client ID: %s", cfg.Chat.ClientID)

	controls := audio.NewVoiceControls()
	applyControls(controls, cfg)
	engine.InstallProcessing(controls.Process)

	peaks := &audio.PeakHold{}
	engine.InstallLevelObserver(peaks.Observe)

	if err := openDevice(engine, cfg.Audio.DeviceID, cfg.Audio.SampleRate); err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return fmt.Errorf("start audio: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloads := cfg.SubscribeToChanges()
	go cfg.WatchConfigFileChanges()
	defer cfg.StopWatchingConfigFile()

	go func() {
		for range reloads {
			applyControls(controls, cfg)
			logger.Infow("Applied reloaded voice controls",
				"inputGain", controls.InputGain(),
				"outputVolume", controls.OutputVolume())
		}
	}()

	var (
		chat      *nats.ChatClient
		publisher transport.FramePublisher
		mirror    transport.FramePublisher
	)

	if cfg.Chat.NATSURL != "" {
		conn, err := nats.Connect(cfg.Chat.NATSURL, cfg.Chat.ClientID, logger)
		if err != nil {
			logger.Warnw("⚠️  Chat unavailable, continuing with audio only", "error", err)
		} else {
			chat = nats.NewChatClientWithConnection(conn, cfg.Chat.ClientID, cfg.Chat.Nickname, cfg.Chat.Channel, chatQueueCapacity, logger)
			if err := chat.Start(); err != nil {
				chat.Close()
				return fmt.Errorf("start chat: %w", err)
			}
			defer chat.Close()
			publisher = nats.NewLevelPublisher(conn, cfg.Chat.ClientID, logger)
		}
	}

	if cfg.Telemetry.URL != "" {
		httpPublisher, err := transport.NewHTTPFramePublisher(cfg.Telemetry.URL, cfg.Chat.ClientID, logger)
		if err != nil {
			return fmt.Errorf("create telemetry publisher: %w", err)
		}
		defer httpPublisher.Close()
		publisher = httpPublisher
		mirror = httpPublisher
	}

	reporterDone := make(chan struct{})
	if publisher != nil {
		reporter := transport.NewLevelReporter(engine, peaks, publisher, cfg.Chat.ClientID, cfg.Telemetry.MeterInterval, logger)
		go func() {
			defer close(reporterDone)
			if err := reporter.Run(ctx); err != nil {
				logger.Warnw("Level reporter stopped", "error", err)
			}
		}()
	} else {
		close(reporterDone)
	}

	if chat != nil {
		go relayChat(ctx, chat.Messages(), mirror, logger)
		go readChatInput(os.Stdin, chat, logger)
	}

	printBanner(os.Stdout, engine, cfg, chat != nil, publisher != nil)

	<-ctx.Done()
	logger.Info("🛑 Shutting down chat client...")

	stop()
	<-reporterDone

	if err := engine.Stop(); err != nil {
		logger.Warnw("Failed to stop audio", "error", err)
	}

	logger.Infow("👋 Chat client stopped",
		"periods", engine.Periods(),
		"faults", engine.Faults())
	return nil
}

func openDevice(engine *audio.AudioEngine, deviceID, sampleRate int) error {
	if deviceID < 0 {
		if err := engine.OpenDefault(sampleRate); err != nil {
			return fmt.Errorf("open default device: %w", err)
		}
		return nil
	}

	if err := engine.Open(deviceID, sampleRate); err != nil {
		return fmt.Errorf("open device %d: %w", deviceID, err)
	}
	return nil
}

func applyControls(controls *audio.VoiceControls, cfg *config.ClientConfig) {
	controls.SetInputGain(cfg.Audio.InputGain)
	controls.SetOutputVolume(cfg.Audio.OutputVolume)
	controls.SetMuteInput(cfg.Audio.MuteInput)
	controls.SetMuteOutput(cfg.Audio.MuteOutput)
	controls.SetProcessingOptions(cfg.Audio.Processing)
}

func printDevices(w io.Writer, devices []audio.Device) {
	fmt.Fprintln(w, "🎧 Audio devices:")
	if len(devices) == 0 {
		fmt.Fprintln(w, "   (none)")
		return
	}

	for _, d := range devices {
		var tags []string
		if d.IsDefaultInput {
			tags = append(tags, "default input")
		}
		if d.IsDefaultOutput {
			tags = append(tags, "default output")
		}
		if d.IsDuplex() {
			tags = append(tags, "duplex")
		}

		fmt.Fprintf(w, "   %s [%s]", d, d.HostAPI)
		if len(tags) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(tags, ", "))
		}
		fmt.Fprintln(w)

		rates := make([]string, 0, len(d.SupportedSampleRates))
		for _, r := range d.SupportedSampleRates {
			rates = append(rates, fmt.Sprint(r))
		}
		fmt.Fprintf(w, "      rates: %s\n", strings.Join(rates, " "))
	}
}

func formatChatMessage(msg nats.ChatMessage) string {
	return fmt.Sprintf("💬 [%s] %s %s: %s", msg.Channel, msg.Timestamp.Format("15:04:05"), msg.Sender, msg.Text)
}

// relayChat logs incoming chat messages and mirrors them to the telemetry hub when one is configured
func relayChat(ctx context.Context, messages <-chan nats.ChatMessage, mirror transport.FramePublisher, logger *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			logger.Info(formatChatMessage(msg))

			if mirror == nil {
				continue
			}

			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Warnw("Failed to encode chat message for telemetry", "error", err)
				continue
			}

			publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := mirror.Publish(publishCtx, transport.FrameTypeChat, payload); err != nil {
				logger.Debugw("Failed to mirror chat message", "error", err)
			}
			cancel()
		}
	}
}

// readChatInput sends each non-empty line from r to the client's own channel
func readChatInput(r io.Reader, chat *nats.ChatClient, logger *zap.SugaredLogger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := chat.SendMessage("", line); err != nil {
			if errors.Is(err, nats.ErrChatNotStarted) {
				return
			}
			logger.Warnw("Failed to send chat message", "error", err)
		}
	}
}

func printBanner(w io.Writer, engine *audio.AudioEngine, cfg *config.ClientConfig, chatEnabled, telemetryEnabled bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "🎤 Loqa Chat Client - Audio Active!")
	fmt.Fprintln(w, "===================================")
	fmt.Fprintln(w)

	if streamCfg, ok := engine.Config(); ok {
		fmt.Fprintf(w, "🎙️  Device: %d @ %d Hz (%d in / %d out, %d frames)\n",
			streamCfg.DeviceID, streamCfg.SampleRate,
			streamCfg.InputChannels, streamCfg.OutputChannels, streamCfg.FramesPerPeriod)
	}

	if chatEnabled {
		fmt.Fprintf(w, "💬 Chat: #%s via %s (type a line and press Enter)\n", cfg.Chat.Channel, cfg.Chat.NATSURL)
	} else {
		fmt.Fprintln(w, "💬 Chat: disabled")
	}

	if telemetryEnabled {
		fmt.Fprintf(w, "📡 Levels: every %s\n", cfg.Telemetry.MeterInterval)
	} else {
		fmt.Fprintln(w, "📡 Levels: not reported")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "⏹️  Press Ctrl+C to stop")
	fmt.Fprintln(w)
}
