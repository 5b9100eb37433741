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

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-chat-go/internal/audio"
)

// ErrConfigNotFound is returned by Load when the config file does not exist
var ErrConfigNotFound = errors.New("config file not found")

// ClientConfig provides application-wide access to configuration fields,
// as well as loading, saving and file watching for the key=value config file
type ClientConfig struct {
	Audio struct {
		DeviceID     int // -1 selects the default duplex device
		SampleRate   int
		HostAPI      string
		InputGain    float32
		OutputVolume float32
		MuteInput    bool
		MuteOutput   bool
		Processing   audio.ProcessingOptions
	}

	Chat struct {
		NATSURL  string
		ClientID string
		Nickname string
		Channel  string
	}

	Telemetry struct {
		URL           string
		MeterInterval time.Duration
	}

	path   string
	logger *zap.SugaredLogger

	mu                 sync.Mutex
	reloadConsumers    []chan bool
	stopWatcherChannel chan struct{}
	stopOnce           sync.Once

	userConfig *viper.Viper
}

const (
	// DefaultConfigPath is used when no -config flag is given
	DefaultConfigPath = "chat_client.conf"

	configType = "properties"

	configKeyAudioDevice            = "audio_device"
	configKeySampleRate             = "sample_rate"
	configKeyHostAPI                = "host_api"
	configKeyInputGain              = "input_gain"
	configKeyOutputVolume           = "output_volume"
	configKeyMuteInput              = "mute_input"
	configKeyMuteOutput             = "mute_output"
	configKeyEchoCancellation       = "echo_cancellation"
	configKeyNoiseSuppression       = "noise_suppression"
	configKeyAutoGainControl        = "auto_gain_control"
	configKeyVoiceActivityDetection = "voice_activity_detection"
	configKeyNATSURL                = "nats_url"
	configKeyClientID               = "client_id"
	configKeyNickname               = "nickname"
	configKeyChatChannel            = "chat_channel"
	configKeyTelemetryURL           = "telemetry_url"
	configKeyMeterInterval          = "meter_interval"

	defaultInputGain     = 1.0
	defaultOutputVolume  = 1.0
	defaultChatChannel   = "general"
	defaultMeterInterval = 50 * time.Millisecond
	minMeterInterval     = 10 * time.Millisecond
)

// NewConfig creates a config instance backed by the file at path
func NewConfig(path string, logger *zap.SugaredLogger) (*ClientConfig, error) {
	logger = logger.Named("config")

	if path == "" {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "client"
	}

	cc := &ClientConfig{
		path:               absPath,
		logger:             logger,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan struct{}),
	}

	userConfig := viper.New()
	userConfig.SetConfigFile(absPath)
	userConfig.SetConfigType(configType)

	userConfig.SetDefault(configKeyAudioDevice, -1)
	userConfig.SetDefault(configKeySampleRate, audio.DefaultSampleRate)
	userConfig.SetDefault(configKeyHostAPI, "default")
	userConfig.SetDefault(configKeyInputGain, defaultInputGain)
	userConfig.SetDefault(configKeyOutputVolume, defaultOutputVolume)
	userConfig.SetDefault(configKeyMuteInput, false)
	userConfig.SetDefault(configKeyMuteOutput, false)
	userConfig.SetDefault(configKeyEchoCancellation, true)
	userConfig.SetDefault(configKeyNoiseSuppression, true)
	userConfig.SetDefault(configKeyAutoGainControl, true)
	userConfig.SetDefault(configKeyVoiceActivityDetection, false)
	userConfig.SetDefault(configKeyNATSURL, "")
	userConfig.SetDefault(configKeyClientID, hostname)
	userConfig.SetDefault(configKeyNickname, "")
	userConfig.SetDefault(configKeyChatChannel, defaultChatChannel)
	userConfig.SetDefault(configKeyTelemetryURL, "")
	userConfig.SetDefault(configKeyMeterInterval, defaultMeterInterval.String())

	cc.userConfig = userConfig

	// start from defaults so a missing file still yields usable values
	cc.populateFromViper()

	logger.Debugw("Created config instance", "path", absPath)
	return cc, nil
}

// Path returns the absolute path of the config file
func (cc *ClientConfig) Path() string {
	return cc.path
}

// Load reads the config file from disk and parses it
func (cc *ClientConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.path)

	if !fileExists(cc.path) {
		cc.logger.Warnw("Config file not found", "path", cc.path)
		return fmt.Errorf("%w: %s", ErrConfigNotFound, cc.path)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		return fmt.Errorf("read user config: %w", err)
	}

	cc.populateFromViper()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"audio", cc.Audio,
		"chat", cc.Chat,
		"telemetry", cc.Telemetry,
	)

	return nil
}

// Save writes the current field values to the config file
func (cc *ClientConfig) Save() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	v := cc.userConfig
	v.Set(configKeyAudioDevice, cc.Audio.DeviceID)
	v.Set(configKeySampleRate, cc.Audio.SampleRate)
	v.Set(configKeyHostAPI, cc.Audio.HostAPI)
	v.Set(configKeyInputGain, cc.Audio.InputGain)
	v.Set(configKeyOutputVolume, cc.Audio.OutputVolume)
	v.Set(configKeyMuteInput, cc.Audio.MuteInput)
	v.Set(configKeyMuteOutput, cc.Audio.MuteOutput)
	v.Set(configKeyEchoCancellation, cc.Audio.Processing.EchoCancellation)
	v.Set(configKeyNoiseSuppression, cc.Audio.Processing.NoiseSuppression)
	v.Set(configKeyAutoGainControl, cc.Audio.Processing.AutoGainControl)
	v.Set(configKeyVoiceActivityDetection, cc.Audio.Processing.VoiceActivityDetection)
	v.Set(configKeyNATSURL, cc.Chat.NATSURL)
	v.Set(configKeyClientID, cc.Chat.ClientID)
	v.Set(configKeyNickname, cc.Chat.Nickname)
	v.Set(configKeyChatChannel, cc.Chat.Channel)
	v.Set(configKeyTelemetryURL, cc.Telemetry.URL)
	v.Set(configKeyMeterInterval, cc.Telemetry.MeterInterval.String())

	if err := v.WriteConfigAs(cc.path); err != nil {
		cc.logger.Warnw("Failed to write config file", "path", cc.path, "error", err)
		return fmt.Errorf("write config: %w", err)
	}

	cc.logger.Infow("Saved config", "path", cc.path)
	return nil
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ClientConfig) SubscribeToChanges() chan bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	c := make(chan bool, 1)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes and
// attempts reloading the config when they happen. Blocks until StopWatchingConfigFile.
func (cc *ClientConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch config file for changes", "path", cc.path)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	var lastAttemptedReload time.Time

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		now := time.Now()

		// many editors write a file twice
		if !lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
			return
		}

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// let the editor flush the new contents to disk
		<-time.After(delayBetweenEventAndReload)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
		} else {
			cc.logger.Info("Reloaded config successfully")
			cc.onConfigReloaded()
		}

		lastAttemptedReload = now
	})
	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping config file watcher")
	cc.userConfig.OnConfigChange(func(fsnotify.Event) {})
}

// StopWatchingConfigFile signals the filesystem watcher to stop and closes every reload channel
func (cc *ClientConfig) StopWatchingConfigFile() {
	cc.stopOnce.Do(func() {
		close(cc.stopWatcherChannel)
		cc.closeReloadChannels()
	})
}

func (cc *ClientConfig) closeReloadChannels() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil
	cc.logger.Debug("Closed all config reload channels")
}

func (cc *ClientConfig) onConfigReloaded() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
			// consumer hasn't drained the previous notification yet
		}
	}
}

func (cc *ClientConfig) populateFromViper() {
	v := cc.userConfig

	cc.Audio.DeviceID = v.GetInt(configKeyAudioDevice)
	cc.Audio.SampleRate = v.GetInt(configKeySampleRate)
	cc.Audio.HostAPI = v.GetString(configKeyHostAPI)
	cc.Audio.InputGain = cc.boundedFloat(configKeyInputGain, audio.MaxInputGain, defaultInputGain)
	cc.Audio.OutputVolume = cc.boundedFloat(configKeyOutputVolume, audio.MaxOutputVolume, defaultOutputVolume)
	cc.Audio.MuteInput = v.GetBool(configKeyMuteInput)
	cc.Audio.MuteOutput = v.GetBool(configKeyMuteOutput)
	cc.Audio.Processing = audio.ProcessingOptions{
		EchoCancellation:       v.GetBool(configKeyEchoCancellation),
		NoiseSuppression:       v.GetBool(configKeyNoiseSuppression),
		AutoGainControl:        v.GetBool(configKeyAutoGainControl),
		VoiceActivityDetection: v.GetBool(configKeyVoiceActivityDetection),
	}

	if cc.Audio.SampleRate <= 0 {
		cc.logger.Warnw("Invalid sample rate, using default", "value", cc.Audio.SampleRate)
		cc.Audio.SampleRate = audio.DefaultSampleRate
	}

	cc.Chat.NATSURL = v.GetString(configKeyNATSURL)
	cc.Chat.ClientID = v.GetString(configKeyClientID)
	cc.Chat.Nickname = v.GetString(configKeyNickname)
	cc.Chat.Channel = v.GetString(configKeyChatChannel)
	if cc.Chat.Channel == "" {
		cc.Chat.Channel = defaultChatChannel
	}

	cc.Telemetry.URL = v.GetString(configKeyTelemetryURL)
	cc.Telemetry.MeterInterval = v.GetDuration(configKeyMeterInterval)
	if cc.Telemetry.MeterInterval < minMeterInterval {
		cc.logger.Warnw("Meter interval too small, using default",
			"value", v.GetString(configKeyMeterInterval),
			"default", defaultMeterInterval)
		cc.Telemetry.MeterInterval = defaultMeterInterval
	}

	cc.logger.Debug("Populated config fields from viper")
}

// boundedFloat reads key and clamps it to [0, upper], warning when out of range.
// A value that is not a number falls back to fallback.
func (cc *ClientConfig) boundedFloat(key string, upper, fallback float64) float32 {
	value := cc.userConfig.GetFloat64(key)
	if math.IsNaN(value) {
		cc.logger.Warnw("Config value is not a number, using default", "key", key, "default", fallback)
		return float32(fallback)
	}
	if value < 0 || value > upper {
		cc.logger.Warnw("Config value out of range", "key", key, "value", value, "max", upper)
		value = max(0, min(upper, value))
	}
	return float32(value)
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
