// Command aethercast-source is the session entry point: it parses
// flags, loads configuration, builds the capture/encoder pair for the
// configured source type, and drives one SourceMediaManager across its
// process lifetime. RTSP/WFD negotiation itself is out of core scope
// (spec §6.2) — aethercast-source only opens the TCP socket the
// external protocol engine ferries bytes over and, absent that engine,
// falls back to the configured default video format so the pipeline
// can still be exercised end to end.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/ubports/aethercast/internal/config"
	"github.com/ubports/aethercast/internal/logx"
	"github.com/ubports/aethercast/internal/videoformat"
	"github.com/ubports/aethercast/pkg/capture"
	"github.com/ubports/aethercast/pkg/encoder"
	"github.com/ubports/aethercast/pkg/rtsp"
	"github.com/ubports/aethercast/pkg/session"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("aethercast-source", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "enable debug logging for all categories")
	showVersion := fs.Bool("version", false, "print the version and exit")
	envPath := fs.String("env", ".env", "path to an env-style config override file")
	yamlPath := fs.String("config", "", "path to a YAML config override file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintf(os.Stderr, "Miracast/WFD source session daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Println("aethercast-source", version)
		return 0
	}

	cfg, err := config.Load(*yamlPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aethercast-source: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "aethercast-source: %v\n", err)
		return 1
	}

	logCfg := logx.NewConfig()
	if *debug {
		logCfg.EnableCategory(logx.CategoryRTSP)
		logCfg.EnableCategory(logx.CategoryPipeline)
		logCfg.EnableCategory(logx.CategoryMPEGTS)
		logCfg.EnableCategory(logx.CategoryRTP)
		logCfg.Level = zerolog.DebugLevel
	}
	if cfg.DebugCategories != "" {
		for cat := range logx.ParseCategories(cfg.DebugCategories) {
			logCfg.EnableCategory(cat)
		}
	}

	logger, err := logx.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aethercast-source: %v\n", err)
		return 1
	}

	logger.Info().Str("version", version).Int("rtsp_port", cfg.RTSPPort).Msg("starting")

	producer, backend := buildSourceType(cfg.SourceType)

	mgr := session.New(producer, backend)
	mgr.SetLogger(logx.WithCategory(logger, logCfg, logx.CategoryPipeline))

	rtspLog := logx.WithCategory(logger, logCfg, logx.CategoryRTSP)
	client := rtsp.NewSourceClient()
	client.OnLine(func(line []byte) {
		rtspLog.Debug().Bytes("line", line).Msg("rtsp traffic")
	})

	if err := client.Listen(cfg.RTSPPort); err != nil {
		logger.Error().Err(err).Msg("failed to listen for sink")
		return 1
	}
	defer client.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sinkReady := make(chan struct{})
	go func() {
		if client.WaitForSink(365 * 24 * time.Hour) {
			close(sinkReady)
		}
	}()

	logger.Info().Msg("waiting for sink to connect")

	select {
	case <-sinkReady:
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown before a sink connected")
		return 0
	}

	allowed := videoformat.LoadAllowedModes(cfg.VideoModesPath)
	sourceCodecs := videoformat.DefaultCodecs(allowed)
	native := videoformat.NativeFormat{Width: cfg.Width, Height: cfg.Height, RefreshRate: cfg.Framerate}

	format, ok := videoformat.SelectOptimal(native, sourceCodecs, sourceCodecs)
	if !ok {
		logger.Error().Msg("no compatible video format")
		return 1
	}

	dest := session.StreamDestination{RemoteIP: remoteHost(client), RemotePort: remoteRTPPort(cfg)}
	if err := mgr.Configure(dest, format, native); err != nil {
		logger.Error().Err(err).Msg("failed to configure session")
		return 1
	}

	mgr.Play()
	logger.Info().Str("session_id", mgr.SessionID()).Msg("streaming")

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	mgr.Teardown()
	logger.Info().Msg("graceful shutdown complete")
	return 0
}

// buildSourceType resolves AETHERCAST_SOURCE_TYPE / --config source_type
// to a capture producer and encoder backend pair. Only the software
// pair ships in this module; real display-capture and hardware-codec
// backends are platform collaborators supplied out of tree (spec
// §6.2), so sourceType is ignored and every value resolves to the
// same deterministic software pair.
func buildSourceType(sourceType string) (capture.Producer, encoder.Backend) {
	_ = sourceType
	return capture.NewSoftware(), encoder.NewSoftwareBackend()
}

// remoteHost reports the sink's TCP peer address so the RTP stream
// dials the same host the RTSP control connection came from.
func remoteHost(client *rtsp.SourceClient) string {
	addr, err := client.RemoteAddr()
	if err != nil {
		return "127.0.0.1"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "127.0.0.1"
	}
	return host
}

// remoteRTPPort is the well-known WFD RTP port absent a negotiated
// SET_PARAMETER response from the external protocol engine.
func remoteRTPPort(cfg config.Config) int {
	const defaultWFDRTPPort = 9999
	_ = cfg
	return defaultWFDRTPPort
}
