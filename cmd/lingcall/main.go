package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/devices"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/session"
	"github.com/LingByte/LingCall/pkg/transport/rtc"
	"go.uber.org/zap"
)

func main() {
	agentID := flag.String("agent", "", "agent to start a voice session with")
	identityToken := flag.String("token", "", "identity token presented to the token issuer")
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()
	os.Setenv("MODE", *mode)

	if *agentID == "" {
		fmt.Fprintln(os.Stderr, "usage: lingcall -agent <agent-id> [-token <identity-token>]")
		os.Exit(2)
	}

	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	token := *identityToken
	if token == "" {
		token = os.Getenv("LINGCALL_IDENTITY_TOKEN")
	}

	registry, err := devices.NewSystemRegistry()
	if err != nil {
		logger.Fatal("audio backend initialization failed", zap.Error(err))
	}
	defer registry.Close()

	transport := rtc.NewTransport(registry)
	manager := session.NewManager(transport)
	creds := &session.CredentialClient{
		IssuerURL:       config.GlobalConfig.TokenIssuerURL,
		TransportURL:    config.GlobalConfig.TransportURL,
		RoomPrefix:      config.GlobalConfig.RoomPrefix,
		ParticipantName: config.GlobalConfig.ParticipantName,
	}
	orchestrator := session.NewOrchestrator(
		creds, manager, session.StaticTokenSource(token),
		session.WithStartTimeout(config.GlobalConfig.ConnectTimeout),
	)

	sink := session.NewRemoteAudioSink(manager)
	unmount := sink.Mount(
		func(trackID string, _ session.Playable) {
			fmt.Printf("agent audio attached (track %s)\n", trackID)
		},
		func(trackID string, _ session.Playable) {
			fmt.Printf("agent audio detached (track %s)\n", trackID)
		},
	)
	defer unmount()

	manager.OnError(func(detail session.ErrorDetail) {
		fmt.Printf("%s: %s\n", detail.Title, detail.Description)
	})
	orchestrator.OnStatusChange(func(status session.Status) {
		fmt.Printf("session status: %s\n", status)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator.Start(*agentID)
	switch orchestrator.Status() {
	case session.StatusLive:
		if orchestrator.NeedsManualAudioStart() {
			fmt.Println("agent audio is blocked; press Ctrl+C to stop, audio retries automatically")
			orchestrator.RetryAudioStart()
		}
		fmt.Println("session is live, press Ctrl+C to hang up")
		<-ctx.Done()
		orchestrator.Stop()
	case session.StatusFailed:
		if detail := orchestrator.Err(); detail != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", detail.Title, detail.Description)
		}
		orchestrator.Dismiss()
		os.Exit(1)
	}
}
