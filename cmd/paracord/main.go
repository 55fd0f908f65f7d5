// The paracord client: joins the mesh plane, runs the voice session
// supervisor, optionally attaches to a central hub for text and
// WebRTC-negotiated voice, and exposes a small command loop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/hub"
	"github.com/paracord-chat/paracord/internal/network/p2p"
	"github.com/paracord-chat/paracord/internal/network/signaling"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/voice"
	"github.com/paracord-chat/paracord/pkg/protocol"
	"github.com/paracord-chat/paracord/pkg/token"
	"github.com/paracord-chat/paracord/pkg/version"
)

func main() {
	connTokenFlag := flag.String("token", "", "connection token from the server operator")
	docFlag := flag.String("doc", "", "document id of the community to join")
	hubFlag := flag.String("hub", "", "hub WebSocket base URL (e.g. ws://localhost:3000)")
	bearerFlag := flag.String("bearer", "", "bearer token for the hub session")
	flag.Parse()

	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   cfg.GetLogLevel(),
		Format:  "console",
		Service: "paracord",
		Version: version.Version,
	})

	if *connTokenFlag != "" {
		t, err := token.Decode(*connTokenFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid connection token")
		}
		logger.Info().
			Str("host", t.Host).
			Uint16("port", t.Port).
			Str("invite_code", t.InviteCode).
			Msg("decoded connection token")
		if *hubFlag == "" {
			*hubFlag = fmt.Sprintf("ws://%s:%d", t.Host, t.Port)
		}
	}

	host, err := p2p.New(p2p.Config{
		ListenPort:     cfg.P2P.ListenPort,
		EnableMDNS:     cfg.P2P.EnableMDNS,
		EnableDHT:      cfg.P2P.EnableDHT,
		BootstrapPeers: cfg.P2P.BootstrapPeers,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start mesh host")
	}
	defer host.Stop()

	// Mesh text: validated envelopes over direct streams.
	host.OnEnvelope(func(peerID string, env *protocol.Envelope) {
		switch env.Type {
		case protocol.TypeTextMessage:
			var msg protocol.TextMessage
			if err := env.DecodePayload(&msg); err != nil {
				logger.Debug().Err(err).Str("peer", peerID).Msg("bad mesh message")
				return
			}
			fmt.Printf("[mesh %s] %s: %s\n", msg.ChannelID, msg.AuthorName, msg.Content)
		case protocol.TypeChannelAnnounce:
			var ch protocol.ChannelAnnounce
			if err := env.DecodePayload(&ch); err == nil {
				fmt.Printf("[mesh] channel %s (%s) announced by %s\n", ch.Name, ch.ChannelType, peerID)
			}
		}
	})

	transport, err := p2p.NewGossipTransport(context.Background(), host, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start gossip transport")
	}

	devices := voice.DeviceConfig{
		CaptureRate:      cfg.Voice.CaptureRate,
		CaptureChannels:  cfg.Voice.CaptureChannels,
		PlaybackRate:     cfg.Voice.PlaybackRate,
		PlaybackChannels: cfg.Voice.PlaybackChannels,
	}
	supervisor := voice.NewSupervisor(transport, devices, cfg.Voice.PerChannelTopics, logger)
	defer supervisor.Stop()

	// Optional hub attachment for text chat and WebRTC voice.
	var hubClient *signaling.Client
	var engine *voice.Engine
	var enginePlayback *voice.Playback
	if *hubFlag != "" {
		hubClient = signaling.NewClient(*hubFlag, *bearerFlag, logger)
		if err := hubClient.Connect(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to hub")
		}
		defer hubClient.Close()

		hubClient.On(hub.TypeNewMessage, func(msg hub.ServerMessage) {
			fmt.Printf("[%s] %s: %s\n", msg.ChannelID, msg.UserName, msg.Content)
		})
		hubClient.On(hub.TypeError, func(msg hub.ServerMessage) {
			fmt.Println("server error:", msg.Message)
		})
	}

	docID := []byte(*docFlag)
	fmt.Println("paracord", version.Version)
	fmt.Println("commands: voice <channel-id> | legacy | stop | peers | connect <addr> |",
		"find <rendezvous> | mesh-say <peer> <ch> <text> | sub <ch> | say <ch> <text> |",
		"webrtc <ch> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "voice":
			if len(fields) < 2 {
				fmt.Println("usage: voice <channel-id>")
				continue
			}
			if err := supervisor.Start(context.Background(), docID, fields[1]); err != nil {
				logger.Error().Err(err).Msg("voice start failed")
			}
		case "legacy":
			// Whole-document topic: all voice channels share one stream.
			if err := supervisor.Start(context.Background(), docID, ""); err != nil {
				logger.Error().Err(err).Msg("voice start failed")
			}
		case "stop":
			supervisor.Stop()
			if engine != nil {
				engine.Close()
				engine = nil
			}
			if enginePlayback != nil {
				enginePlayback.Stop()
				enginePlayback = nil
			}
		case "peers":
			for _, p := range host.Peers() {
				fmt.Println(" ", p.ID, "connected:", p.Connected)
			}
		case "connect":
			if len(fields) < 2 {
				fmt.Println("usage: connect <multiaddr>")
				continue
			}
			if err := host.Connect(context.Background(), fields[1]); err != nil {
				logger.Error().Err(err).Msg("connect failed")
			}
		case "find":
			if len(fields) < 2 {
				fmt.Println("usage: find <rendezvous>")
				continue
			}
			found, err := host.FindPeers(context.Background(), fields[1])
			if err != nil {
				logger.Error().Err(err).Msg("find peers failed")
				continue
			}
			go func() {
				for pi := range found {
					fmt.Println("  discovered:", pi.ID)
				}
			}()
		case "sub":
			if hubClient == nil || len(fields) < 2 {
				fmt.Println("usage: sub <channel-id> (requires -hub)")
				continue
			}
			if err := hubClient.JoinChannel(fields[1]); err != nil {
				logger.Error().Err(err).Msg("join channel failed")
			}
		case "say":
			if hubClient == nil || len(fields) < 3 {
				fmt.Println("usage: say <channel-id> <text> (requires -hub)")
				continue
			}
			if err := hubClient.SendMessage(fields[1], strings.Join(fields[2:], " ")); err != nil {
				logger.Error().Err(err).Msg("send message failed")
			}
		case "webrtc":
			if hubClient == nil || len(fields) < 2 {
				fmt.Println("usage: webrtc <channel-id> (requires -hub)")
				continue
			}
			if engine != nil {
				engine.Close()
			}
			if enginePlayback != nil {
				enginePlayback.Stop()
				enginePlayback = nil
			}
			ring := voice.NewRing()
			engine = voice.NewEngine(ring, cfg.Voice.ICEServer, logger)
			enginePlayback, err = voice.StartPlayback(devices, ring, logger)
			if err != nil {
				logger.Error().Err(err).Msg("playback start failed")
				engine.Close()
				engine = nil
				continue
			}
			signaling.NewVoiceBridge(hubClient, engine, fields[1], logger)
			if err := hubClient.JoinVoice(fields[1]); err != nil {
				logger.Error().Err(err).Msg("join voice failed")
			}
		case "mesh-say":
			if len(fields) < 4 {
				fmt.Println("usage: mesh-say <peer-id> <channel-id> <text>")
				continue
			}
			env, err := protocol.Encode(protocol.TypeTextMessage, protocol.TextMessage{
				ID:         uuid.NewString(),
				ChannelID:  fields[2],
				AuthorID:   host.ID(),
				AuthorName: "cli",
				Content:    strings.Join(fields[3:], " "),
				SentAt:     time.Now().Unix(),
			})
			if err != nil {
				logger.Error().Err(err).Msg("encode mesh message failed")
				continue
			}
			if err := host.Send(fields[1], env); err != nil {
				logger.Error().Err(err).Msg("mesh send failed")
			}
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
