// Command ultracomm is an interactive ultrasonic chat client. It plays
// through PulseAudio and captures from stdin:
//
//	parec --format=float32le --channels=1 --rate=48000 | ultracomm
//
// Run the capture source with echo cancellation, noise suppression and
// AGC disabled.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chzyer/readline"
	log "github.com/schollz/logger"
	"hz.tools/fftw"

	"github.com/ystepanoff/ultracomm"
)

type config struct {
	Name              string  `toml:"name"`
	Mode              string  `toml:"mode"`
	Volume            int     `toml:"volume"`
	SampleRate        int     `toml:"sample_rate"`
	Window            int     `toml:"window"`
	Hop               int     `toml:"hop"`
	Threshold         float64 `toml:"threshold"`
	SpectrumThreshold float64 `toml:"spectrum_threshold"`
	UseFFT            bool    `toml:"use_fft"`
	Sealed            bool    `toml:"sealed"`
	AutoDiscovery     bool    `toml:"auto_discovery"`
	SettingsPath      string  `toml:"settings_path"`
}

func defaultConfig() config {
	home, _ := os.UserHomeDir()
	return config{
		Mode:          "high",
		Volume:        80,
		SampleRate:    48000,
		AutoDiscovery: true,
		SettingsPath:  filepath.Join(home, ".ultracomm.json"),
	}
}

func main() {
	cfgPath := flag.String("config", "", "TOML configuration file")
	name := flag.String("name", "", "display name (persisted)")
	mode := flag.String("mode", "", "fsk profile: high or low")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel("debug")
	} else {
		log.SetLevel("info")
	}

	cfg := defaultConfig()
	if *cfgPath != "" {
		if _, err := toml.DecodeFile(*cfgPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	mcfg := ultracomm.Config{
		Username:          cfg.Name,
		Mode:              cfg.Mode,
		Volume:            cfg.Volume,
		AutoDiscovery:     cfg.AutoDiscovery,
		Sealed:            cfg.Sealed,
		DetectorWindow:    cfg.Window,
		DetectorHop:       cfg.Hop,
		Threshold:         cfg.Threshold,
		SpectrumThreshold: cfg.SpectrumThreshold,
		Store:             &fileStore{path: cfg.SettingsPath},
	}
	if cfg.UseFFT {
		mcfg.Planner = fftw.Plan
	}

	m, err := ultracomm.NewPulse(cfg.SampleRate, os.Stdin, mcfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audio:", err)
		os.Exit(1)
	}
	defer m.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("ultracomm: you are %s (%s)\n", m.Username(), m.UserID())
	fmt.Println("type .help for commands, anything else to chat")

	events, cancel := m.Events()
	defer cancel()
	invites := &inviteBox{}
	go printEvents(rl, events, invites)

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ".") {
			if err := m.SendChat(line); err != nil {
				fmt.Println("!", err)
			}
			continue
		}
		if quit := runCommand(m, line, invites); quit {
			break
		}
	}
}

func runCommand(m *ultracomm.Messenger, line string, invites *inviteBox) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case ".help":
		fmt.Println(".peers .join [room] .invite <peer> .accept .leave .private .mode <high|low> .volume <0-100> .quit")
	case ".peers":
		peers := m.ListPeers()
		if len(peers) == 0 {
			fmt.Println("nobody in earshot")
		}
		for _, p := range peers {
			fmt.Printf("  %s (%s) last seen %s ago\n", p.Username, p.UserID, sinceShort(p))
		}
	case ".join":
		if err := m.CreateOrJoinRoom(arg); err != nil {
			fmt.Println("!", err)
		}
	case ".invite":
		if err := m.InvitePeer(arg); err != nil {
			fmt.Println("!", err)
		}
	case ".accept":
		inv := invites.take()
		if inv == nil {
			fmt.Println("no pending invite")
			break
		}
		if err := m.AcceptInvite(*inv); err != nil {
			fmt.Println("!", err)
		}
	case ".leave":
		if err := m.LeaveRoom(); err != nil {
			fmt.Println("!", err)
		}
	case ".private":
		if err := m.TogglePrivacy(); err != nil {
			fmt.Println("!", err)
		}
	case ".mode":
		if err := m.SetMode(arg); err != nil {
			fmt.Println("!", err)
		}
	case ".volume":
		v, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Println("usage: .volume <0-100>")
			break
		}
		m.SetVolume(v)
	case ".quit":
		return true
	default:
		fmt.Println("unknown command, try .help")
	}
	return false
}

func printEvents(rl *readline.Instance, events <-chan ultracomm.Event, invites *inviteBox) {
	for e := range events {
		if e.Kind == ultracomm.EventInviteReceived {
			invites.put(*e.Invite)
		}
		rl.Clean()
		switch e.Kind {
		case ultracomm.EventPeerDetected:
			fmt.Printf("* %s is in earshot\n", e.Peer.Username)
		case ultracomm.EventPeerExpired:
			fmt.Printf("* %s faded out\n", e.Peer.Username)
		case ultracomm.EventPeerOffline:
			fmt.Printf("* %s is offline\n", e.Peer.Username)
		case ultracomm.EventMessage:
			if e.Message.System {
				fmt.Printf("* %s\n", e.Message.Content)
			} else {
				fmt.Printf("<%s> %s\n", e.Message.FromUsername, e.Message.Content)
			}
		case ultracomm.EventInviteReceived:
			fmt.Printf("* %s invites you to %s (.accept to join)\n",
				e.Invite.FromUsername, e.Invite.RoomName)
		case ultracomm.EventRoomStateChanged:
			if e.Room == nil {
				fmt.Println("* left the room")
			} else {
				fmt.Printf("* in %s (%d members, private=%v)\n",
					e.Room.Name, len(e.Room.Members), e.Room.Private)
			}
		case ultracomm.EventRoomAdvertised:
			fmt.Printf("* heard about %s (%d members), .join %s\n",
				e.Advert.RoomName, e.Advert.MemberCount, e.Advert.RoomID)
		case ultracomm.EventSendFailed:
			fmt.Printf("! send failed: %v\n", e.Err)
		}
		rl.Refresh()
	}
}
