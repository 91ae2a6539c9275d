// Command ultracomm-bridge exposes the acoustic messenger over a local
// websocket so a browser UI can attach. Events stream out as JSON;
// commands come back in. Capture PCM is read from stdin as in the CLI:
//
//	parec --format=float32le --channels=1 --rate=48000 | ultracomm-bridge
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/schollz/logger"

	"github.com/ystepanoff/ultracomm"
)

var wsupgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// outbound mirrors session events as JSON.
type outbound struct {
	Kind    string               `json:"kind"`
	Peer    *ultracomm.Peer      `json:"peer,omitempty"`
	Message *ultracomm.Message   `json:"message,omitempty"`
	Invite  *ultracomm.Invite    `json:"invite,omitempty"`
	Room    *ultracomm.RoomState `json:"room,omitempty"`
	Advert  *ultracomm.Advert    `json:"advert,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// inbound is a command from the UI.
type inbound struct {
	Cmd    string `json:"cmd"`
	Text   string `json:"text,omitempty"`
	Room   string `json:"room,omitempty"`
	Peer   string `json:"peer,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Volume int    `json:"volume,omitempty"`

	Invite *ultracomm.Invite `json:"invite,omitempty"`
}

var messenger *ultracomm.Messenger

func main() {
	port := flag.Int("port", 8098, "listen port")
	name := flag.String("name", "", "display name")
	mode := flag.String("mode", "high", "fsk profile: high or low")
	rate := flag.Int("rate", 48000, "capture sample rate")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel("debug")
	} else {
		log.SetLevel("info")
	}

	var err error
	messenger, err = ultracomm.NewPulse(*rate, os.Stdin, ultracomm.Config{
		Username:      *name,
		Mode:          *mode,
		AutoDiscovery: true,
	})
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
	defer messenger.Close()

	log.Infof("bridge listening on :%d as %s", *port, messenger.Username())
	http.HandleFunc("/ws", handler)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), nil); err != nil {
		log.Error(err)
	}
}

func handler(w http.ResponseWriter, r *http.Request) {
	t := time.Now().UTC()
	err := handle(w, r)
	if err != nil {
		log.Error(err)
	}
	log.Infof("%v %v %v %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(t))
}

func handle(w http.ResponseWriter, r *http.Request) (err error) {
	c, err := wsupgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	events, cancel := messenger.Events()
	defer cancel()

	// gorilla/websocket allows one writer at a time; the event pump and
	// the command loop share the connection.
	var wmu sync.Mutex
	writeJSON := func(v interface{}) error {
		wmu.Lock()
		defer wmu.Unlock()
		return c.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if werr := writeJSON(toOutbound(e)); werr != nil {
				return
			}
		}
	}()

	for {
		var in inbound
		if err = c.ReadJSON(&in); err != nil {
			break
		}
		if cerr := apply(in); cerr != nil {
			_ = writeJSON(outbound{Kind: "error", Error: cerr.Error()})
		}
	}
	cancel()
	<-done
	return nil
}

func apply(in inbound) error {
	switch in.Cmd {
	case "chat":
		return messenger.SendChat(in.Text)
	case "join":
		return messenger.CreateOrJoinRoom(in.Room)
	case "invite":
		return messenger.InvitePeer(in.Peer)
	case "accept":
		if in.Invite == nil {
			return fmt.Errorf("accept requires the invite")
		}
		return messenger.AcceptInvite(*in.Invite)
	case "leave":
		return messenger.LeaveRoom()
	case "private":
		return messenger.TogglePrivacy()
	case "mode":
		return messenger.SetMode(in.Mode)
	case "volume":
		messenger.SetVolume(in.Volume)
		return nil
	case "start":
		return messenger.StartDiscovery()
	case "stop":
		messenger.StopDiscovery()
		return nil
	}
	return fmt.Errorf("unknown command %q", in.Cmd)
}

func toOutbound(e ultracomm.Event) outbound {
	out := outbound{
		Kind:    e.Kind.String(),
		Peer:    e.Peer,
		Message: e.Message,
		Invite:  e.Invite,
		Room:    e.Room,
		Advert:  e.Advert,
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return out
}
