package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"darkarts.ai/internal/logging"
	"darkarts.ai/internal/persistence/snapshot"
	"darkarts.ai/internal/protocol"
)

// bot drives one planning session: it uploads a world file, requests a
// plan and prints the moves the server streams back.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		account   = flag.String("account", "", "acting account address (default: the world file's account)")
		worldPath = flag.String("world", "", "world state (.json) or snapshot (.snap.zst)")
		op        = flag.String("op", "distribute_energy", "capture|feed|distribute_energy|distribute_silver")
		srcTag    = flag.String("source", "", "source category")
		srcType   = flag.String("source-type", "", "source node type")
		dstTag    = flag.String("dest", "", "destination category")
		dstType   = flag.String("dest-type", "", "destination node type")
		target    = flag.String("target", "", "feed target node id")
		energy    = flag.Float64("energy", 0, "max energy percent")
		silver    = flag.Float64("silver", 0, "max silver percent")
		minLevel  = flag.Int("min-level", 0, "minimum destination level")
	)
	flag.Parse()

	logger, err := logging.New(logging.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	log := logger.With("component", "bot")

	if *worldPath == "" {
		log.Error("missing -world")
		os.Exit(2)
	}
	st, err := snapshot.ReadState(*worldPath)
	if err != nil {
		log.Error("read world", "error", err)
		os.Exit(1)
	}
	if *account == "" {
		*account = st.Account
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Error("dial", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	send := func(v any) {
		if err := conn.WriteJSON(v); err != nil {
			log.Error("send", "error", err)
			os.Exit(1)
		}
	}
	send(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Account: *account})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	planID := uuid.NewString()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			log.Info("WELCOME", "session", w.SessionID, "thresholds", w.Thresholds)
			send(protocol.WorldMsg{Type: protocol.TypeWorld, ProtocolVersion: protocol.Version, Snapshot: st})
			send(protocol.PlanMsg{
				Type:            protocol.TypePlan,
				ProtocolVersion: protocol.Version,
				PlanID:          planID,
				Op:              *op,
				Source:          protocol.Selector{Tag: *srcTag, Type: *srcType},
				Dest:            protocol.Selector{Tag: *dstTag, Type: *dstType},
				Target:          *target,
				MaxEnergy:       *energy,
				MaxSilver:       *silver,
				MinLevel:        *minLevel,
			})

		case protocol.TypeMove:
			var m protocol.MoveMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			fmt.Printf("%s -> %s energy=%d silver=%d\n", m.From, m.To, m.Energy, m.Silver)

		case protocol.TypePlanDone:
			var d protocol.PlanDoneMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			log.Info("PLAN_DONE", "batch", d.BatchID, "sources", d.Sources, "moves", d.Moves, "energy", d.EnergySpent, "silver", d.SilverSpent)
			return

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			log.Error("ERROR", "code", e.Code, "message", e.Message)
			if e.PlanID == planID {
				os.Exit(1)
			}
		}
	}
}
