package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"darkarts.ai/internal/protocol"
	"darkarts.ai/internal/sim/alloc"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/dispatch"
	"darkarts.ai/internal/sim/threshold"
	"darkarts.ai/internal/sim/world"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "darkarts_ws_sessions",
		Help: "Open planning sessions",
	})
	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkarts_ws_plans_total",
		Help: "PLAN requests by op and result",
	}, []string{"op", "result"})
)

type Options struct {
	// Thresholds seeds each session's own threshold store.
	Thresholds *threshold.Store
	// Index is shared by every session.
	Index    *category.Index
	Recorder dispatch.Recorder
	Engine   alloc.Config
	Logger   *slog.Logger
}

type Server struct {
	opts Options
	log  *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Index == nil {
		opts.Index = category.NewIndex(category.NewMemoryStore(), logger)
	}
	return &Server{
		opts: opts,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sess, err := s.handshake(conn)
		if err != nil {
			s.log.Debug("handshake failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		sessionsActive.Inc()
		defer sessionsActive.Dec()
		log := s.log.With("session", sess.id, "account", sess.account)
		log.Info("session opened")

		go func() { _ = sess.engine.Run(ctx) }()
		defer sess.engine.Stop()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			sess.handle(ctx, msg)
		}
		sess.wg.Wait()
		log.Info("session closed")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil, errors.New("expected HELLO")
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil, err
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil, fmt.Errorf("protocol version %q", hello.ProtocolVersion)
	}
	if hello.Account == "" {
		closeWith(conn, "missing account")
		return nil, errors.New("missing account")
	}

	sess, err := s.newSession(hello.Account)
	if err != nil {
		return nil, err
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Thresholds:      thresholdPoints(sess.thresholds),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Server) newSession(account string) (*session, error) {
	var seed map[threshold.Kind]float64
	if s.opts.Thresholds != nil {
		seed = map[threshold.Kind]float64{}
		for k, v := range s.opts.Thresholds.All() {
			seed[k] = v.Points()
		}
	}
	th, err := threshold.NewStore(seed)
	if err != nil {
		return nil, err
	}
	sess := &session{
		id:         uuid.NewString(),
		account:    account,
		world:      world.NewMemory(world.State{Account: account}),
		thresholds: th,
		out:        make(chan []byte, 256),
		log:        s.log,
	}
	sess.engine = alloc.New(alloc.Deps{
		World:      sess.world,
		Submitter:  sess,
		Thresholds: th,
		Index:      s.opts.Index,
		Recorder:   s.opts.Recorder,
		Logger:     s.log.With("session", sess.id),
	}, s.opts.Engine)
	return sess, nil
}

type session struct {
	id         string
	account    string
	world      *world.Memory
	thresholds *threshold.Store
	engine     *alloc.Engine
	out        chan []byte
	log        *slog.Logger

	busy   atomic.Bool
	wg     sync.WaitGroup
	mu     sync.Mutex
	planID string
}

// SubmitMove records the move as unconfirmed in the session world and
// forwards it to the client, who owns the actual submission.
func (s *session) SubmitMove(ctx context.Context, m world.Move) error {
	if err := s.world.SubmitMove(ctx, m); err != nil {
		return err
	}
	s.mu.Lock()
	planID := s.planID
	s.mu.Unlock()
	return s.send(ctx, protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		PlanID:          planID,
		From:            m.From,
		To:              m.To,
		Energy:          m.Energy,
		Silver:          m.Silver,
	})
}

func (s *session) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) fail(ctx context.Context, planID, code string, err error) {
	e := protocol.NewError(code, err.Error())
	e.PlanID = planID
	_ = s.send(ctx, e)
}

func (s *session) handle(ctx context.Context, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.fail(ctx, "", protocol.ErrProtoBadRequest, err)
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.fail(ctx, "", protocol.ErrProtoVersion, fmt.Errorf("protocol_version %q", base.ProtocolVersion))
		return
	}
	switch base.Type {
	case protocol.TypeWorld:
		var m protocol.WorldMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.fail(ctx, "", protocol.ErrProtoBadRequest, err)
			return
		}
		if s.busy.Load() {
			s.fail(ctx, "", protocol.ErrBusy, errors.New("plan in flight"))
			return
		}
		st := m.Snapshot
		if st.Account == "" {
			st.Account = s.account
		}
		s.world.Load(st)
		s.log.Debug("world loaded", "session", s.id, "nodes", len(st.Nodes))

	case protocol.TypeSetThreshold:
		var m protocol.SetThresholdMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.fail(ctx, "", protocol.ErrProtoBadRequest, err)
			return
		}
		k, err := threshold.ParseKind(m.Kind)
		if err == nil {
			err = s.thresholds.Set(k, m.Value)
		}
		if err != nil {
			s.fail(ctx, "", protocol.ErrBadThreshold, err)
		}

	case protocol.TypePlan:
		var m protocol.PlanMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.fail(ctx, "", protocol.ErrProtoBadRequest, err)
			return
		}
		s.plan(ctx, m)

	default:
		s.fail(ctx, "", protocol.ErrProtoBadRequest, fmt.Errorf("unexpected message type %q", base.Type))
	}
}

func (s *session) plan(ctx context.Context, m protocol.PlanMsg) {
	req, code, err := planRequest(m)
	if err == nil && len(s.world.State().Nodes) == 0 {
		code, err = protocol.ErrNoWorld, errors.New("no WORLD received")
	}
	if err != nil {
		plansTotal.WithLabelValues(m.Op, "rejected").Inc()
		s.fail(ctx, m.PlanID, code, err)
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		plansTotal.WithLabelValues(m.Op, "busy").Inc()
		s.fail(ctx, m.PlanID, protocol.ErrBusy, errors.New("plan in flight"))
		return
	}
	s.mu.Lock()
	s.planID = m.PlanID
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		batch, err := s.engine.Plan(ctx, m.Op, req)
		if err != nil {
			s.busy.Store(false)
			code := protocol.ErrInternal
			if errors.Is(err, alloc.ErrUnknownOp) {
				code = protocol.ErrUnknownOp
			}
			plansTotal.WithLabelValues(m.Op, "rejected").Inc()
			s.fail(ctx, m.PlanID, code, err)
			return
		}
		rep, err := batch.Wait(ctx)
		// Cleared before PLAN_DONE goes out; the client may send the next PLAN right away.
		s.busy.Store(false)
		if err != nil {
			return
		}
		plansTotal.WithLabelValues(m.Op, "done").Inc()
		_ = s.send(ctx, protocol.PlanDoneMsg{
			Type:            protocol.TypePlanDone,
			ProtocolVersion: protocol.Version,
			PlanID:          m.PlanID,
			BatchID:         rep.BatchID,
			Sources:         len(rep.Sources),
			Moves:           rep.Moves,
			EnergySpent:     rep.EnergySpent,
			SilverSpent:     rep.SilverSpent,
		})
	}()
}

func planRequest(m protocol.PlanMsg) (alloc.Request, string, error) {
	var r alloc.Request
	if m.PlanID == "" {
		return r, protocol.ErrBadRequest, errors.New("missing plan_id")
	}
	src, err := alloc.ParseSelector(m.Source.Tag, m.Source.Type)
	if err != nil {
		return r, selectorCode(err), fmt.Errorf("source: %w", err)
	}
	dst, err := alloc.ParseSelector(m.Dest.Tag, m.Dest.Type)
	if err != nil {
		return r, selectorCode(err), fmt.Errorf("dest: %w", err)
	}
	if m.Op == alloc.OpFeed && m.Target == "" {
		return r, protocol.ErrInvalidTarget, errors.New("feed needs a target")
	}
	if m.MaxEnergy < 0 || m.MaxEnergy > 100 || m.MaxSilver < 0 || m.MaxSilver > 100 {
		return r, protocol.ErrBadRequest, errors.New("percentages must be within [0,100]")
	}
	return alloc.Request{
		Source:    src,
		Dest:      dst,
		Target:    m.Target,
		EnergyPct: m.MaxEnergy,
		SilverPct: m.MaxSilver,
		MinLevel:  m.MinLevel,
	}, "", nil
}

func selectorCode(err error) string {
	if errors.Is(err, category.ErrUnknownTag) {
		return protocol.ErrUnknownTag
	}
	return protocol.ErrBadRequest
}

func thresholdPoints(th *threshold.Store) map[string]float64 {
	out := map[string]float64{}
	for k, v := range th.All() {
		out[string(k)] = v.Points()
	}
	return out
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
