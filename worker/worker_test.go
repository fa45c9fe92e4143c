// File: worker/worker_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker_test

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/queue"
	"github.com/momentics/wsreactor/worker"
)

// stubParser returns a fixed outcome regardless of input.
type stubParser struct {
	req *http.Request
	err error
}

func (p *stubParser) Parse(data []byte) (*http.Request, int, error) {
	if p.err != nil {
		return nil, 0, p.err
	}
	return p.req, len(data), nil
}

// stubDispatcher records the request it saw and returns a fixed response.
type stubDispatcher struct {
	mu     sync.Mutex
	called int
	resp   *api.Response
	err    error
}

func (d *stubDispatcher) Dispatch(req *http.Request, peer string) (*api.Response, error) {
	d.mu.Lock()
	d.called++
	d.mu.Unlock()
	return d.resp, d.err
}

func (d *stubDispatcher) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.called
}

// routeTable is a fixed path -> endpoint map.
type routeTable map[string]api.Endpoint

func (r routeTable) Lookup(path string) (api.Endpoint, bool) {
	ep, ok := r[path]
	return ep, ok
}

// recordingEndpoint captures every callback and optionally reacts to them.
type recordingEndpoint struct {
	mu       sync.Mutex
	opens    int
	texts    []string
	binaries [][]byte
	closes   []int
	pings    [][]byte
	pongs    [][]byte

	onOpen func(ctx api.EndpointContext)
	onText func(ctx api.EndpointContext, text string)
	onPing func(ctx api.EndpointContext, payload []byte)
}

func (e *recordingEndpoint) OnOpen(ctx api.EndpointContext) {
	e.mu.Lock()
	e.opens++
	e.mu.Unlock()
	if e.onOpen != nil {
		e.onOpen(ctx)
	}
}

func (e *recordingEndpoint) OnTextReceived(ctx api.EndpointContext, text string) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	if e.onText != nil {
		e.onText(ctx, text)
	}
}

func (e *recordingEndpoint) OnBinaryReceived(ctx api.EndpointContext, data []byte) {
	e.mu.Lock()
	e.binaries = append(e.binaries, data)
	e.mu.Unlock()
}

func (e *recordingEndpoint) OnClose(ctx api.EndpointContext, code int) {
	e.mu.Lock()
	e.closes = append(e.closes, code)
	e.mu.Unlock()
}

func (e *recordingEndpoint) OnPing(ctx api.EndpointContext, payload []byte) {
	e.mu.Lock()
	e.pings = append(e.pings, payload)
	e.mu.Unlock()
	if e.onPing != nil {
		e.onPing(ctx, payload)
	}
}

func (e *recordingEndpoint) OnPong(ctx api.EndpointContext, payload []byte) {
	e.mu.Lock()
	e.pongs = append(e.pongs, payload)
	e.mu.Unlock()
}

func plainRequest(path string) *http.Request {
	return &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: path},
		Header: http.Header{},
	}
}

func upgradeRequest(path string) *http.Request {
	req := plainRequest(path)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Version", "13")
	return req
}

func testDeps(q *queue.SendQueue, routes routeTable, parser api.RequestParser, disp api.Dispatcher, m *control.Metrics) worker.Deps {
	return worker.Deps{
		Queue:      q,
		Routes:     routes,
		Parser:     parser,
		Dispatcher: disp,
		Log:        zap.NewNop(),
		Metrics:    m,
	}
}

func waitIdle(t *testing.T, g *worker.Group) {
	t.Helper()
	if !g.WaitForAllDone(2 * time.Second) {
		t.Fatalf("workers still active after 2s: %d", g.Count())
	}
}

func decodeAction(t *testing.T, a queue.Action) *protocol.Frame {
	t.Helper()
	if a.Kind != queue.KindSend {
		t.Fatalf("expected send action, got %v", a.Kind)
	}
	f, n, err := protocol.DecodeFrame(a.Data, protocol.DefaultMaxFramePayload)
	if err != nil {
		t.Fatalf("decode queued frame: %v", err)
	}
	if f == nil || n != len(a.Data) {
		t.Fatalf("queued data is not exactly one frame (consumed %d of %d)", n, len(a.Data))
	}
	return f
}

func TestRequestWorkerQueuesResponseThenDisconnect(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	disp := &stubDispatcher{resp: &api.Response{Bytes: []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")}}
	deps := testDeps(q, routeTable{}, &stubParser{req: plainRequest("/")}, disp, nil)

	g.StartRequest(worker.RequestInput{UUID: "u1", Peer: "peer", Raw: []byte("GET / HTTP/1.1\r\n\r\n")}, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Kind != queue.KindSend || actions[0].UUID != "u1" {
		t.Errorf("first action = %v %q, want send for u1", actions[0].Kind, actions[0].UUID)
	}
	if string(actions[0].Data) != string(disp.resp.Bytes) {
		t.Errorf("queued bytes differ from the response")
	}
	if actions[1].Kind != queue.KindDisconnect || actions[1].UUID != "u1" {
		t.Errorf("second action = %v %q, want disconnect for u1", actions[1].Kind, actions[1].UUID)
	}
}

func TestRequestWorkerKeepAliveOmitsDisconnect(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	disp := &stubDispatcher{resp: &api.Response{Bytes: []byte("ok"), KeepAlive: true}}
	deps := testDeps(q, routeTable{}, &stubParser{req: plainRequest("/")}, disp, nil)

	g.StartRequest(worker.RequestInput{UUID: "u1"}, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 1 || actions[0].Kind != queue.KindSend {
		t.Fatalf("expected exactly one send action, got %v", actions)
	}
}

func TestRequestWorkerDispatchErrorDisconnects(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	disp := &stubDispatcher{err: errors.New("boom")}
	deps := testDeps(q, routeTable{}, &stubParser{req: plainRequest("/")}, disp, nil)

	g.StartRequest(worker.RequestInput{UUID: "u1"}, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 1 || actions[0].Kind != queue.KindDisconnect {
		t.Fatalf("expected a single disconnect, got %v", actions)
	}
}

func TestRequestWorkerParseErrorDisconnects(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	deps := testDeps(q, routeTable{}, &stubParser{err: errors.New("corrupt")}, &stubDispatcher{}, nil)

	g.StartRequest(worker.RequestInput{UUID: "u1"}, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 1 || actions[0].Kind != queue.KindDisconnect {
		t.Fatalf("expected a single disconnect, got %v", actions)
	}
}

func TestRequestWorkerUpgradeGoesThroughQueue(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	disp := &stubDispatcher{resp: &api.Response{Bytes: []byte("nope")}}
	routes := routeTable{"/ws": &recordingEndpoint{}}
	deps := testDeps(q, routes, &stubParser{req: upgradeRequest("/ws")}, disp, nil)

	g.StartRequest(worker.RequestInput{UUID: "u1"}, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 1 {
		t.Fatalf("expected exactly one action, got %d", len(actions))
	}
	a := actions[0]
	if a.Kind != queue.KindUpgrade || a.UUID != "u1" || a.Path != "/ws" {
		t.Fatalf("unexpected upgrade action: %+v", a)
	}
	if a.Header.Get("Sec-WebSocket-Key") == "" {
		t.Errorf("upgrade action lost the request headers")
	}
	if disp.calls() != 0 {
		t.Errorf("dispatcher must not run for a routed upgrade, ran %d times", disp.calls())
	}
}

func TestRequestWorkerUpgradeUnboundPathIsDispatched(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	disp := &stubDispatcher{resp: &api.Response{Bytes: []byte("HTTP/1.1 404 Not Found\r\n\r\n")}}
	deps := testDeps(q, routeTable{}, &stubParser{req: upgradeRequest("/nowhere")}, disp, nil)

	g.StartRequest(worker.RequestInput{UUID: "u1"}, deps)
	waitIdle(t, g)

	if disp.calls() != 1 {
		t.Fatalf("dispatcher calls = %d, want 1", disp.calls())
	}
	actions := q.DrainAll()
	if len(actions) != 2 || actions[0].Kind != queue.KindSend || actions[1].Kind != queue.KindDisconnect {
		t.Fatalf("expected send+disconnect, got %v", actions)
	}
}

func TestFrameWorkerOpenReachesEndpoint(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	var gotUUID, gotPath, gotPeer string
	ep.onOpen = func(ctx api.EndpointContext) {
		gotUUID, gotPath, gotPeer = ctx.UUID(), ctx.Path(), ctx.Peer()
	}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	g.StartFrame(worker.FrameInput{UUID: "u1", Path: "/ws", Peer: "1.2.3.4:5", Event: worker.EventOpen}, deps)
	waitIdle(t, g)

	if ep.opens != 1 {
		t.Fatalf("opens = %d, want 1", ep.opens)
	}
	if gotUUID != "u1" || gotPath != "/ws" || gotPeer != "1.2.3.4:5" {
		t.Errorf("context identity = %q %q %q", gotUUID, gotPath, gotPeer)
	}
	if got := len(q.DrainAll()); got != 0 {
		t.Errorf("open with no directives queued %d actions", got)
	}
}

func TestFrameWorkerTextEcho(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	ep.onText = func(ctx api.EndpointContext, text string) { ctx.SendText(text) }
	deps := testDeps(q, routeTable{"/echo": ep}, nil, nil, nil)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/echo",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: protocol.OpText, Payload: []byte("hello")},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	if len(ep.texts) != 1 || ep.texts[0] != "hello" {
		t.Fatalf("texts = %v", ep.texts)
	}
	actions := q.DrainAll()
	if len(actions) != 1 {
		t.Fatalf("expected one queued frame, got %d", len(actions))
	}
	f := decodeAction(t, actions[0])
	if f.Opcode != protocol.OpText || string(f.Payload) != "hello" || !f.Final {
		t.Errorf("echoed frame = op %#x payload %q fin %v", f.Opcode, f.Payload, f.Final)
	}
}

func TestFrameWorkerPingAutoPong(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: protocol.OpPing, Payload: []byte("tick")},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	if len(ep.pings) != 1 || string(ep.pings[0]) != "tick" {
		t.Fatalf("pings = %v", ep.pings)
	}
	actions := q.DrainAll()
	if len(actions) != 1 {
		t.Fatalf("expected one queued pong, got %d", len(actions))
	}
	f := decodeAction(t, actions[0])
	if f.Opcode != protocol.OpPong || string(f.Payload) != "tick" {
		t.Errorf("auto pong = op %#x payload %q", f.Opcode, f.Payload)
	}
}

func TestFrameWorkerPingSkippedWhenCallbackCloses(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	ep.onPing = func(ctx api.EndpointContext, payload []byte) { ctx.Close(protocol.CloseGoingAway) }
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: protocol.OpPing},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 2 {
		t.Fatalf("expected close+disconnect, got %v", actions)
	}
	f := decodeAction(t, actions[0])
	if f.Opcode != protocol.OpClose || protocol.CloseCode(f.Payload) != protocol.CloseGoingAway {
		t.Errorf("first action is not a 1001 close frame")
	}
	if actions[1].Kind != queue.KindDisconnect {
		t.Errorf("second action = %v, want disconnect", actions[1].Kind)
	}
}

func TestFrameWorkerCloseFrameEchoedThenDisconnect(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: protocol.OpClose, Payload: protocol.ClosePayload(protocol.CloseNormalClosure)},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	if len(ep.closes) != 1 || ep.closes[0] != protocol.CloseNormalClosure {
		t.Fatalf("closes = %v", ep.closes)
	}
	actions := q.DrainAll()
	if len(actions) != 2 {
		t.Fatalf("expected close echo + disconnect, got %d actions", len(actions))
	}
	f := decodeAction(t, actions[0])
	if f.Opcode != protocol.OpClose || protocol.CloseCode(f.Payload) != protocol.CloseNormalClosure {
		t.Errorf("echo = op %#x code %d", f.Opcode, protocol.CloseCode(f.Payload))
	}
	if actions[1].Kind != queue.KindDisconnect || actions[1].UUID != "u1" {
		t.Errorf("second action = %+v, want disconnect for u1", actions[1])
	}
}

func TestFrameWorkerCloseWithoutPayloadReports1005(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: protocol.OpClose},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	if len(ep.closes) != 1 || ep.closes[0] != protocol.CloseNoStatusReceived {
		t.Fatalf("closes = %v, want [1005]", ep.closes)
	}
}

func TestFrameWorkerPeerDisappearanceEchoesNothing(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	g.StartFrame(worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventClosed,
		Code:  protocol.CloseGoingAway,
	}, deps)
	waitIdle(t, g)

	if len(ep.closes) != 1 || ep.closes[0] != protocol.CloseGoingAway {
		t.Fatalf("closes = %v, want [1001]", ep.closes)
	}
	if actions := q.DrainAll(); len(actions) != 0 {
		t.Errorf("closed event queued %d actions, want none", len(actions))
	}
}

func TestFrameWorkerUnknownOpcodeDropsFrameOnly(t *testing.T) {
	q := queue.New()
	m := control.NewMetrics()
	g := worker.NewGroup(zap.NewNop(), m)
	ep := &recordingEndpoint{}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, m)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: 0x5, Payload: []byte("junk")},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	if len(ep.texts)+len(ep.binaries)+len(ep.closes)+len(ep.pings)+len(ep.pongs) != 0 {
		t.Errorf("unknown opcode reached a callback")
	}
	if actions := q.DrainAll(); len(actions) != 0 {
		t.Errorf("unknown opcode queued %d actions, want none", len(actions))
	}
	if got := testutil.ToFloat64(m.ProtocolErrors); got != 1 {
		t.Errorf("protocol errors = %v, want 1", got)
	}
}

func TestFrameWorkerUnboundPathDisconnects(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	deps := testDeps(q, routeTable{}, nil, nil, nil)

	g.StartFrame(worker.FrameInput{UUID: "u1", Path: "/gone", Event: worker.EventOpen}, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 1 || actions[0].Kind != queue.KindDisconnect {
		t.Fatalf("expected a single disconnect, got %v", actions)
	}
}

func TestDirectivesStopAfterClose(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	ep.onText = func(ctx api.EndpointContext, _ string) {
		ctx.SendText("before")
		ctx.Close(protocol.CloseNormalClosure)
		ctx.SendText("after")
		ctx.Close(protocol.CloseGoingAway)
	}
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	in := worker.FrameInput{
		UUID:  "u1",
		Path:  "/ws",
		Event: worker.EventFrame,
		Frame: &protocol.Frame{Final: true, Opcode: protocol.OpText, Payload: []byte("x")},
	}
	g.StartFrame(in, deps)
	waitIdle(t, g)

	actions := q.DrainAll()
	if len(actions) != 3 {
		t.Fatalf("expected send+close+disconnect, got %d actions", len(actions))
	}
	first := decodeAction(t, actions[0])
	if first.Opcode != protocol.OpText || string(first.Payload) != "before" {
		t.Errorf("first frame = op %#x %q", first.Opcode, first.Payload)
	}
	second := decodeAction(t, actions[1])
	if second.Opcode != protocol.OpClose || protocol.CloseCode(second.Payload) != protocol.CloseNormalClosure {
		t.Errorf("second frame is not the 1000 close")
	}
	if actions[2].Kind != queue.KindDisconnect {
		t.Errorf("last action = %v, want disconnect", actions[2].Kind)
	}
}

func TestWaitForAllDoneObservesCompletion(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	release := make(chan struct{})
	ep := &recordingEndpoint{}
	ep.onOpen = func(api.EndpointContext) { <-release }
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	for i := 0; i < 4; i++ {
		g.StartFrame(worker.FrameInput{UUID: "u", Path: "/ws", Event: worker.EventOpen}, deps)
	}

	if g.WaitForAllDone(50 * time.Millisecond) {
		t.Fatalf("WaitForAllDone returned true while workers were blocked")
	}
	if g.Count() != 4 {
		t.Fatalf("count = %d, want 4", g.Count())
	}

	close(release)
	if !g.WaitForAllDone(2 * time.Second) {
		t.Fatalf("workers never finished after release")
	}
	if g.Count() != 0 {
		t.Errorf("count = %d after completion, want 0", g.Count())
	}
}

func TestWorkerPanicIsContained(t *testing.T) {
	q := queue.New()
	g := worker.NewGroup(zap.NewNop(), nil)
	ep := &recordingEndpoint{}
	ep.onOpen = func(api.EndpointContext) { panic("endpoint bug") }
	deps := testDeps(q, routeTable{"/ws": ep}, nil, nil, nil)

	g.StartFrame(worker.FrameInput{UUID: "u1", Path: "/ws", Event: worker.EventOpen}, deps)

	if !g.WaitForAllDone(2 * time.Second) {
		t.Fatalf("panicking worker never finished")
	}
	if g.Count() != 0 {
		t.Errorf("count = %d after panic, want 0", g.Count())
	}
}
