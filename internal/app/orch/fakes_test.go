package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// fakeNegotiator connects once it holds both descriptions and has heard
// from the peer through at least one candidate.
type fakeNegotiator struct {
	name string

	mu            sync.Mutex
	attached      *core.LocalStream
	local, remote *domain.SessionDescription
	remoteCands   []domain.Candidate
	localCands    []domain.Candidate
	answerCalls   int
	closed        bool
	connected     bool
	onRemote      func(*core.RemoteStream)
	onState       func(core.TransportState)
	onCand        func(domain.Candidate)
}

func (n *fakeNegotiator) AttachLocalMedia(s *core.LocalStream) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attached = s
	return nil
}

func (n *fakeNegotiator) CreateOffer(context.Context) (domain.SessionDescription, error) {
	n.mu.Lock()
	sd := domain.SessionDescription{Type: "offer", SDP: "offer-from-" + n.name}
	n.local = &sd
	n.mu.Unlock()
	n.gather()
	return sd, nil
}

func (n *fakeNegotiator) AcceptOfferAndCreateAnswer(_ context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	n.mu.Lock()
	n.remote = &offer
	sd := domain.SessionDescription{Type: "answer", SDP: "answer-from-" + n.name}
	n.local = &sd
	n.mu.Unlock()
	n.gather()
	n.maybeConnect()
	return sd, nil
}

func (n *fakeNegotiator) AcceptAnswer(answer domain.SessionDescription) error {
	n.mu.Lock()
	n.answerCalls++
	if n.remote != nil {
		n.mu.Unlock()
		return nil
	}
	n.remote = &answer
	n.mu.Unlock()
	n.maybeConnect()
	return nil
}

func (n *fakeNegotiator) AddRemoteCandidate(c domain.Candidate) error {
	n.mu.Lock()
	n.remoteCands = append(n.remoteCands, c)
	n.mu.Unlock()
	n.maybeConnect()
	return nil
}

func (n *fakeNegotiator) maybeConnect() {
	n.mu.Lock()
	ready := !n.connected && !n.closed && n.local != nil && n.remote != nil && len(n.remoteCands) > 0
	if ready {
		n.connected = true
	}
	n.mu.Unlock()
	if ready {
		go n.connect()
	}
}

func (n *fakeNegotiator) OnRemoteMediaReady(fn func(*core.RemoteStream)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onRemote = fn
}

func (n *fakeNegotiator) OnConnectionStateChanged(fn func(core.TransportState)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onState = fn
}

func (n *fakeNegotiator) OnLocalCandidate(fn func(domain.Candidate)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onCand = fn
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNegotiator) gather() {
	for i := 0; i < 2; i++ {
		c := domain.Candidate{Candidate: fmt.Sprintf("candidate:%s-%d", n.name, i), SDPMid: "0"}
		n.mu.Lock()
		n.localCands = append(n.localCands, c)
		fn := n.onCand
		n.mu.Unlock()
		if fn != nil {
			fn(c)
		}
	}
}

func (n *fakeNegotiator) connect() {
	n.emitState(core.TransportConnecting)
	n.emitState(core.TransportConnected)
	n.mu.Lock()
	fn := n.onRemote
	n.mu.Unlock()
	if fn != nil {
		fn(core.NewRemoteStream("remote-of-" + n.name))
	}
}

func (n *fakeNegotiator) emitState(s core.TransportState) {
	n.mu.Lock()
	fn := n.onState
	n.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (n *fakeNegotiator) snapshot() (closed bool, answers int, remote, local []domain.Candidate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed, n.answerCalls, append([]domain.Candidate(nil), n.remoteCands...), append([]domain.Candidate(nil), n.localCands...)
}

type negFactory struct {
	name string
	mu   sync.Mutex
	made []*fakeNegotiator
}

func (f *negFactory) New(context.Context) (core.Negotiator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := &fakeNegotiator{name: f.name}
	f.made = append(f.made, n)
	return n, nil
}

func (f *negFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *negFactory) last() *fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

// recorder collects callback traffic.
type recorder struct {
	mu     sync.Mutex
	states []app.State
	errs   []*domain.CallError
	local  int
	remote int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnLocalMedia: func(*core.LocalStream) {
			r.mu.Lock()
			r.local++
			r.mu.Unlock()
		},
		OnRemoteMedia: func(*core.RemoteStream) {
			r.mu.Lock()
			r.remote++
			r.mu.Unlock()
		},
		OnStateChange: func(s app.State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnError: func(e *domain.CallError) {
			r.mu.Lock()
			r.errs = append(r.errs, e)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) errors() []*domain.CallError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.CallError(nil), r.errs...)
}

func (r *recorder) remoteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remote
}

func (r *recorder) stateLog() []app.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]app.State(nil), r.states...)
}

// countingDevices wraps a device backend and counts requests.
type countingDevices struct {
	inner core.MediaDevices
	mu    sync.Mutex
	calls int
}

func (d *countingDevices) GetUserMedia(ctx context.Context, c core.Constraints) (*core.LocalStream, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.inner.GetUserMedia(ctx, c)
}

func (d *countingDevices) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// blockingDevices holds every request until release is closed.
type blockingDevices struct {
	inner   core.MediaDevices
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *blockingDevices) GetUserMedia(ctx context.Context, c core.Constraints) (*core.LocalStream, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return d.inner.GetUserMedia(context.WithoutCancel(ctx), c)
}

// gatedSignaling holds the first call of op until release is closed.
// Create and Latest are held after the wrapped store ran them, Update before.
type gatedSignaling struct {
	core.SignalingStore
	op      string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSignaling(inner core.SignalingStore, op string) *gatedSignaling {
	return &gatedSignaling{SignalingStore: inner, op: op, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSignaling) hold(op string) {
	if op != g.op {
		return
	}
	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if first {
		<-g.release
	}
}

func (g *gatedSignaling) Create(ctx context.Context, doc domain.SignalingDoc) error {
	err := g.SignalingStore.Create(ctx, doc)
	g.hold("create")
	return err
}

func (g *gatedSignaling) Latest(ctx context.Context, id domain.AppointmentID) (domain.SignalingDoc, error) {
	doc, err := g.SignalingStore.Latest(ctx, id)
	g.hold("latest")
	return doc, err
}

func (g *gatedSignaling) Update(ctx context.Context, id domain.CallID, upd domain.DocUpdate) error {
	g.hold("update")
	return g.SignalingStore.Update(ctx, id, upd)
}
