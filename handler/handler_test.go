package handler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/wyfcoding/tcpserver/async"
	"github.com/wyfcoding/tcpserver/listener"
	"github.com/wyfcoding/tcpserver/xerrors"
)

type scriptedInbound struct {
	err      error
	messages []string
}

func (in *scriptedInbound) Receive(ctx context.Context) (string, error) {
	if len(in.messages) == 0 {
		if in.err != nil {
			return "", in.err
		}
		return "", io.EOF
	}
	msg := in.messages[0]
	in.messages = in.messages[1:]
	return msg, nil
}

type recordingOutbound struct {
	err     error
	events  *eventLog
	written []string
}

func (out *recordingOutbound) Send(ctx context.Context, text string) *async.Future[struct{}] {
	out.written = append(out.written, text)
	out.events.add("write:" + text)
	return async.Completed(struct{}{}, out.err)
}

type eventLog struct {
	entries []string
	mu      sync.Mutex
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) Notify(_ context.Context, ev listener.Event) {
	switch ev.Kind {
	case listener.EventRequest:
		if text, ok := ev.Request.Value(); ok {
			l.add("request:" + text)
		} else {
			l.add("request:<none>")
		}
	case listener.EventResponse:
		l.add("response:" + ev.Response.String())
	case listener.EventTransaction:
		l.add("tx:" + ev.Response.String() + ":" + map[bool]string{true: "ok", false: "fail"}[ev.Success])
	}
}

func (l *eventLog) String() string {
	return strings.Join(l.entries, ",")
}

func newSession(in Inbound, log *eventLog, outErr error) (*Session, *recordingOutbound) {
	out := &recordingOutbound{events: log, err: outErr}
	return &Session{ID: 1, Remote: "127.0.0.1:5000", In: in, Out: out, Events: log}, out
}

func TestAnswerRespondsToEachRequest(t *testing.T) {
	log := &eventLog{}
	s, out := newSession(&scriptedInbound{messages: []string{"ping", "pong"}}, log, nil)

	if err := NewAnswer("Acknowledged").Handle(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "request:ping,write:Acknowledged,response:Acknowledged,tx:Acknowledged:ok," +
		"request:pong,write:Acknowledged,response:Acknowledged,tx:Acknowledged:ok"
	if log.String() != want {
		t.Errorf("events\n got %s\nwant %s", log, want)
	}
	if len(out.written) != 2 {
		t.Errorf("expected 2 writes, got %d", len(out.written))
	}
}

func TestSinkNeverWrites(t *testing.T) {
	log := &eventLog{}
	s, out := newSession(&scriptedInbound{messages: []string{"ping"}}, log, nil)

	if err := NewSink().Handle(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if log.String() != "request:ping,tx::ok" {
		t.Errorf("unexpected events %s", log)
	}
	if len(out.written) != 0 {
		t.Errorf("sink must not write, wrote %v", out.written)
	}
}

func TestEmptyConnectionReportsNoRequest(t *testing.T) {
	for _, h := range []IOHandler{NewSink(), NewAnswer("Acknowledged")} {
		log := &eventLog{}
		s, out := newSession(&scriptedInbound{}, log, nil)

		if err := h.Handle(context.Background(), s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(log.String(), "request:<none>") {
			t.Errorf("expected no-request event, got %s", log)
		}
		if len(out.written) != 0 {
			t.Errorf("no response expected without a request, got %v", out.written)
		}
	}
}

func TestWriteFailureEndsConnection(t *testing.T) {
	log := &eventLog{}
	broken := errors.New("broken pipe")
	s, _ := newSession(&scriptedInbound{messages: []string{"ping", "again"}}, log, broken)

	err := NewAnswer("Acknowledged").Handle(context.Background(), s)
	if !errors.Is(err, broken) {
		t.Fatalf("expected write error, got %v", err)
	}
	if !strings.HasSuffix(log.String(), "tx:Acknowledged:fail") {
		t.Errorf("expected failed transaction, got %s", log)
	}
	if strings.Contains(log.String(), "again") {
		t.Error("connection should stop after a write failure")
	}
}

func TestReadErrorPropagates(t *testing.T) {
	reset := errors.New("connection reset")
	s, _ := newSession(&scriptedInbound{err: reset}, &eventLog{}, nil)

	if err := NewSink().Handle(context.Background(), s); !errors.Is(err, reset) {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestServeTurnsPanicIntoError(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, s *Session) error { panic("handler bug") })

	err := Serve(context.Background(), h, &Session{}).Wait(context.Background())
	if !errors.Is(err, async.ErrPanicRecovered) {
		t.Errorf("expected recovered panic, got %v", err)
	}
}

func TestNewValidatesKind(t *testing.T) {
	if _, err := New(KindAnswer, ""); !xerrors.IsType(err, xerrors.ErrInvalidArg) {
		t.Errorf("expected invalid arg for empty response, got %v", err)
	}
	if _, err := New("echo", "x"); err == nil {
		t.Error("expected error for unknown kind")
	}
	h, err := New(KindSink, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.(*Sink); !ok {
		t.Errorf("expected *Sink, got %T", h)
	}
}
