package websocket

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPeriodicSender_SendsPingOnSchedule(t *testing.T) {
	q := NewSendQueue(0)
	p := NewPeriodicSender(q, zerolog.Nop(), 20*time.Millisecond, 0, nil, nil)
	go p.run()
	defer p.stop()

	f, ok := q.Dequeue()
	if !ok {
		t.Fatal("Dequeue: queue closed unexpectedly")
	}
	if f.Opcode != OpcodePing {
		t.Errorf("Opcode = %v, want OpcodePing", f.Opcode)
	}
}

func TestPeriodicSender_SendsPongOnSchedule(t *testing.T) {
	q := NewSendQueue(0)
	p := NewPeriodicSender(q, zerolog.Nop(), 0, 20*time.Millisecond, nil, nil)
	go p.run()
	defer p.stop()

	f, ok := q.Dequeue()
	if !ok {
		t.Fatal("Dequeue: queue closed unexpectedly")
	}
	if f.Opcode != OpcodePong {
		t.Errorf("Opcode = %v, want OpcodePong", f.Opcode)
	}
}

func TestPeriodicSender_ZeroIntervalDisablesSchedule(t *testing.T) {
	q := NewSendQueue(0)
	p := NewPeriodicSender(q, zerolog.Nop(), 0, 0, nil, nil)
	go p.run()

	done := make(chan struct{})
	go func() {
		q.Dequeue()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Dequeue returned despite both intervals being disabled")
	case <-time.After(100 * time.Millisecond):
	}
	p.stop()
}

func TestPeriodicSender_CustomPayloadGenerator(t *testing.T) {
	q := NewSendQueue(0)
	payload := []byte("keepalive")
	p := NewPeriodicSender(q, zerolog.Nop(), 20*time.Millisecond, 0, func() []byte { return payload }, nil)
	go p.run()
	defer p.stop()

	f, ok := q.Dequeue()
	if !ok {
		t.Fatal("Dequeue: queue closed unexpectedly")
	}
	if string(f.Payload) != "keepalive" {
		t.Errorf("Payload = %q, want %q", f.Payload, "keepalive")
	}
}

func TestPeriodicSender_StopIsSafeToCallOnce(t *testing.T) {
	q := NewSendQueue(0)
	p := NewPeriodicSender(q, zerolog.Nop(), time.Hour, 0, nil, nil)
	go p.run()
	p.stop()
}
