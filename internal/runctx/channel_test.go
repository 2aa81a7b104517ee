package runctx

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestDrain(t *testing.T) {
	in := make(chan int, 3)
	in <- 1
	in <- 2
	close(in)
	var got []int
	err := Drain(context.Background(), in, func(v int) error {
		got = append(got, v)
		return nil
	})
	if err != nil || !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("Drain() = %v, %v, want nil, [1 2]", err, got)
	}
}

func TestDrain_Stops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Drain(ctx, make(chan int), func(int) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain() after cancel = %v, want context.Canceled", err)
	}

	boom := errors.New("boom")
	in := make(chan int, 2)
	in <- 1
	in <- 2
	calls := 0
	err := Drain(context.Background(), in, func(int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("Drain() = %v after %d calls, want boom after 1", err, calls)
	}
}

func TestSend(t *testing.T) {
	out := make(chan string, 1)
	if !Send(context.Background(), out, "welcome") || <-out != "welcome" {
		t.Fatal("Send() did not deliver")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Send(ctx, make(chan string), "keepalive") {
		t.Fatal("Send() after cancel = true, want false")
	}
}
