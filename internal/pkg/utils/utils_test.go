package utils

import (
	"net"
	"strconv"
	"testing"
)

func TestFindFreePortSkipsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	port, err := FindFreePort("127.0.0.1", busy, 50)
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	if port == busy {
		t.Fatalf("returned port %d is already bound", busy)
	}
	probe, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("returned port %d is not bindable: %v", port, err)
	}
	_ = probe.Close()
}

func TestFindFreePortRejectsInvalidStart(t *testing.T) {
	for _, start := range []int{0, -1, 70000} {
		if _, err := FindFreePort("127.0.0.1", start, 10); err == nil {
			t.Fatalf("start %d should fail", start)
		}
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost": true,
		"127.0.0.1": true,
		"::1":       true,
		"10.0.0.1":  false,
		"0.0.0.0":   false,
	} {
		if got := IsLoopbackHost(host); got != want {
			t.Fatalf("IsLoopbackHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestRandStr(t *testing.T) {
	if got := RandStr(24); len(got) != 24 {
		t.Fatalf("RandStr length = %d", len(got))
	}
	if RandStr(0) != "" {
		t.Fatal("RandStr(0) should be empty")
	}
	if a, b := RandStr(32), RandStr(32); a == b {
		t.Fatalf("two keys should differ: %s", a)
	}
}
