package process

import (
	"context"
	"errors"
	"os"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
)

func TestRun_CapturesStdout(t *testing.T) {
	r := NewExecRunner()
	res, err := r.Run(context.Background(), []string{"echo", "hello"}, nil, 0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), []string{"false"}, nil, 0)
	if !errors.Is(err, core.ErrNonZeroExit) {
		t.Fatalf("Run(false) = %v, want ErrNonZeroExit", err)
	}
}

func TestRun_SpawnFailed(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), []string{"/no/such/binary-xyz"}, nil, 0)
	if !errors.Is(err, core.ErrSpawnFailed) {
		t.Fatalf("Run(missing binary) = %v, want ErrSpawnFailed", err)
	}
}

func TestRun_EmptyArgv(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), nil, nil, 0)
	if !errors.Is(err, core.ErrArgument) {
		t.Fatalf("Run(nil) = %v, want ErrArgument", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sleep semantics differ on windows")
	}
	r := NewExecRunner()
	start := time.Now()
	_, err := r.Run(context.Background(), []string{"sleep", "10"}, nil, 100*time.Millisecond)
	if err == nil {
		t.Fatal("Run() with exceeded timeout succeeded")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestRun_Env(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh not available on windows")
	}
	r := NewExecRunner()
	res, err := r.Run(context.Background(), []string{"sh", "-c", "echo $DEVICECTL_TEST"}, []string{"DEVICECTL_TEST=42"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "42\n" {
		t.Errorf("Stdout = %q, want env passed through", res.Stdout)
	}
}

func TestSpawn_KillAndOnExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signal semantics differ on windows")
	}
	r := NewExecRunner()
	h, err := r.Spawn(context.Background(), []string{"sleep", "30"}, nil)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	if h.PID() <= 0 {
		t.Errorf("PID() = %d", h.PID())
	}

	exited := make(chan int, 1)
	h.OnExit(func(code int) { exited <- code })

	if err := h.Kill(syscall.SIGINT); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit never fired after Kill")
	}
}

func TestPIDAlive(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Error("PIDAlive(self) = false")
	}
	if PIDAlive(0) || PIDAlive(-1) {
		t.Error("PIDAlive(non-positive) = true")
	}
	// A pid far beyond the default pid_max is not alive.
	if PIDAlive(99999999) {
		t.Error("PIDAlive(99999999) = true")
	}
}

func TestFakeRunner_PrefixMatching(t *testing.T) {
	f := NewFakeRunner()
	f.Respond("adb devices", Result{Stdout: "listing"}, nil)

	res, err := f.Run(context.Background(), []string{"adb", "devices"}, nil, 0)
	if err != nil || res.Stdout != "listing" {
		t.Errorf("scripted response = %+v, %v", res, err)
	}

	res, err = f.Run(context.Background(), []string{"other", "cmd"}, nil, 0)
	if err != nil || res.Stdout != "" {
		t.Errorf("unscripted response = %+v, %v", res, err)
	}

	if f.CallCount("adb") != 1 {
		t.Errorf("CallCount(adb) = %d", f.CallCount("adb"))
	}
	if len(f.Calls()) != 2 {
		t.Errorf("Calls() = %d entries", len(f.Calls()))
	}
}
