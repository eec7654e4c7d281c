// Package script provides JavaScript automation hooks over the
// control plane. A script drives one device through the orchestrator's
// guarded operations; there is no side door around session validation.
package script

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/lifecycle"
	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// Engine evaluates automation scripts against a device.
type Engine struct {
	orch *lifecycle.Orchestrator
}

// New creates a script engine over the orchestrator.
func New(orch *lifecycle.Orchestrator) *Engine {
	return &Engine{orch: orch}
}

// Run evaluates source with a `device` object bound to dev and token.
// Operation failures throw inside the script; an uncaught throw
// surfaces as the returned error.
func (e *Engine) Run(ctx context.Context, dev *device.Device, token, source string) error {
	rt := goja.New()

	e.setupConsole(rt)
	e.setupSleep(rt, ctx)
	e.setupDevice(rt, ctx, dev, token)

	if _, err := rt.RunString(source); err != nil {
		return errors.Wrap(err, "script failed")
	}
	return nil
}

func (e *Engine) setupConsole(rt *goja.Runtime) {
	console := rt.NewObject()
	logFn := func(level func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			format := ""
			for range args {
				format += "%v "
			}
			level("script: "+format, args...)
			return goja.Undefined()
		}
	}
	console.Set("log", logFn(logger.Info))
	console.Set("error", logFn(logger.Error))
	console.Set("warn", logFn(logger.Warn))
	console.Set("debug", logFn(logger.Debug))
	rt.Set("console", console)
}

func (e *Engine) setupSleep(rt *goja.Runtime, ctx context.Context) {
	rt.Set("sleep", func(ms int) {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			panic(rt.NewGoError(ctx.Err()))
		}
	})
}

// setupDevice exposes the guarded operation surface. Every binding
// routes through the orchestrator, so session expiry and lock theft
// fail scripts the same way they fail API callers.
func (e *Engine) setupDevice(rt *goja.Runtime, ctx context.Context, dev *device.Device, token string) {
	throwOn := func(err error) {
		if err != nil {
			panic(rt.NewGoError(err))
		}
	}

	obj := rt.NewObject()
	obj.Set("id", dev.ID())
	obj.Set("name", dev.Name())
	obj.Set("boot", func() {
		throwOn(e.orch.Boot(ctx, dev, token, lifecycle.DefaultBootOptions()))
	})
	obj.Set("shutdown", func() {
		throwOn(e.orch.Shutdown(ctx, dev, token))
	})
	obj.Set("restart", func() {
		throwOn(e.orch.Restart(ctx, dev, token))
	})
	obj.Set("install", func(path string) {
		throwOn(e.orch.Install(ctx, dev, token, path))
	})
	obj.Set("uninstall", func(bundle string) {
		throwOn(e.orch.Uninstall(ctx, dev, token, bundle))
	})
	obj.Set("launch", func(bundle string) {
		throwOn(e.orch.Launch(ctx, dev, token, bundle))
	})
	obj.Set("rotateLeft", func() {
		throwOn(e.orch.RotateLeft(ctx, dev, token))
	})
	obj.Set("rotateRight", func() {
		throwOn(e.orch.RotateRight(ctx, dev, token))
	})
	obj.Set("rotateTo", func(orientation int) {
		throwOn(e.orch.RotateTo(ctx, dev, token, orientation))
	})
	obj.Set("pressHome", func() {
		throwOn(e.orch.PressHomeKey(ctx, dev, token))
	})
	obj.Set("lockScreen", func() {
		throwOn(e.orch.LockScreen(ctx, dev, token))
	})
	obj.Set("keyEvent", func(key string) {
		throwOn(e.orch.PerformKeyEvent(ctx, dev, token, key))
	})
	obj.Set("orientation", func() int {
		return int(dev.Orientation())
	})
	obj.Set("state", func() string {
		return dev.State().String()
	})
	rt.Set("device", obj)
}
