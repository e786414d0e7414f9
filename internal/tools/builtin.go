package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/latchkey-labs/embermcp/internal/task"
)

// RegisterBuiltins adds the example tools named in spec.md §4.5: echo,
// system_info, gpio_control, wifi_scan, i2c_scan, long_running_task. Their
// hardware backends (GPIO, I2C, Wi-Fi) are out of scope for the core and
// are stubbed here the way the teacher's container/docker wrapper stubs a
// real daemon behind a narrow interface.
func RegisterBuiltins(r *Registry) error {
	registrations := []func(*Registry) error{
		registerEcho,
		registerSystemInfo,
		registerGPIOControl,
		registerWifiScan,
		registerI2CScan,
		registerLongRunningTask,
	}
	for _, register := range registrations {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}

type echoParams struct {
	Message string `json:"message"`
}

func registerEcho(r *Registry) error {
	schema := objectSchema(map[string]*jsonschema.Schema{
		"message": stringProp("text to echo back"),
	}, "message")

	return r.RegisterSync("echo", "Echoes the given message back as text content.", schema,
		func(ctx context.Context, args json.RawMessage) (task.Result, error) {
			var p echoParams
			if err := json.Unmarshal(args, &p); err != nil {
				return task.Result{}, err
			}
			return task.TextResult(p.Message), nil
		})
}

func registerSystemInfo(r *Registry) error {
	schema := objectSchema(nil)

	return r.RegisterSync("system_info", "Reports runtime information about the server process.", schema,
		func(ctx context.Context, args json.RawMessage) (task.Result, error) {
			info := map[string]any{
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
				"goroutines": runtime.NumGoroutine(),
				"numCPU":     runtime.NumCPU(),
			}
			data, err := json.Marshal(info)
			if err != nil {
				return task.Result{}, err
			}
			return task.TextResult(string(data)), nil
		})
}

type gpioParams struct {
	Pin   int    `json:"pin"`
	Value string `json:"value"`
}

func registerGPIOControl(r *Registry) error {
	schema := objectSchema(map[string]*jsonschema.Schema{
		"pin":   integerProp("GPIO pin number"),
		"value": stringProp("\"high\" or \"low\""),
	}, "pin", "value")

	return r.RegisterSync("gpio_control", "Sets a GPIO pin high or low.", schema,
		func(ctx context.Context, args json.RawMessage) (task.Result, error) {
			var p gpioParams
			if err := json.Unmarshal(args, &p); err != nil {
				return task.Result{}, err
			}
			if p.Value != "high" && p.Value != "low" {
				return task.ErrorResult(fmt.Sprintf("invalid value %q: must be \"high\" or \"low\"", p.Value)), nil
			}
			// The GPIO driver is a hardware collaborator out of the core's
			// scope; this reports the requested transition it would perform.
			return task.TextResult(fmt.Sprintf("pin %d set %s", p.Pin, p.Value)), nil
		})
}

func registerI2CScan(r *Registry) error {
	schema := objectSchema(map[string]*jsonschema.Schema{
		"bus": integerProp("I2C bus number"),
	})

	return r.RegisterSync("i2c_scan", "Scans an I2C bus for responding device addresses.", schema,
		func(ctx context.Context, args json.RawMessage) (task.Result, error) {
			// No bus driver is wired in the core; an empty scan is the
			// correct answer for a host with no I2C hardware attached.
			return task.TextResult("[]"), nil
		})
}

type wifiScanParams struct {
	DurationMs int `json:"durationMs,omitempty"`
}

func registerWifiScan(r *Registry) error {
	schema := objectSchema(map[string]*jsonschema.Schema{
		"durationMs": integerProp("how long to scan for, in milliseconds"),
	})

	return r.RegisterAsync("wifi_scan", "Scans for nearby Wi-Fi networks, reporting progress as channels are swept.", schema, 15*time.Second,
		func(ctx context.Context, t *task.Task, args []byte) (task.Result, error) {
			var p wifiScanParams
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return task.Result{}, err
				}
			}
			const channels = 11
			for ch := 1; ch <= channels; ch++ {
				select {
				case <-ctx.Done():
					return task.Result{}, ctx.Err()
				case <-time.After(25 * time.Millisecond):
				}
				t.Progress(int64(ch), channels, fmt.Sprintf("swept channel %d", ch))
			}
			return task.TextResult(`[]`), nil
		})
}

type longRunningParams struct {
	Steps int `json:"steps,omitempty"`
}

func registerLongRunningTask(r *Registry) error {
	schema := objectSchema(map[string]*jsonschema.Schema{
		"steps": integerProp("number of steps to simulate"),
	})

	return r.RegisterAsync("long_running_task", "Runs a simulated multi-step task, demonstrating progress and cooperative cancellation.", schema, 0,
		func(ctx context.Context, t *task.Task, args []byte) (task.Result, error) {
			p := longRunningParams{Steps: 10}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return task.Result{}, err
				}
			}
			if p.Steps <= 0 {
				p.Steps = 10
			}
			for i := 1; i <= p.Steps; i++ {
				select {
				case <-ctx.Done():
					return task.Result{}, ctx.Err()
				case <-time.After(200 * time.Millisecond):
				}
				t.Progress(int64(i), int64(p.Steps), fmt.Sprintf("step %d/%d", i, p.Steps))
			}
			return task.TextResult("completed"), nil
		})
}
