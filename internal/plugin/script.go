package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"

	"github.com/step-security-bot/neucore/pkg/logger"
)

const (
	// ScriptFileName is the entry-point file of a script implementation
	// inside its plugin directory.
	ScriptFileName = "main.js"

	// MaxScriptSize bounds the source size of a script implementation.
	MaxScriptSize = 1 << 20

	// DefaultScriptTimeout applies when the calling context carries no
	// deadline. A hanging script must not stall the host request forever.
	DefaultScriptTimeout = 30 * time.Second

	fnGetAccounts           = "getAccounts"
	fnOnConfigurationChange = "onConfigurationChange"
)

// ScriptPlugin runs a JavaScript service implementation with goja. The script
// must define a getAccounts(characters) function; onConfigurationChange() is
// optional. A fresh runtime is created per invocation because goja runtimes
// are not safe for concurrent use.
type ScriptPlugin struct {
	log     *logger.Logger
	cfg     Configuration
	program *goja.Program
	source  string
}

var _ Plugin = (*ScriptPlugin)(nil)

// NewScriptPlugin loads, compiles and probes a script implementation. The
// probe is a runtime contract test: the compiled script must define a
// getAccounts function, otherwise the implementation does not satisfy the
// capability contract and resolution fails.
func NewScriptPlugin(log *logger.Logger, cfg Configuration, path string) (*ScriptPlugin, error) {
	if log == nil {
		log = logger.NewDefault("script-plugin")
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if len(source) > MaxScriptSize {
		return nil, fmt.Errorf("script %s exceeds maximum size of %d bytes", path, MaxScriptSize)
	}

	program, err := goja.Compile(path, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}

	p := &ScriptPlugin{log: log, cfg: cfg, program: program, source: path}

	vm, err := p.newRuntime()
	if err != nil {
		return nil, err
	}
	if _, ok := goja.AssertFunction(vm.Get(fnGetAccounts)); !ok {
		return nil, fmt.Errorf("script %s does not define a %s function", path, fnGetAccounts)
	}

	return p, nil
}

// newRuntime creates a runtime with the configuration snapshot injected and
// the script body evaluated.
func (p *ScriptPlugin) newRuntime() (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	configData := map[string]interface{}{}
	if p.cfg.ConfigurationData != "" {
		// Best effort: non-JSON payloads stay available as a raw string.
		_ = json.Unmarshal([]byte(p.cfg.ConfigurationData), &configData)
	}
	if err := vm.Set("config", map[string]interface{}{
		"serviceId":      p.cfg.ServiceID,
		"requiredGroups": p.cfg.RequiredGroups,
		"data":           configData,
		"rawData":        p.cfg.ConfigurationData,
	}); err != nil {
		return nil, fmt.Errorf("set config: %w", err)
	}

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		p.log.WithField("script", p.source).Info(args...)
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	if _, err := vm.RunProgram(p.program); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}
	return vm, nil
}

// GetAccounts implements the Plugin contract by calling the script's
// getAccounts function. Execution is interrupted when the context deadline
// passes.
func (p *ScriptPlugin) GetAccounts(ctx context.Context, characters []Character) ([]Account, error) {
	vm, err := p.newRuntime()
	if err != nil {
		return nil, err
	}

	stop := p.interruptAfterDeadline(ctx, vm)
	defer stop()

	fn, ok := goja.AssertFunction(vm.Get(fnGetAccounts))
	if !ok {
		return nil, fmt.Errorf("script %s does not define a %s function", p.source, fnGetAccounts)
	}

	arg := make([]interface{}, 0, len(characters))
	for _, c := range characters {
		arg = append(arg, c)
	}
	result, err := fn(goja.Undefined(), vm.ToValue(arg))
	if err != nil {
		return nil, scriptError(err)
	}

	return exportAccounts(result), nil
}

// OnConfigurationChange calls the script's onConfigurationChange function if
// it defines one.
func (p *ScriptPlugin) OnConfigurationChange(ctx context.Context) error {
	vm, err := p.newRuntime()
	if err != nil {
		return err
	}

	fn, ok := goja.AssertFunction(vm.Get(fnOnConfigurationChange))
	if !ok {
		return nil
	}

	stop := p.interruptAfterDeadline(ctx, vm)
	defer stop()

	if _, err := fn(goja.Undefined()); err != nil {
		return scriptError(err)
	}
	return nil
}

// interruptAfterDeadline arms a goroutine that interrupts the runtime when the
// context expires. The returned stop function must be called once the script
// call returns.
func (p *ScriptPlugin) interruptAfterDeadline(ctx context.Context, vm *goja.Runtime) func() {
	timeout := DefaultScriptTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			vm.Interrupt("execution timeout")
		case <-ctx.Done():
			vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	return func() { close(done) }
}

// exportAccounts converts the script return value into account records.
// Entries that are not object-shaped or lack a character id export as
// zero-value records; the loader drops and logs those as malformed.
func exportAccounts(value goja.Value) []Account {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}

	raw, ok := value.Export().([]interface{})
	if !ok {
		return []Account{{}}
	}

	accounts := make([]Account, 0, len(raw))
	for _, entry := range raw {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			accounts = append(accounts, Account{})
			continue
		}
		accounts = append(accounts, Account{
			CharacterID: exportInt(obj["characterId"]),
			Username:    exportString(obj["username"]),
			Password:    exportString(obj["password"]),
			Email:       exportString(obj["email"]),
			Status:      exportString(obj["status"]),
			Name:        exportString(obj["name"]),
		})
	}
	return accounts
}

// scriptError maps a thrown script value to the host error taxonomy. Scripts
// raise domain errors by throwing an object with a pluginError property;
// everything else is a runtime failure.
func scriptError(err error) error {
	var exception *goja.Exception
	if ok := asGojaException(err, &exception); ok {
		if obj, isMap := exception.Value().Export().(map[string]interface{}); isMap {
			if msg, isString := obj["pluginError"].(string); isString {
				return NewError("%s", msg)
			}
		}
	}
	return err
}

func asGojaException(err error, target **goja.Exception) bool {
	for err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			*target = ex
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func exportInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func exportString(v interface{}) string {
	s, _ := v.(string)
	return s
}
