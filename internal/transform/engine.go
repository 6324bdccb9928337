package transform

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/config"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

const (
	requestScript  = "request.js"
	responseScript = "response.js"
)

// Engine rewrites log payloads with per-route scripts before upload.
// Compiled programs are shared; every run gets its own runtime.
type Engine struct {
	config  config.TransformConfig
	scripts map[string]*goja.Program
}

// NewEngine creates a new transformation engine
func NewEngine(cfg config.TransformConfig) (*Engine, error) {
	engine := &Engine{
		config:  cfg,
		scripts: make(map[string]*goja.Program),
	}

	if err := engine.loadScripts(); err != nil {
		return nil, err
	}

	return engine, nil
}

// loadScripts compiles every script present for the configured services.
// A service may define only one of the two scripts.
func (e *Engine) loadScripts() error {
	for _, service := range e.config.Services {
		for _, name := range []string{requestScript, responseScript} {
			path := filepath.Join(e.config.ScriptsDir, service.ServiceName, name)
			program, err := compileScript(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to compile %s for service %s: %w", name, service.ServiceName, err)
			}
			e.scripts[path] = program
		}
	}
	return nil
}

func compileScript(path string) (*goja.Program, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return goja.Compile(path, string(content), true)
}

// Apply runs the scripts bound to the payload's URL path. The payload is
// returned unchanged when no service matches.
func (e *Engine) Apply(p model.LogPayload) (model.LogPayload, error) {
	switch rec := p.(type) {
	case model.RequestLogRecord:
		service := e.findMatchingService(rec.URL)
		if service == nil {
			return p, nil
		}
		obj, err := e.run(service, recordObject(rec.URL, rec.Method, rec.Payload, rec.ResponseMessage))
		if err != nil {
			return p, err
		}
		rec.Payload = obj["payload"]
		if msg, ok := obj["response"].(string); ok {
			rec.ResponseMessage = msg
		}
		return rec, nil

	case model.FailedRequestRecord:
		service := e.findMatchingService(rec.RequestURL)
		if service == nil {
			return p, nil
		}
		obj, err := e.run(service, recordObject(rec.RequestURL, rec.RequestMethod, rec.Payload, rec.Meta.Meta))
		if err != nil {
			return p, err
		}
		rec.Payload = obj["payload"]
		rec.Meta.Meta = obj["response"]
		return rec, nil
	}
	return p, nil
}

func recordObject(url, method string, payload, response any) map[string]interface{} {
	return map[string]interface{}{
		"url":      url,
		"method":   method,
		"payload":  payload,
		"response": response,
	}
}

func (e *Engine) run(service *config.ServiceTransform, obj map[string]interface{}) (map[string]interface{}, error) {
	for _, name := range []string{requestScript, responseScript} {
		program := e.scripts[filepath.Join(e.config.ScriptsDir, service.ServiceName, name)]
		if program == nil {
			continue
		}

		vm := goja.New()
		if err := vm.Set("record", obj); err != nil {
			return nil, err
		}
		if err := vm.Set("log", func(msg string) {
			log.Debug().Str("service", service.ServiceName).Str("script", name).Msg(msg)
		}); err != nil {
			return nil, err
		}

		if _, err := vm.RunProgram(program); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", service.ServiceName, name, err)
		}

		exported, ok := vm.Get("record").Export().(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s/%s: record is no longer an object", service.ServiceName, name)
		}
		obj = exported
	}
	return obj, nil
}

// findMatchingService matches the path of rawURL exactly
func (e *Engine) findMatchingService(rawURL string) *config.ServiceTransform {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	for _, service := range e.config.Services {
		if service.URL == path {
			s := service
			return &s
		}
	}
	return nil
}
