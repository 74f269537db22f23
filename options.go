package rowguard

import (
	"log/slog"

	"github.com/xraph/rowguard/plugin"
	"github.com/xraph/rowguard/schema"
)

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithBindings sets the ownership bindings the engine evaluates against.
func WithBindings(set *schema.Set) Option { return func(e *Engine) { e.bindings = set } }

// WithRowReader sets the committed-state reader used to resolve indirect
// ownership. Required when any binding is indirect.
func WithRowReader(r RowReader) Option { return func(e *Engine) { e.rows = r } }

// WithEvaluator sets the decision evaluator.
func WithEvaluator(ev Evaluator) Option { return func(e *Engine) { e.evaluator = ev } }

// WithCache sets the check result cache.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithConfig sets the engine configuration.
func WithConfig(c Config) Option { return func(e *Engine) { e.config = c } }

// WithPlugin registers a plugin with the engine.
func WithPlugin(x plugin.Plugin) Option {
	return func(e *Engine) {
		if e.plugins == nil {
			e.plugins = plugin.NewRegistry(e.logger)
		}
		e.plugins.Register(x)
	}
}
