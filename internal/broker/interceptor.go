package broker

import "log/slog"

// MessageContext is the mutable envelope interceptors see and can alter or
// veto in place, mirroring the original's pre-fan-out message context.
type MessageContext struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	SenderID string
	Dropped  bool
}

// Interceptor inspects or rewrites a message before it is routed to
// subscribers. Setting ctx.Dropped true stops delivery entirely.
type Interceptor func(ctx *MessageContext)

// InterceptorChain runs a registered list of interceptors in order, each
// isolated from the others' panics.
type InterceptorChain struct {
	log          *slog.Logger
	interceptors []Interceptor
}

func NewInterceptorChain(log *slog.Logger) *InterceptorChain {
	return &InterceptorChain{log: log}
}

// Use appends an interceptor to the end of the chain.
func (c *InterceptorChain) Use(i Interceptor) {
	c.interceptors = append(c.interceptors, i)
}

// Run applies every interceptor in registration order, stopping early once
// Dropped is set.
func (c *InterceptorChain) Run(ctx *MessageContext) {
	for _, i := range c.interceptors {
		c.runOne(i, ctx)
		if ctx.Dropped {
			return
		}
	}
}

func (c *InterceptorChain) runOne(i Interceptor, ctx *MessageContext) {
	defer recoverHook(c.log, "interceptor")
	i(ctx)
}
