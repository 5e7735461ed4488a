// Package router turns inbound messages from the popup and the content
// script into calls on the engine components.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/utils"
)

// Handler serves one message kind.
type Handler func(ctx context.Context, req Request, sender Sender) Response

type Router struct {
	handlers map[Kind]Handler
	log      logrus.FieldLogger
}

// New builds a router from handlers, which must cover exactly Kinds.
func New(handlers map[Kind]Handler, log logrus.FieldLogger) (*Router, error) {
	known := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		known[k] = true
		if handlers[k] == nil {
			return nil, fmt.Errorf("no handler for %q", k)
		}
	}
	for k := range handlers {
		if !known[k] {
			return nil, fmt.Errorf("%w %q", ErrUnknownKind, k)
		}
	}
	hs := make(map[Kind]Handler, len(handlers))
	for k, h := range handlers {
		hs[k] = h
	}
	return &Router{handlers: hs, log: utils.OrDiscard(log)}, nil
}

// Handle serves req and always returns a response.
func (r *Router) Handle(ctx context.Context, req Request, sender Sender) (resp Response) {
	if req == nil {
		return Fail(errors.New("empty message"))
	}
	req = deref(req)
	h, ok := r.handlers[req.Kind()]
	if !ok {
		return Fail(fmt.Errorf("%w %q", ErrUnknownKind, req.Kind()))
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("type", req.Kind()).Errorf("Handler panicked: %v", p)
			resp = Fail(errors.New("internal error"))
		}
	}()
	return h(ctx, req, sender)
}

// HandleJSON decodes data and serves it.
func (r *Router) HandleJSON(ctx context.Context, data []byte, sender Sender) Response {
	req, err := Decode(data)
	if err != nil {
		return Fail(err)
	}
	return r.Handle(ctx, req, sender)
}

// Dispatch serves req in the background and hands the response to reply.
// It reports whether reply will be called later; when false, reply has
// already been called.
func (r *Router) Dispatch(ctx context.Context, req Request, sender Sender, reply func(Response)) bool {
	if req == nil || r.handlers[req.Kind()] == nil {
		reply(r.Handle(ctx, req, sender))
		return false
	}
	go func() {
		reply(r.Handle(ctx, req, sender))
	}()
	return true
}
