package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
)

// InboundHandler consumes one inbound message. *flow.BookingFlow implements it.
type InboundHandler interface {
	HandleInboundMessage(ctx context.Context, contact, text string)
}

// ResponseHandler routes inbound messages from a Service to an InboundHandler.
// Messages from one contact are handled one at a time and in arrival order;
// different contacts proceed in parallel.
type ResponseHandler struct {
	msgService Service
	handler    InboundHandler
	dedup      store.DedupRepo

	mu       sync.Mutex
	contacts map[string]*contactQueue
	wg       sync.WaitGroup
}

type contactQueue struct {
	pending []models.Response
}

// ResponseHandlerOption customises a ResponseHandler.
type ResponseHandlerOption func(*ResponseHandler)

// WithProcessedMarker marks each handled message processed in repo.
func WithProcessedMarker(repo store.DedupRepo) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(msgService Service, handler InboundHandler, opts ...ResponseHandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService: msgService,
		handler:    handler,
		contacts:   make(map[string]*contactQueue),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse handles one response synchronously.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	contact, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: invalid sender", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	rh.handler.HandleInboundMessage(ctx, contact, response.Body)

	if rh.dedup != nil && response.MessageID != "" {
		if err := rh.dedup.MarkProcessed(response.MessageID); err != nil {
			slog.Debug("ResponseHandler.ProcessResponse: mark processed failed", "error", err, "messageID", response.MessageID)
		}
	}
	return nil
}

// dispatch queues response behind any in-flight message of the same contact.
func (rh *ResponseHandler) dispatch(ctx context.Context, response models.Response) {
	key, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler.dispatch: invalid sender", "error", err, "from", response.From)
		return
	}

	rh.mu.Lock()
	if q, busy := rh.contacts[key]; busy {
		q.pending = append(q.pending, response)
		rh.mu.Unlock()
		return
	}
	rh.contacts[key] = &contactQueue{}
	rh.mu.Unlock()

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		next := response
		for {
			if err := rh.ProcessResponse(ctx, next); err != nil {
				slog.Error("ResponseHandler: failed to process response", "error", err, "from", next.From)
			}
			rh.mu.Lock()
			q := rh.contacts[key]
			if len(q.pending) == 0 {
				delete(rh.contacts, key)
				rh.mu.Unlock()
				return
			}
			next = q.pending[0]
			q.pending = q.pending[1:]
			rh.mu.Unlock()
		}
	}()
}

// Start begins consuming the service's responses and receipts until ctx ends
// or the channels close.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: processing responses")

	go func() {
		for {
			select {
			case receipt, ok := <-rh.msgService.Receipts():
				if !ok {
					return
				}
				slog.Debug("ResponseHandler: receipt", "to", receipt.To, "status", receipt.Status)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer slog.Info("ResponseHandler: stopped processing responses")
		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler: responses channel closed")
					return
				}
				rh.dispatch(ctx, response)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until every dispatched message has been handled.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
