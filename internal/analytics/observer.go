package analytics

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Observer subscribes to the page's outgoing request stream, keeps only
// analytics endpoint traffic and decodes it into CapturedEvents. The event
// log is append only; records are never mutated after capture.
//
// The CDP listener runs on chromedp's event goroutine while the harness
// drives the page from the main flow, so the log sits behind a mutex.
type Observer struct {
	logger     *zap.Logger
	dictionary *ParamDictionary
	endpoints  []string

	mu       sync.RWMutex
	events   []CapturedEvent
	inflight map[network.RequestID]struct{}

	cancelListener context.CancelFunc
	started        bool
}

// NewObserver builds an observer over the given endpoint substrings and
// parameter dictionary. Attach must be called before events flow.
func NewObserver(endpoints []string, dict *ParamDictionary, logger *zap.Logger) *Observer {
	return &Observer{
		logger:     logger.Named("observer"),
		dictionary: dict,
		endpoints:  endpoints,
		inflight:   make(map[network.RequestID]struct{}),
	}
}

// Attach subscribes to the session's CDP event stream and enables the
// network domain. Subscribing twice is a no-op.
func (o *Observer) Attach(sessionCtx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	listenerCtx, cancel := context.WithCancel(sessionCtx)
	o.cancelListener = cancel
	o.started = true
	o.mu.Unlock()

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			o.handleRequestWillBeSent(e)
		case *network.EventLoadingFinished:
			o.markDone(e.RequestID)
		case *network.EventLoadingFailed:
			o.markDone(e.RequestID)
		}
	})

	if err := chromedp.Run(sessionCtx, network.Enable()); err != nil {
		cancel()
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return err
	}

	o.logger.Debug("Observer attached and listening for requests.")
	return nil
}

// Stop detaches the listener. Captured events remain readable.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelListener != nil {
		o.cancelListener()
		o.cancelListener = nil
	}
	o.started = false
}

func (o *Observer) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	o.mu.Lock()
	o.inflight[e.RequestID] = struct{}{}
	o.mu.Unlock()

	if e.Request == nil || !o.matches(e.Request.URL) {
		return
	}

	var body strings.Builder
	if e.Request.HasPostData {
		for _, entry := range e.Request.PostDataEntries {
			// CDP delivers post data entries base64 encoded. A decode failure
			// means the entry was already plain text; use it as is.
			decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				o.logger.Debug("Post data entry not base64; using raw bytes.",
					zap.String("request_id", string(e.RequestID)), zap.Error(err))
				body.WriteString(entry.Bytes)
				continue
			}
			body.Write(decoded)
		}
	}

	// One captured event per decoded payload, stamped with receipt time.
	now := time.Now()
	for _, params := range o.dictionary.DecodeRequest(e.Request.URL, body.String()) {
		captured := CapturedEvent{
			Time:   now,
			RawURL: e.Request.URL,
			Method: e.Request.Method,
			Params: params,
		}
		o.Append(captured)
		o.logger.Debug("Captured analytics event.",
			zap.String("event_name", captured.Param("eventName")),
			zap.String("url", captured.RawURL),
		)
	}
}

func (o *Observer) markDone(id network.RequestID) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// Append adds a whole record to the event log.
func (o *Observer) Append(ev CapturedEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

// Events returns a snapshot of the log in capture order.
func (o *Observer) Events() []CapturedEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]CapturedEvent, len(o.events))
	copy(out, o.events)
	return out
}

// Len reports the number of captured events.
func (o *Observer) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.events)
}

// Reset clears the event log between scenarios. The subscription stays up.
func (o *Observer) Reset() {
	o.mu.Lock()
	o.events = nil
	o.mu.Unlock()
}

// WaitIdle blocks until no request has been in flight for the quiet period,
// or the context expires.
func (o *Observer) WaitIdle(ctx context.Context, quietPeriod time.Duration) error {
	ticker := time.NewTicker(quietPeriod / 2)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.mu.RLock()
			inflightCount := len(o.inflight)
			o.mu.RUnlock()

			if inflightCount > 0 {
				lastActivity = time.Now()
				o.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", inflightCount))
			} else if time.Since(lastActivity) >= quietPeriod {
				return nil
			}
		}
	}
}

func (o *Observer) matches(rawURL string) bool {
	for _, sub := range o.endpoints {
		if strings.Contains(rawURL, sub) {
			return true
		}
	}
	return false
}
