package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warp2api-go/internal/apierrors"
	"warp2api-go/internal/config"
	"warp2api-go/internal/monitoring"
	"warp2api-go/internal/monitoring/tracing"
	"warp2api-go/internal/tokenpool"
)

// TokenSource turns a pooled credential into a usable access token.
type TokenSource interface {
	EnsureAccessToken(ctx context.Context, cred *tokenpool.Credential) (string, error)
}

// AnonymousProvisioner mints a fresh anonymous credential into the pool.
type AnonymousProvisioner interface {
	Provision(ctx context.Context, pool *tokenpool.Pool) (*tokenpool.Credential, error)
}

// Sender issues one AI call with an access token.
//
// Implementations return the response with an open body; the orchestrator
// takes ownership of closing it on non-success paths.
type Sender interface {
	Send(ctx context.Context, payload []byte, accessToken string) (*http.Response, error)
}

// Result is a successful AI call. Resp.Body is open; the caller must close
// it (closing also releases the attempt's deadline).
type Result struct {
	Resp         *http.Response
	CredentialID string
	Tier         string
	Attempts     int
}

// Orchestrator drives one caller request through credential selection, token
// obtainment and the upstream send, rotating credentials on quota and
// transient failures up to the attempt budget. Many orchestrator calls run
// concurrently over one shared pool; per-call state lives on the stack.
type Orchestrator struct {
	pool        *tokenpool.Pool
	tokens      TokenSource
	provisioner AnonymousProvisioner
	sender      Sender
	maxAttempts int
	timeout     time.Duration
}

func NewOrchestrator(cfg *config.Config, pool *tokenpool.Pool, tokens TokenSource, provisioner AnonymousProvisioner, sender Sender) *Orchestrator {
	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Orchestrator{
		pool:        pool,
		tokens:      tokens,
		provisioner: provisioner,
		sender:      sender,
		maxAttempts: maxAttempts,
		timeout:     cfg.RequestTimeout(),
	}
}

// attemptState is the explicit per-call context: which credentials were
// already tried, how many sends happened, and the last observed failure.
// The active credential is always tracked here, never recovered from
// timestamps.
type attemptState struct {
	attempts    int
	excluded    map[string]struct{}
	provisioned bool
	lastTier    string
	lastStatus  int
	lastBody    []byte
	lastKind    apierrors.Kind
}

// Execute runs the select/obtain/send machine for one payload. On success
// the returned Result carries the live response. On failure the error is a
// *apierrors.Terminal (or the caller's own context error).
func (o *Orchestrator) Execute(ctx context.Context, payload []byte) (*Result, error) {
	callID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "upstream", "Orchestrator.Execute",
		trace.WithAttributes(
			attribute.String("call.id", callID),
			attribute.Int("payload.bytes", len(payload)),
		))
	defer span.End()

	st := &attemptState{excluded: make(map[string]struct{})}
	for {
		cred, err := o.selectCredential(ctx, st)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.AddEvent("select", trace.WithAttributes(
			attribute.String("credential", cred.Name),
			attribute.String("tier", cred.Tier.String()),
		))

		token, err := o.tokens.EnsureAccessToken(ctx, cred)
		if err != nil {
			if errors.Is(err, apierrors.ErrAuthExchangeFailed) {
				// Recovered locally: exclude and re-select.
				st.excluded[cred.ID] = struct{}{}
				span.AddEvent("auth_exchange_failed", trace.WithAttributes(
					attribute.String("credential", cred.Name),
				))
				log.WithFields(log.Fields{
					"call_id":    callID,
					"credential": cred.Name,
				}).Warn("token exchange failed, rotating credential")
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		st.attempts++
		started := time.Now()
		resp, body, kind, sendErr := o.send(ctx, payload, token)
		monitoring.RecordAttempt(cred.Tier.String(), string(kind), time.Since(started).Seconds())
		span.AddEvent("send", trace.WithAttributes(
			attribute.String("credential", cred.Name),
			attribute.Int("attempt", st.attempts),
			attribute.Int("http.status_code", statusOf(resp)),
			attribute.String("outcome.kind", string(kind)),
		))

		if kind == apierrors.KindNone {
			if sendErr != nil {
				// Caller cancellation; nothing to retry.
				span.SetStatus(codes.Error, sendErr.Error())
				return nil, sendErr
			}
			span.SetAttributes(attribute.Int("attempts.total", st.attempts))
			span.SetStatus(codes.Ok, "")
			return &Result{
				Resp:         resp,
				CredentialID: cred.ID,
				Tier:         cred.Tier.String(),
				Attempts:     st.attempts,
			}, nil
		}

		st.lastTier = cred.Tier.String()
		st.lastKind = kind
		st.lastStatus = statusOf(resp)
		st.lastBody = body

		switch kind {
		case apierrors.KindQuotaExhausted, apierrors.KindTransientUpstream:
			if st.attempts < o.maxAttempts {
				st.excluded[cred.ID] = struct{}{}
				log.WithFields(log.Fields{
					"call_id":    callID,
					"credential": cred.Name,
					"kind":       string(kind),
					"attempt":    st.attempts,
				}).Info("retrying with next credential")
				continue
			}
			err := o.terminal(st)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		default:
			// Malformed request: surfaced immediately, credential unharmed.
			err := o.terminal(st)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
}

// selectCredential implements the SELECT state: next pooled credential
// honoring exclusions, falling back to at most one provisioning attempt
// per call.
func (o *Orchestrator) selectCredential(ctx context.Context, st *attemptState) (*tokenpool.Credential, error) {
	if cred := o.pool.SelectNext(st.excluded); cred != nil {
		return cred, nil
	}
	if st.provisioned || o.provisioner == nil {
		return nil, o.terminalKind(st, apierrors.KindPoolExhausted,
			fmt.Errorf("%w: no active credential", apierrors.ErrPoolExhausted))
	}
	st.provisioned = true
	cred, err := o.provisioner.Provision(ctx, o.pool)
	if err != nil {
		kind := apierrors.KindPoolExhausted
		if errors.Is(err, apierrors.ErrProvisioningRateLimited) {
			kind = apierrors.KindProvisioningRateLimited
		}
		return nil, o.terminalKind(st, kind, err)
	}
	return cred, nil
}

// send issues one attempt under the request timeout and classifies the
// outcome. On success the response body stays open and its Close releases
// the deadline; on any failure the body is drained here.
func (o *Orchestrator) send(ctx context.Context, payload []byte, token string) (*http.Response, []byte, apierrors.Kind, error) {
	sendCtx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.sender.Send(sendCtx, payload, token)
	if err != nil {
		cancel()
		return nil, nil, apierrors.ClassifyNetworkError(err), err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil, apierrors.KindNone, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	cancel()
	kind := apierrors.ClassifyUpstream(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	return resp, body, kind, nil
}

func (o *Orchestrator) terminal(st *attemptState) error {
	return o.terminalKind(st, st.lastKind, st.lastKind.Sentinel())
}

func (o *Orchestrator) terminalKind(st *attemptState, kind apierrors.Kind, cause error) error {
	monitoring.RequestsTerminal.WithLabelValues(string(kind)).Inc()
	return &apierrors.Terminal{
		Kind:     kind,
		Attempts: st.attempts,
		LastTier: st.lastTier,
		Status:   st.lastStatus,
		Body:     string(st.lastBody),
		Err:      cause,
	}
}

func statusOf(resp *http.Response) int {
	if resp != nil {
		return resp.StatusCode
	}
	return 0
}

// cancelOnClose ties the attempt's context cancel to the response body so
// streaming consumers can read past the orchestrator's return.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
