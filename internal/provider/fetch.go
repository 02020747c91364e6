// Package provider contains the shared plumbing for calling third-party data
// providers: a typed failure taxonomy and a generic JSON GET helper.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

// Sentinel errors matched by FetchError via errors.Is.
var (
	ErrNetwork = errors.New("provider network failure")
	ErrDecode  = errors.New("provider decode failure")
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindNetwork covers transport failures: DNS, connect, timeout, open circuit.
	KindNetwork Kind = "NETWORK"

	// KindDecode covers non-2xx responses and payloads that do not match the schema.
	KindDecode Kind = "DECODE"
)

// FetchError is the single failure type returned by provider clients.
type FetchError struct {
	Kind     Kind
	Provider string
	Message  string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.kindText(), e.Message)
}

func (e *FetchError) kindText() string {
	if e.Kind == KindDecode {
		return "decode"
	}
	return "network"
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrNetwork and ErrDecode by kind.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// NetworkError builds a KindNetwork failure. Timeouts get the message "timeout".
func NetworkError(providerName string, err error) *FetchError {
	msg := "request failed"
	switch {
	case isTimeout(err):
		msg = "timeout"
	case errors.Is(err, resilience.ErrCircuitOpen):
		msg = "circuit open"
	case err != nil:
		msg = err.Error()
	}
	return &FetchError{Kind: KindNetwork, Provider: providerName, Message: msg, Err: err}
}

// DecodeError builds a KindDecode failure.
func DecodeError(providerName, message string, err error) *FetchError {
	return &FetchError{Kind: KindDecode, Provider: providerName, Message: message, Err: err}
}

// AsFetchError extracts a FetchError from err, if any.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Doer executes HTTP requests. *resilience.Client and *http.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer is notified after every fetch with its outcome.
type Observer interface {
	ObserveFetch(ctx context.Context, providerName string, elapsed time.Duration, err error)
}

// Observers fans a fetch outcome out to several observers.
type Observers []Observer

// ObserveFetch implements Observer.
func (o Observers) ObserveFetch(ctx context.Context, providerName string, elapsed time.Duration, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveFetch(ctx, providerName, elapsed, err)
		}
	}
}

// Fetcher binds a provider name to the transport and observers used for it.
type Fetcher struct {
	// Provider names the upstream in errors, logs and metrics.
	Provider string

	// Client performs the request.
	Client Doer

	// Header is added to every request (optional).
	Header http.Header

	// Observer receives the outcome of each request (optional).
	Observer Observer
}

// GetJSON issues a GET to url and decodes the JSON body into T.
// Every failure is returned as a *FetchError.
func GetJSON[T any](ctx context.Context, f *Fetcher, url string) (*T, error) {
	start := time.Now()
	out, err := getJSON[T](ctx, f, url)
	if f.Observer != nil {
		f.Observer.ObserveFetch(ctx, f.Provider, time.Since(start), err)
	}
	return out, err
}

func getJSON[T any](ctx context.Context, f *Fetcher, url string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, DecodeError(f.Provider, "creating request", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range f.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, NetworkError(f.Provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, DecodeError(f.Provider, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if isTimeout(err) {
			return nil, NetworkError(f.Provider, err)
		}
		return nil, DecodeError(f.Provider, "decoding response: "+err.Error(), err)
	}

	return &out, nil
}
