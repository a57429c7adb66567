package social

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	authclient "github.com/goliatone/go-auth-client"
	goerrors "github.com/goliatone/go-errors"
)

// ProviderError describes a failed call to a provider endpoint.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := strings.TrimSpace(e.Provider + " " + e.Operation)
	if scope == "" {
		scope = "provider"
	}

	switch {
	case e.Description != "":
		return scope + " failed: " + e.Description
	case e.Code != "":
		return scope + " failed: " + e.Code
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return scope + " failed"
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LogArgs returns the non-empty details as Logger key/value pairs.
func (e *ProviderError) LogArgs() []any {
	if e == nil {
		return nil
	}

	var args []any
	add := func(k string, v any, ok bool) {
		if ok {
			args = append(args, k, v)
		}
	}
	add("provider", e.Provider, e.Provider != "")
	add("operation", e.Operation, e.Operation != "")
	add("status", e.Status, e.Status != 0)
	add("code", e.Code, e.Code != "")
	add("description", e.Description, e.Description != "")
	return args
}

// Transient reports whether the provider failed in a way a retry could fix:
// no response at all, or a 5xx.
func (e *ProviderError) Transient() bool {
	if e == nil {
		return false
	}
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

// ClassifyProviderError maps a provider failure onto the error taxonomy.
// Transport and 5xx failures become network errors; anything else wraps
// rejected. The ProviderError stays reachable through errors.As.
func ClassifyProviderError(err error, rejected *goerrors.Error) error {
	if err == nil {
		return nil
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr == nil {
		return authclient.NetworkError(err, "provider")
	}
	if perr.Transient() {
		return authclient.NetworkError(err, perr.Operation)
	}
	if rejected == nil {
		return err
	}
	return fmt.Errorf("%w: %w", rejected, err)
}
