package social

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderError is the normalized shape of an upstream OAuth failure.
// Providers translate their wire formats (Google's nested API errors,
// Facebook's fbtrace envelopes) into this before it leaves the package.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	var b strings.Builder
	switch {
	case e.Provider != "" && e.Operation != "":
		b.WriteString(e.Provider)
		b.WriteString(" ")
		b.WriteString(e.Operation)
	case e.Provider != "":
		b.WriteString(e.Provider)
	case e.Operation != "":
		b.WriteString(e.Operation)
	default:
		b.WriteString("provider")
	}
	b.WriteString(" failed")

	switch {
	case e.Description != "":
		b.WriteString(": " + e.Description)
	case e.Code != "":
		b.WriteString(": " + e.Code)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}

	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata flattens the error into key-value pairs for logs and the
// go-errors metadata bag. Zero-valued fields are omitted.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	put := func(key string, value any) {
		switch v := value.(type) {
		case string:
			if v != "" {
				meta[key] = v
			}
		case int:
			if v != 0 {
				meta[key] = v
			}
		}
	}

	put("provider", e.Provider)
	put("operation", e.Operation)
	put("status", e.Status)
	put("code", e.Code)
	put("description", e.Description)
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}

	return meta
}

// wrapProviderError attaches provider context to one of the package's
// sentinel errors without mutating the sentinel itself.
func wrapProviderError(base *goerrors.Error, provider, operation string, err error) error {
	if base == nil {
		return err
	}

	meta := map[string]any{}
	if provider != "" {
		meta["provider"] = provider
	}
	if operation != "" {
		meta["operation"] = operation
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for key, value := range perr.Metadata() {
			meta[key] = value
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	wrapped := base.Clone()
	if wrapped == nil {
		wrapped = base
	}
	if err != nil {
		wrapped.Source = err
	}
	if len(meta) > 0 {
		wrapped.WithMetadata(meta)
	}

	return wrapped
}
