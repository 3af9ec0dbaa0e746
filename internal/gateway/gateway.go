// Package gateway abstracts the third-party payment processors behind a
// single capability interface. Variants are constructed once at startup and
// injected; business logic never branches on which provider is configured.
package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/settleworks/paygate/internal/domain"
)

// ChargeResult is the provider-side handle for a newly created charge.
// Card rails return a client secret for on-page confirmation; hosted
// invoice providers return a redirect URL.
type ChargeResult struct {
	ExternalReference string
	ClientSecret      string
	RedirectURL       string
}

// VerifiedEvent is a webhook notification whose signature has been checked.
// ProviderStatus still speaks the provider's vocabulary; the reconciler
// maps it onto the internal state machine.
type VerifiedEvent struct {
	Provider          string
	EventID           string
	ExternalReference string
	ProviderStatus    string
	RawPayload        json.RawMessage
}

type Gateway interface {
	Name() string
	CreateCharge(ctx context.Context, p *domain.Payment, callbackURL string) (*ChargeResult, error)
	VerifyWebhook(body []byte, signature string) (*VerifiedEvent, error)
	// MapStatus translates the provider's status vocabulary to an internal
	// target status. ok=false means the status is not state-affecting.
	MapStatus(providerStatus string) (domain.PaymentStatus, bool)
}

// Registry holds the configured gateway variants keyed by name. Charges go
// to the variant selected by configuration; webhooks are verified by
// whichever variant the delivery path names.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("Registry.Get: %q: %w", name, domain.ErrUnknownProvider)
	}
	return g, nil
}

// verifySignature checks a hex HMAC over the raw body in constant time.
// Fails closed on an empty signature.
func verifySignature(newHash func() hash.Hash, body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	expected := fmt.Sprintf("%x", mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
