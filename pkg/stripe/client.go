package stripe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// Mode selects which family of Stripe secret keys is acceptable.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

const defaultTimeout = 10 * time.Second

// keyPrefixes lists the standard and restricted secret-key prefixes per mode.
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

func parseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if m == "" {
		return ModeTest, nil
	}
	if _, ok := keyPrefixes[m]; !ok {
		return "", fmt.Errorf("stripe environment %q is not one of %q or %q", raw, ModeTest, ModeLive)
	}
	return m, nil
}

func (m Mode) accepts(key string) bool {
	return slices.ContainsFunc(keyPrefixes[m], func(prefix string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

type paymentIntentAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
	Cancel(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// Client is the order engine's payment gateway backed by Stripe. It also
// verifies inbound webhook signatures.
type Client struct {
	intents       paymentIntentAPI
	refunds       refundAPI
	mode          Mode
	signingSecret string
	timeout       time.Duration
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	signingSecret := strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, errors.New("stripe api key is required")
	case signingSecret == "":
		return nil, errors.New("stripe webhook secret is required")
	case !mode.accepts(apiKey):
		return nil, fmt.Errorf("stripe %s mode requires one of %v keys", mode, keyPrefixes[mode])
	}

	sc := stripe.NewClient(apiKey)
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client ready")
	}
	return &Client{
		intents:       sc.V1PaymentIntents,
		refunds:       sc.V1Refunds,
		mode:          mode,
		signingSecret: signingSecret,
		timeout:       cfg.Timeout,
	}, nil
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// callContext bounds a single Stripe API round trip.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
