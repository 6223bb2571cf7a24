package security

import "time"

type Limits struct {
	WebhookTimeout    time.Duration
	MaxRedirects      int
	MaxPayloadBytes   int
	MaxErrorBodyBytes int
	ResolveTimeout    time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		WebhookTimeout:    10 * time.Second,
		MaxRedirects:      3,
		MaxPayloadBytes:   1 << 20,
		MaxErrorBodyBytes: 512,
		ResolveTimeout:    3 * time.Second,
	}
}
