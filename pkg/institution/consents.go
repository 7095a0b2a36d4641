package institution

import "context"

// CreateConsent issues POST /consents. The x-jws-signature header is
// required on this call (spec.md §6); headers.JWSSignature must be set
// by the caller.
func (c *Client) CreateConsent(ctx context.Context, resourceID string, headers Headers, body []byte) (*Response, error) {
	return c.Do(ctx, resourceID, "POST", "/consents", headers, body)
}

// ExtendConsent issues POST /consents/{id}/extends, which also requires
// x-jws-signature.
func (c *Client) ExtendConsent(ctx context.Context, resourceID, consentID string, headers Headers, body []byte) (*Response, error) {
	return c.Do(ctx, resourceID, "POST", "/consents/"+consentID+"/extends", headers, body)
}

// GetConsent issues GET /consents/{id}.
func (c *Client) GetConsent(ctx context.Context, resourceID, consentID string, headers Headers) (*Response, error) {
	return c.Do(ctx, resourceID, "GET", "/consents/"+consentID, headers, nil)
}

// RevokeConsent issues DELETE /consents/{id}.
func (c *Client) RevokeConsent(ctx context.Context, resourceID, consentID string, headers Headers) (*Response, error) {
	return c.Do(ctx, resourceID, "DELETE", "/consents/"+consentID, headers, nil)
}
