package telephony

import (
	"context"
	"fmt"

	"telecom-platform/internal/admission"
)

// TwilioProvider admits or rejects inbound calls against the admission
// controller and, on admission, tells the caller which media-stream URL
// the PBX should open.
type TwilioProvider struct {
	admission *admission.Controller
	// StreamURLFor builds the wss:// URL for a given call_id.
	StreamURLFor func(callID string) string
}

func NewTwilioProvider(ctrl *admission.Controller, streamURLFor func(callID string) string) *TwilioProvider {
	return &TwilioProvider{admission: ctrl, StreamURLFor: streamURLFor}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *TwilioProvider) HandleInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error) {
	if req.ProviderCallID == "" {
		return InboundCallResult{}, fmt.Errorf("telephony: provider_call_id required")
	}

	if err := p.admission.Admit(ctx, req.ProviderCallID); err != nil {
		return InboundCallResult{CallID: req.ProviderCallID, Action: InboundCallActionReject}, nil
	}

	return InboundCallResult{
		CallID:    req.ProviderCallID,
		Action:    InboundCallActionStream,
		StreamURL: p.StreamURLFor(req.ProviderCallID),
	}, nil
}
