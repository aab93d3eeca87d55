package telephony

import (
	"context"
	"net/http"

	"callcenter-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusRouter receives normalized status callbacks. The dialer registry
// implements it, fanning each event out to the engine owning the call.
type StatusRouter interface {
	HandleStatus(ctx context.Context, ev StatusEvent)
}

// StatusCallbackHandler converts the provider status webhook to the internal
// event and hands it to the router. Always answers 200: the provider retries
// on non-2xx and the completion path is idempotent anyway.
type StatusCallbackHandler struct {
	Router StatusRouter
}

func (h StatusCallbackHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	if form.CallSid == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	ev := form.ToStatusEvent()
	log.Debug("status callback", "call_sid", ev.ProviderCallID, "status", ev.Status)

	if h.Router != nil {
		h.Router.HandleStatus(c.Request.Context(), ev)
	}
	c.Status(http.StatusOK)
}

// InboundVoiceHandler answers an incoming call by bridging it onto the media
// stream endpoint. Agent selection happens later, on the stream's start
// frame; here we only associate the call with an agent when the dialed
// number maps to one, so the bridge's correlation lookup can find it.
type InboundVoiceHandler struct {
	// StreamURL is the public wss:// media stream endpoint.
	StreamURL string

	// AgentForNumber resolves the agent owning a dialed number. Optional;
	// resolution failure never blocks the call (the bridge falls back to
	// the default agent).
	AgentForNumber func(ctx context.Context, to string) (string, error)

	// AssociateCall records a call-sid -> agent-id correlation for the
	// bridge. Optional.
	AssociateCall func(ctx context.Context, callSID, agentID string) error
}

func (h InboundVoiceHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("inbound webhook parse failed", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}

	params := map[string]string{"callType": "inbound"}

	if h.AgentForNumber != nil {
		agentID, err := h.AgentForNumber(c.Request.Context(), form.To)
		if err != nil {
			log.Warn("agent lookup by number failed", "to", form.To, "err", err)
		} else if agentID != "" {
			params["agentId"] = agentID
			if h.AssociateCall != nil && form.CallSid != "" {
				if err := h.AssociateCall(c.Request.Context(), form.CallSid, agentID); err != nil {
					log.Warn("call agent association failed", "call_sid", form.CallSid, "err", err)
				}
			}
		}
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, StreamTwiML(h.StreamURL, params))
}
