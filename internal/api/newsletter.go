package api

import (
	"net/http"

	"github.com/vyrodovalexey/formgate/internal/gateway"
	"github.com/vyrodovalexey/formgate/internal/observability"
	"github.com/vyrodovalexey/formgate/internal/ratelimit"
	"github.com/vyrodovalexey/formgate/internal/upstream"
)

const (
	msgWelcome           = "Welcome aboard! Check your inbox for the next issue."
	msgAlreadySubscribed = "You're already subscribed. Thanks for sticking around!"
)

type newsletterForm struct {
	Email string `form:"email" validate:"required,email,max=254"`
}

var newsletterLabels = map[string]string{"email": "Email"}

// Newsletter handles POST /api/newsletter.
func (h *Handlers) Newsletter(req *gateway.Request) gateway.Response {
	var form newsletterForm
	if err := decode(req, &form); err != nil {
		req.Log().Debug("newsletter decode failed", observability.Error(err))
		return reject(req, RouteNewsletter, http.StatusBadRequest, gateway.CodeInvalidRequest, msgInvalidBody)
	}
	trimStrings(&form)

	if err := validate.Struct(&form); err != nil {
		submissionsTotal.WithLabelValues(RouteNewsletter, outcomeValidation).Inc()
		return req.Error(http.StatusBadRequest, gateway.CodeInvalidRequest, validationMessage(err, newsletterLabels))
	}
	email := ratelimit.NormalizeEmail(form.Email)

	if resp := h.checkLimits(req, RouteNewsletter,
		h.cfg.NewsletterIP.rule(RouteNewsletter, ratelimit.DimensionIP, req.Context.IP),
		h.cfg.NewsletterEmail.rule(RouteNewsletter, ratelimit.DimensionEmail, email),
	); resp != nil {
		return *resp
	}

	found, err := h.list.Lookup(req.Ctx(), email)
	if err != nil {
		return h.upstreamFailure(req, RouteNewsletter, err)
	}
	if found {
		req.Log().Info("newsletter address already subscribed")
		return success(req, RouteNewsletter, msgAlreadySubscribed)
	}

	status, err := h.list.Subscribe(req.Ctx(), email)
	if err != nil {
		return h.upstreamFailure(req, RouteNewsletter, err)
	}
	if status == upstream.AlreadySubscribed {
		return success(req, RouteNewsletter, msgAlreadySubscribed)
	}

	req.Log().Info("newsletter subscriber created")
	return success(req, RouteNewsletter, msgWelcome)
}
