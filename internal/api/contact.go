package api

import (
	"net/http"

	"github.com/vyrodovalexey/formgate/internal/gateway"
	"github.com/vyrodovalexey/formgate/internal/observability"
	"github.com/vyrodovalexey/formgate/internal/ratelimit"
)

// Contact form types.
const (
	FormTypeContact  = "contact"
	FormTypeSpeaking = "speaking"
)

const (
	msgContactSent    = "Message sent! Thanks for reaching out, I'll get back to you soon."
	subjectContact    = "New contact form submission"
	subjectSpeaking   = "New speaking inquiry"
	outcomeHoneypot   = "honeypot"
	outcomeValidation = "validation"
)

type contactForm struct {
	FormType     string `form:"form_type" validate:"oneof=contact speaking"`
	Name         string `form:"name" validate:"required,max=120"`
	Email        string `form:"email" validate:"required,email,max=254"`
	Message      string `form:"message" validate:"required_if=FormType contact,max=5000"`
	Subject      string `form:"subject" validate:"max=200"`
	Company      string `form:"company"`
	Organization string `form:"organization" validate:"max=200"`
	EventDate    string `form:"event_date" validate:"max=100"`
	Location     string `form:"location" validate:"max=200"`
	EventType    string `form:"event_type" validate:"required_if=FormType speaking,max=100"`
	AudienceSize string `form:"audience_size" validate:"required_if=FormType speaking,max=100"`
	Budget       string `form:"budget" validate:"max=100"`
}

var contactLabels = map[string]string{
	"form_type":     "Form type",
	"name":          "Name",
	"email":         "Email",
	"message":       "Message",
	"subject":       "Subject",
	"organization":  "Organization",
	"event_date":    "Event date",
	"location":      "Location",
	"event_type":    "Event type",
	"audience_size": "Audience size",
	"budget":        "Budget",
}

// relayFields returns the non-empty fields forwarded to the form relay.
// The honeypot is never forwarded.
func (f *contactForm) relayFields() map[string]string {
	subject := f.Subject
	if subject == "" {
		subject = subjectContact
		if f.FormType == FormTypeSpeaking {
			subject = subjectSpeaking
		}
	}

	fields := map[string]string{
		"form_type": f.FormType,
		"name":      f.Name,
		"email":     f.Email,
		"_replyto":  f.Email,
		"_subject":  subject,
	}
	optional := map[string]string{
		"message":       f.Message,
		"subject":       f.Subject,
		"organization":  f.Organization,
		"event_date":    f.EventDate,
		"location":      f.Location,
		"event_type":    f.EventType,
		"audience_size": f.AudienceSize,
		"budget":        f.Budget,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// Contact handles POST /api/contact.
func (h *Handlers) Contact(req *gateway.Request) gateway.Response {
	var form contactForm
	if err := decode(req, &form); err != nil {
		req.Log().Debug("contact decode failed", observability.Error(err))
		return reject(req, RouteContact, http.StatusBadRequest, gateway.CodeInvalidRequest, msgInvalidBody)
	}
	trimStrings(&form)
	if form.FormType == "" {
		form.FormType = FormTypeContact
	}

	if form.Company != "" {
		req.Log().Info("contact honeypot triggered")
		submissionsTotal.WithLabelValues(RouteContact, outcomeHoneypot).Inc()
		return req.JSON(http.StatusOK, successBody{Success: true, Message: msgContactSent})
	}

	if err := validate.Struct(&form); err != nil {
		submissionsTotal.WithLabelValues(RouteContact, outcomeValidation).Inc()
		return req.Error(http.StatusBadRequest, gateway.CodeInvalidRequest, validationMessage(err, contactLabels))
	}

	if resp := h.checkLimits(req, RouteContact,
		h.cfg.ContactIP.rule(RouteContact, ratelimit.DimensionIP, req.Context.IP),
		h.cfg.ContactEmail.rule(RouteContact, ratelimit.DimensionEmail, ratelimit.NormalizeEmail(form.Email)),
	); resp != nil {
		return *resp
	}

	if err := h.relay.Submit(req.Ctx(), form.relayFields()); err != nil {
		return h.upstreamFailure(req, RouteContact, err)
	}

	req.Log().Info("contact submission forwarded", observability.String("form_type", form.FormType))
	return success(req, RouteContact, msgContactSent)
}
