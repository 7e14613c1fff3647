package notify

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

// Message is a rendered notification ready for a transport.
type Message struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type messageTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

// Renderer turns a template name and data into a Message.
type Renderer struct {
	from      string
	signoff   string
	templates map[string]messageTemplate
	fallback  messageTemplate
}

const layoutSignoff = `<p>Regards,<br>{{.signoff}}</p>`

var sources = map[string][2]string{
	TemplateRegistration: {
		`Registration Confirmation: {{.trainingTitle}}`,
		`<h2>Registration Confirmation: {{.trainingTitle}}</h2>
<p>Dear {{.userName}},</p>
<p>You have successfully registered for the following training session:</p>
{{template "details" .}}
<p>Please ensure you arrive on time and complete the declaration form after the session.</p>
` + layoutSignoff,
	},
	TemplateTrainingReminder: {
		`Reminder: {{.trainingTitle}}`,
		`<h2>Reminder: Upcoming Training Session</h2>
<p>Dear {{.userName}},</p>
<p>This is a reminder that you are registered for the following training session:</p>
{{template "details" .}}
<p>Please ensure you arrive on time and complete the declaration form after the session.</p>
` + layoutSignoff,
	},
	TemplateDeclarationReminder: {
		`Action Required: Declaration Form for {{.trainingTitle}}`,
		`<h2>Action Required: Training Declaration Form</h2>
<p>Dear {{.userName}},</p>
<p>Our records indicate that you attended the following training session but have not yet submitted the required declaration form:</p>
<p><strong>Title:</strong> {{.trainingTitle}}</p>
<p><strong>Date:</strong> {{.trainingDate}}</p>
<p>Please log in to the training portal and complete the declaration form as soon as possible to ensure compliance.</p>
` + layoutSignoff,
	},
}

const detailsPartial = `{{define "details"}}<p><strong>Title:</strong> {{.trainingTitle}}</p>
<p><strong>Date:</strong> {{.trainingDate}}</p>
<p><strong>Time:</strong> {{.trainingTime}}</p>
<p><strong>Location:</strong> {{.trainingLocation}}</p>
{{with .trainingLink}}<p><strong>Meeting Link:</strong> <a href="{{.}}">{{.}}</a></p>{{end}}{{end}}`

// NewRenderer parses the built-in templates. from is the sender address and signoff the
// team name printed under each message.
func NewRenderer(from, signoff string) (*Renderer, error) {
	r := &Renderer{from: from, signoff: signoff, templates: make(map[string]messageTemplate)}
	for name, src := range sources {
		mt, err := parseMessage(name, src[0], src[1])
		if err != nil {
			return nil, err
		}
		r.templates[name] = mt
	}
	fb, err := parseMessage("fallback", `{{with .subject}}{{.}}{{else}}Notification{{end}}`,
		`<p>{{with .message}}{{.}}{{else}}No message{{end}}</p>`)
	if err != nil {
		return nil, err
	}
	r.fallback = fb
	return r, nil
}

func parseMessage(name, subject, body string) (messageTemplate, error) {
	st, err := texttemplate.New(name + ".subject").Parse(subject)
	if err != nil {
		return messageTemplate{}, fmt.Errorf("parse %s subject: %w", name, err)
	}
	bt, err := template.New(name).Parse(detailsPartial)
	if err != nil {
		return messageTemplate{}, fmt.Errorf("parse %s partial: %w", name, err)
	}
	if bt, err = bt.Parse(body); err != nil {
		return messageTemplate{}, fmt.Errorf("parse %s body: %w", name, err)
	}
	return messageTemplate{subject: st, body: bt}, nil
}

// Render produces the message for template name. Unknown names use a generic layout that
// prints data["message"].
func (r *Renderer) Render(to, name string, data Data) (Message, error) {
	if to == "" {
		return Message{}, ErrNoRecipient
	}
	mt, ok := r.templates[name]
	if !ok {
		mt = r.fallback
	}
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["signoff"] = r.signoff

	var subject, body bytes.Buffer
	if err := mt.subject.Execute(&subject, payload); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := mt.body.Execute(&body, payload); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Message{To: to, From: r.from, Subject: subject.String(), HTML: body.String()}, nil
}
