package notify

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/example/chestscan/internal/classifier"
)

// Message is one notification to a patient contact.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. The prediction pipeline treats delivery as
// best-effort: the returned error is logged and discarded, never propagated.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const resultSubject = "Your Pneumonia Screening Result - CityCare Hospital"

// Template keys, one per label.
const (
	templateNormal   = "prediction_normal"
	templatePositive = "prediction_positive"
)

// TemplateFor maps a classification label to its message template key.
func TemplateFor(label string) string {
	if label == classifier.LabelNormal {
		return templateNormal
	}
	return templatePositive
}

var resultTemplates = map[string]*template.Template{
	templateNormal: template.Must(template.New(templateNormal).Parse(
		`Dear {{.PatientName}},

Your chest X-ray screening result: Normal.
Confidence: {{printf "%.1f" .Percent}}%.

No signs of pneumonia were detected. Please consult your physician for a full
evaluation of your symptoms.

CityCare Hospital, {{.Year}}`)),
	templatePositive: template.Must(template.New(templatePositive).Parse(
		`Dear {{.PatientName}},

Your chest X-ray screening result: Pneumonia.
Confidence: {{printf "%.1f" .Percent}}%.

Signs consistent with pneumonia were detected. Please contact your physician
as soon as possible to discuss treatment.

CityCare Hospital, {{.Year}}`)),
}

// BuildResultMessage renders the message for one classification result using
// the template selected by its label.
func BuildResultMessage(to, patientName, label string, probability float32) (Message, error) {
	tmpl := resultTemplates[TemplateFor(label)]

	data := struct {
		PatientName string
		Percent     float64
		Year        int
	}{
		PatientName: patientName,
		Percent:     float64(probability) * 100,
		Year:        time.Now().Year(),
	}

	var body strings.Builder
	if err := tmpl.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", TemplateFor(label), err)
	}

	return Message{To: to, Subject: resultSubject, Body: body.String()}, nil
}

// BuildOTPMessage renders the one-time code message for a pending signup.
func BuildOTPMessage(to, username, code string) Message {
	return Message{
		To:      to,
		Subject: "Your CityCare Hospital verification code",
		Body:    fmt.Sprintf("Hello %s,\n\nYour verification code is %s.\n\nCityCare Hospital", username, code),
	}
}

// NopSender drops every message. Used when no notification URLs are
// configured.
type NopSender struct{}

// Send implements Sender.
func (NopSender) Send(ctx context.Context, msg Message) error { return nil }
