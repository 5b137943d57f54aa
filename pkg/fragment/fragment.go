// Package fragment defines the normalized pieces of agent output that flow
// from remote agents to the transcript.
package fragment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/igorsilveira/switchboard/pkg/a2a"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Part is exactly one of text, inline data or a structured form.
type Part struct {
	Text       string
	InlineData *InlineData
	Form       map[string]any
}

type wirePart struct {
	Text       *string        `json:"text,omitempty"`
	InlineData *InlineData    `json:"inline_data,omitempty"`
	Form       map[string]any `json:"form,omitempty"`
}

func (p Part) MarshalJSON() ([]byte, error) {
	var w wirePart
	switch {
	case p.InlineData != nil:
		w.InlineData = p.InlineData
	case p.Form != nil:
		w.Form = p.Form
	default:
		w.Text = &p.Text
	}
	return json.Marshal(w)
}

func (p *Part) UnmarshalJSON(b []byte) error {
	var w wirePart
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = Part{InlineData: w.InlineData, Form: w.Form}
	if w.Text != nil {
		p.Text = *w.Text
	}
	return nil
}

func TextPart(s string) Part {
	return Part{Text: s}
}

func (p Part) IsText() bool {
	return p.InlineData == nil && p.Form == nil
}

// String renders the part for a plain-text surface.
func (p Part) String() string {
	switch {
	case p.InlineData != nil:
		return fmt.Sprintf("[%s, %d bytes]", p.InlineData.MimeType, len(p.InlineData.Data))
	case p.Form != nil:
		b, _ := json.Marshal(p.Form)
		return "Form data: " + string(b)
	default:
		return p.Text
	}
}

// Fragment is one addressable piece of agent output. Fragments sharing a
// MessageID belong to the same transcript entry.
type Fragment struct {
	MessageID string `json:"messageId"`
	Parts     []Part `json:"parts"`
	Hidden    bool   `json:"hidden,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
}

func New(messageID string, parts ...Part) Fragment {
	if parts == nil {
		parts = []Part{}
	}
	return Fragment{MessageID: messageID, Parts: parts}
}

func (f Fragment) Text() string {
	var b strings.Builder
	for i, p := range f.Parts {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.String())
	}
	return b.String()
}

// Turn is one entry of the conversation history handed to the router.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

func UserText(s string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{TextPart(s)}}
}

func (t Turn) Text() string {
	var texts []string
	for _, p := range t.Parts {
		texts = append(texts, p.String())
	}
	return strings.Join(texts, "\n")
}

// FromA2A converts wire parts. Image files with inline bytes become inline
// data, data parts become forms and other files are named in a text part.
func FromA2A(parts []a2a.Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case a2a.PartTypeFile:
			out = append(out, fromFile(p.File))
		case a2a.PartTypeData:
			out = append(out, Part{Form: p.Data})
		default:
			if p.File != nil {
				out = append(out, fromFile(p.File))
				continue
			}
			if p.Data != nil {
				out = append(out, Part{Form: p.Data})
				continue
			}
			out = append(out, TextPart(p.Text))
		}
	}
	return out
}

func fromFile(f *a2a.FileContent) Part {
	if f == nil {
		return TextPart("[empty file]")
	}
	if strings.HasPrefix(f.MimeType, "image/") && f.Bytes != "" {
		data, err := base64.StdEncoding.DecodeString(f.Bytes)
		if err == nil {
			return Part{InlineData: &InlineData{MimeType: f.MimeType, Data: data}}
		}
	}
	name := f.Name
	if name == "" {
		name = f.URI
	}
	return TextPart(fmt.Sprintf("[file %s (%s)]", name, f.MimeType))
}

// ToA2A converts parts for an outbound message.
func ToA2A(parts []Part) []a2a.Part {
	out := make([]a2a.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.InlineData != nil:
			out = append(out, a2a.Part{
				Type: a2a.PartTypeFile,
				File: &a2a.FileContent{
					MimeType: p.InlineData.MimeType,
					Bytes:    base64.StdEncoding.EncodeToString(p.InlineData.Data),
				},
			})
		case p.Form != nil:
			out = append(out, a2a.Part{Type: a2a.PartTypeData, Data: p.Form})
		default:
			out = append(out, a2a.TextPart(p.Text))
		}
	}
	return out
}
