package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Parser converts one vendor's native payload into a Notification.
//
// Implementations return an error wrapping ErrParse when no detected
// identifier can be extracted.
type Parser interface {
	Parse(contentType string, body []byte) (*Notification, error)
}

// Responder produces the acknowledgement format a vendor expects.
type Responder interface {
	// Success is sent for persisted and suppressed deliveries alike.
	Success() Ack

	// Failure is sent for rejected or failed deliveries.
	Failure(statusCode int, reason string) Ack
}

type vendor struct {
	parser    Parser
	responder Responder
}

// ParserSet maps brands to their parser and responder.
type ParserSet struct {
	mu      sync.RWMutex
	vendors map[device.Brand]vendor
}

// NewParserSet returns a set with every built-in vendor registered.
func NewParserSet() *ParserSet {
	s := &ParserSet{vendors: make(map[device.Brand]vendor)}
	s.Register(device.BrandHikvision, HikvisionParser{}, HikvisionResponder{})
	s.Register(device.BrandDahua, DahuaParser{}, DahuaResponder{})
	s.Register(device.BrandControlID, ControlIDParser{}, ControlIDResponder{})
	s.Register(device.BrandGeneric, GenericParser{}, GenericResponder{})
	return s
}

// Register adds or replaces the parser and responder for brand.
func (s *ParserSet) Register(brand device.Brand, p Parser, r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[brand] = vendor{parser: p, responder: r}
}

// Lookup returns the parser and responder for brand.
func (s *ParserSet) Lookup(brand device.Brand) (Parser, Responder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vendors[brand]
	return v.parser, v.responder, ok
}

// Responder returns the responder for brand, falling back to the generic one.
func (s *ParserSet) Responder(brand device.Brand) Responder {
	if _, r, ok := s.Lookup(brand); ok {
		return r
	}
	return GenericResponder{}
}

// mediaType returns the lower-case media type without parameters.
func mediaType(contentType string) (string, map[string]string) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])), nil
	}
	return mt, params
}

// part is one decoded multipart section.
type part struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

// maxParts bounds how many sections a multipart payload may carry.
const maxParts = 16

func readParts(params map[string]string, body []byte) ([]part, error) {
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart without boundary", ErrParse)
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts []part
	for len(parts) < maxParts {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading multipart: %w", ErrParse, err)
		}
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("%w: reading part %q: %w", ErrParse, p.FormName(), err)
		}
		ct, _ := mediaType(p.Header.Get("Content-Type"))
		parts = append(parts, part{
			name:        p.FormName(),
			filename:    p.FileName(),
			contentType: ct,
			data:        data,
		})
	}
	return parts, nil
}

// isImage reports whether a part carries a picture.
func (p part) isImage() bool {
	if strings.HasPrefix(p.contentType, "image/") {
		return true
	}
	lower := strings.ToLower(p.filename)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") || strings.HasSuffix(lower, ".png")
}

// firstImage attaches the first picture part to n.
func firstImage(n *Notification, parts []part) {
	for _, p := range parts {
		if p.isImage() && len(p.data) > 0 {
			n.Image = p.data
			n.ImageContentType = p.contentType
			if n.ImageContentType == "" || n.ImageContentType == "application/octet-stream" {
				n.ImageContentType = "image/jpeg"
			}
			n.ImageName = p.filename
			if n.ImageName == "" {
				n.ImageName = p.name + ".jpg"
			}
			return
		}
	}
}

// looksLike reports the structured encoding of data by its first byte.
func looksLike(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return ""
	case trimmed[0] == '<':
		return "xml"
	case trimmed[0] == '{' || trimmed[0] == '[':
		return "json"
	}
	return ""
}

// parseDeviceTime accepts the timestamp layouts devices send. It returns the
// zero time when s is empty or unrecognised.
func parseDeviceTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
