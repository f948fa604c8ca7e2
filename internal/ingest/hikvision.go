package ingest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/credential"
)

// hikAlert is the ISAPI EventNotificationAlert document, in either XML or
// JSON form. Only the fields the pipeline reads are declared.
type hikAlert struct {
	XMLName    xml.Name `xml:"EventNotificationAlert" json:"-"`
	IPAddress  string   `xml:"ipAddress" json:"ipAddress"`
	MACAddress string   `xml:"macAddress" json:"macAddress"`
	ChannelID  int      `xml:"channelID" json:"channelID"`
	DateTime   string   `xml:"dateTime" json:"dateTime"`
	EventType  string   `xml:"eventType" json:"eventType"`

	ANPR *struct {
		LicensePlate    string `xml:"licensePlate" json:"licensePlate"`
		ConfidenceLevel int    `xml:"confidenceLevel" json:"confidenceLevel"`
	} `xml:"ANPR" json:"ANPR"`

	AccessControllerEvent *struct {
		EmployeeNoString  string `xml:"employeeNoString" json:"employeeNoString"`
		CardNo            string `xml:"cardNo" json:"cardNo"`
		CurrentVerifyMode string `xml:"currentVerifyMode" json:"currentVerifyMode"`
	} `xml:"AccessControllerEvent" json:"AccessControllerEvent"`
}

// HikvisionParser handles ISAPI alarm pushes: multipart ANPR uploads with an
// XML document and plate pictures, and JSON access controller events.
type HikvisionParser struct{}

// Parse implements Parser.
func (HikvisionParser) Parse(contentType string, body []byte) (*Notification, error) {
	mt, params := mediaType(contentType)

	if strings.HasPrefix(mt, "multipart/") {
		parts, err := readParts(params, body)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			if p.isImage() {
				continue
			}
			if looksLike(p.data) == "" {
				continue
			}
			n, err := parseHikDocument(p.data)
			if err != nil {
				return nil, err
			}
			firstImage(n, parts)
			return n, nil
		}
		return nil, fmt.Errorf("%w: multipart without an event document", ErrParse)
	}

	return parseHikDocument(body)
}

func parseHikDocument(data []byte) (*Notification, error) {
	var alert hikAlert
	var err error
	switch looksLike(data) {
	case "xml":
		err = xml.Unmarshal(data, &alert)
	case "json":
		err = json.Unmarshal(data, &alert)
	default:
		return nil, fmt.Errorf("%w: unrecognised document", ErrParse)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding EventNotificationAlert: %w", ErrParse, err)
	}

	n := &Notification{
		DeviceIdentifier: alert.MACAddress,
		OccurredAt:       parseDeviceTime(alert.DateTime),
		Metadata:         strings.TrimSpace(string(data)),
	}

	switch {
	case alert.ANPR != nil && strings.TrimSpace(alert.ANPR.LicensePlate) != "":
		n.AccessType = credential.TypePlate
		n.DetectedID = alert.ANPR.LicensePlate
	case alert.AccessControllerEvent != nil && alert.AccessControllerEvent.CardNo != "":
		n.AccessType = credential.TypeTag
		n.DetectedID = alert.AccessControllerEvent.CardNo
	case alert.AccessControllerEvent != nil && alert.AccessControllerEvent.EmployeeNoString != "":
		// Face persons are provisioned with employeeNo = credential value.
		n.AccessType = credential.TypeFace
		n.DetectedID = alert.AccessControllerEvent.EmployeeNoString
	default:
		return nil, fmt.Errorf("%w: %s event carries no identifier", ErrParse, alert.EventType)
	}
	return n, nil
}

// HikvisionResponder answers with an ISAPI ResponseStatus document.
type HikvisionResponder struct{}

const hikResponseTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<ResponseStatus version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<statusCode>%d</statusCode>
<statusString>%s</statusString>
<subStatusCode>%s</subStatusCode>
</ResponseStatus>
`

// Success implements Responder.
func (HikvisionResponder) Success() Ack {
	return Ack{
		StatusCode:  http.StatusOK,
		ContentType: "application/xml",
		Body:        fmt.Appendf(nil, hikResponseTemplate, 1, "OK", "ok"),
	}
}

// Failure implements Responder.
func (HikvisionResponder) Failure(statusCode int, reason string) Ack {
	code, sub := 6, "badXmlContent"
	if statusCode >= http.StatusInternalServerError {
		code, sub = 4, "internalError"
	}
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(reason))
	return Ack{
		StatusCode:  statusCode,
		ContentType: "application/xml",
		Body:        fmt.Appendf(nil, hikResponseTemplate, code, escaped.String(), sub),
	}
}
