package hikvision

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

const (
	contentTypeXML  = "application/xml"
	contentTypeJSON = "application/json"
)

// Driver speaks ISAPI to Hikvision cameras and access terminals.
type Driver struct {
	http *driver.HTTPClient
}

// New creates a Hikvision driver sending requests through client.
func New(client *driver.HTTPClient) *Driver {
	return &Driver{http: client}
}

// Brand implements driver.Driver.
func (d *Driver) Brand() device.Brand {
	return device.BrandHikvision
}

// UpsertCredential provisions a plate into the camera allow list or a
// person (with card or face) into an access terminal.
func (d *Driver) UpsertCredential(ctx context.Context, subject credential.Subject, dev *device.Device) (err error) {
	const op = "upsert"
	defer driver.Recover(dev, op, &err)

	switch {
	case subject.Type == credential.TypePlate && dev.Kind == device.KindLPRCamera:
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, d.upsertPlate(ctx, subject, dev))
	case subject.Type == credential.TypeTag && dev.Kind != device.KindLPRCamera:
		if err := d.upsertPerson(ctx, subject, dev); err != nil {
			return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
		}
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, d.upsertCard(ctx, subject, dev))
	case subject.Type == credential.TypeFace && dev.Kind == device.KindFaceTerminal:
		if err := d.upsertPerson(ctx, subject, dev); err != nil {
			return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
		}
		if len(subject.Image) == 0 {
			return nil
		}
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, d.upsertFace(ctx, subject, dev))
	default:
		return unsupported(dev, op, subject)
	}
}

// DeleteCredential removes a plate, a card or a person. Records the device
// does not hold count as removed.
func (d *Driver) DeleteCredential(ctx context.Context, subject credential.Subject, dev *device.Device) (err error) {
	const op = "delete"
	defer driver.Recover(dev, op, &err)

	switch {
	case subject.Type == credential.TypePlate && dev.Kind == device.KindLPRCamera:
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, d.deletePlate(ctx, subject, dev))
	case subject.Type == credential.TypeTag && dev.Kind != device.KindLPRCamera:
		var body cardDeleteEnvelope
		body.CardInfoDelCond.CardNoList = []cardNoRef{{CardNo: subject.Value}}
		return driver.Wrap(driver.ErrVendorProtocol, dev, op,
			d.putJSON(ctx, dev, "/ISAPI/AccessControl/CardInfo/Delete?format=json", body, true))
	case subject.Type == credential.TypeFace && dev.Kind == device.KindFaceTerminal:
		var body userDeleteEnvelope
		body.UserInfoDelCond.EmployeeNoList = []employeeNoRef{{EmployeeNo: subject.PersonKey()}}
		return driver.Wrap(driver.ErrVendorProtocol, dev, op,
			d.putJSON(ctx, dev, "/ISAPI/AccessControl/UserInfo/Delete?format=json", body, true))
	default:
		return unsupported(dev, op, subject)
	}
}

func unsupported(dev *device.Device, op string, subject credential.Subject) error {
	return driver.NewError(driver.ErrUnsupported, dev, op,
		fmt.Errorf("%s credentials on %s devices", subject.Type, dev.Kind))
}

func platePath(dev *device.Device, action string) string {
	return fmt.Sprintf("/ISAPI/Traffic/channels/%d/%s", dev.EffectiveChannel(), action)
}

func (d *Driver) upsertPlate(ctx context.Context, subject credential.Subject, dev *device.Device) error {
	body := licensePlateInfoList{
		Version: "2.0",
		Xmlns:   isapiNamespace,
		LicensePlateInfo: []licensePlateInfo{{
			LicensePlate: subject.Value,
			ListType:     plateListType,
			CardNo:       subject.EmployeeNo(),
			OwnerName:    subject.DisplayName(),
		}},
	}
	return d.sendXML(ctx, dev, http.MethodPost, platePath(dev, "licensePlateAuditData/record"), body, false)
}

func (d *Driver) deletePlate(ctx context.Context, subject credential.Subject, dev *device.Device) error {
	body := licensePlateInfoList{
		Version:          "2.0",
		Xmlns:            isapiNamespace,
		LicensePlateInfo: []licensePlateInfo{{LicensePlate: subject.Value}},
	}
	return d.sendXML(ctx, dev, http.MethodPut, platePath(dev, "DelLicensePlateAuditData"), body, true)
}

// upsertPerson uses SetUp, which creates or modifies the record keyed by
// employeeNo. Face recognition events report that employeeNo back.
func (d *Driver) upsertPerson(ctx context.Context, subject credential.Subject, dev *device.Device) error {
	body := userInfoEnvelope{UserInfo: userInfo{
		EmployeeNo: subject.PersonKey(),
		Name:       subject.DisplayName(),
		UserType:   "normal",
		Valid: userValidity{
			Enable:    true,
			BeginTime: validFrom,
			EndTime:   validUntil,
			TimeType:  "local",
		},
		DoorRight: "1",
		RightPlan: []userRightPlan{{DoorNo: 1, PlanTemplateNo: "1"}},
	}}
	return d.putJSON(ctx, dev, "/ISAPI/AccessControl/UserInfo/SetUp?format=json", body, false)
}

func (d *Driver) upsertCard(ctx context.Context, subject credential.Subject, dev *device.Device) error {
	body := cardInfoEnvelope{CardInfo: cardInfo{
		EmployeeNo: subject.PersonKey(),
		CardNo:     subject.Value,
		CardType:   "normalCard",
	}}
	return d.putJSON(ctx, dev, "/ISAPI/AccessControl/CardInfo/SetUp?format=json", body, false)
}

func (d *Driver) upsertFace(ctx context.Context, subject credential.Subject, dev *device.Device) error {
	record, err := json.Marshal(faceDataRecord{
		FaceLibType: "blackFD",
		FDID:        faceLibID,
		FPID:        subject.PersonKey(),
	})
	if err != nil {
		return fmt.Errorf("encoding face record: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("FaceDataRecord", string(record)); err != nil {
		return fmt.Errorf("writing face record part: %w", err)
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="img"; filename="face.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("creating image part: %w", err)
	}
	if _, err := part.Write(subject.Image); err != nil {
		return fmt.Errorf("writing image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{
		Method:      http.MethodPut,
		Path:        "/ISAPI/Intelligent/FDLib/FDSetUp?format=json",
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	return checkStatus(resp, false)
}

func (d *Driver) sendXML(ctx context.Context, dev *device.Device, method, path string, v any, absentOK bool) error {
	body, err := xml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{
		Method:      method,
		Path:        path,
		Body:        append([]byte(xml.Header), body...),
		ContentType: contentTypeXML,
	})
	if err != nil {
		return err
	}
	return checkStatus(resp, absentOK)
}

func (d *Driver) putJSON(ctx context.Context, dev *device.Device, path string, v any, absentOK bool) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{
		Method:      http.MethodPut,
		Path:        path,
		Body:        body,
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return err
	}
	return checkStatus(resp, absentOK)
}

// checkStatus interprets an ISAPI answer. With absentOK, a 404 or a
// "no such record" status counts as success.
func checkStatus(resp *driver.Response, absentOK bool) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusError()
	}
	if absentOK && resp.StatusCode == http.StatusNotFound {
		return nil
	}

	status, err := parseStatus(resp.Body)
	if err != nil {
		if !resp.OK() {
			return resp.StatusError()
		}
		return err
	}
	if absentOK && status.absent() {
		return nil
	}
	if !resp.OK() || !status.ok() {
		return status.err()
	}
	return nil
}

// FetchSubjectImage returns the picture at path or the enrolled face of
// subjectID (then altID).
func (d *Driver) FetchSubjectImage(ctx context.Context, dev *device.Device, subjectID, altID, path string) (img []byte, err error) {
	const op = "fetch_image"
	defer driver.Recover(dev, op, &err)

	if path != "" {
		img, err = d.getPicture(ctx, dev, path)
		return img, driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}

	for _, id := range []string{subjectID, altID} {
		if id == "" {
			continue
		}
		faceURL, err := d.findFace(ctx, dev, id)
		if err != nil {
			return nil, driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
		}
		if faceURL == "" {
			continue
		}
		img, err = d.getPicture(ctx, dev, faceURL)
		return img, driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}
	return nil, nil
}

func (d *Driver) findFace(ctx context.Context, dev *device.Device, fpid string) (string, error) {
	body, err := json.Marshal(faceSearchRequest{
		MaxResults:  1,
		FaceLibType: "blackFD",
		FDID:        faceLibID,
		FPID:        fpid,
	})
	if err != nil {
		return "", fmt.Errorf("encoding face search: %w", err)
	}

	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{
		Method:      http.MethodPost,
		Path:        "/ISAPI/Intelligent/FDLib/FDSearch?format=json",
		Body:        body,
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err := resp.StatusError(); err != nil {
		return "", err
	}

	var result faceSearchResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("%w: decoding face search: %w", driver.ErrVendorProtocol, err)
	}
	for _, m := range result.MatchList {
		if m.FaceURL != "" {
			return m.FaceURL, nil
		}
	}
	return "", nil
}

func (d *Driver) getPicture(ctx context.Context, dev *device.Device, raw string) ([]byte, error) {
	path, err := driver.SplitPath(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrVendorProtocol, err)
	}

	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := resp.StatusError(); err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	return resp.Body, nil
}

// RawRequest implements driver.Driver.
func (d *Driver) RawRequest(ctx context.Context, method, path string, payload []byte, dev *device.Device) (raw *driver.RawResponse, err error) {
	const op = "raw"
	defer driver.Recover(dev, op, &err)

	req := driver.Request{Method: method, Path: path, Body: payload}
	if len(payload) > 0 {
		req.ContentType = contentTypeXML
		if json.Valid(payload) {
			req.ContentType = contentTypeJSON
		}
	}

	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, req)
	if err != nil {
		return nil, driver.Wrap(driver.ErrConnection, dev, op, err)
	}
	return resp.Raw(), nil
}
