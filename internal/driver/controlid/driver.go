package controlid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

const contentTypeJSON = "application/json"

// Driver speaks the ControlID JSON API. Session tokens are cached per device
// and re-acquired once when the device rejects them.
type Driver struct {
	http *driver.HTTPClient

	mu       sync.Mutex
	sessions map[string]string
}

// New creates a ControlID driver sending requests through client.
func New(client *driver.HTTPClient) *Driver {
	return &Driver{http: client, sessions: make(map[string]string)}
}

// Brand implements driver.Driver.
func (d *Driver) Brand() device.Brand {
	return device.BrandControlID
}

func (d *Driver) cachedSession(dev *device.Device) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[dev.ID]
}

func (d *Driver) forgetSession(dev *device.Device, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[dev.ID] == token {
		delete(d.sessions, dev.ID)
	}
}

func (d *Driver) login(ctx context.Context, dev *device.Device) (string, error) {
	body, err := json.Marshal(loginRequest{Login: dev.Username, Password: dev.Password})
	if err != nil {
		return "", fmt.Errorf("encoding login: %w", err)
	}
	resp, err := d.http.Do(ctx, dev, driver.AuthNone, driver.Request{
		Method:      http.MethodPost,
		Path:        "/login.fcgi",
		Body:        body,
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return "", err
	}
	if err := resp.StatusError(); err != nil {
		return "", err
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return "", fmt.Errorf("%w: decoding login: %w", driver.ErrVendorProtocol, err)
	}
	if lr.Session == "" {
		return "", fmt.Errorf("%w: login returned no session", driver.ErrAuth)
	}

	d.mu.Lock()
	d.sessions[dev.ID] = lr.Session
	d.mu.Unlock()
	return lr.Session, nil
}

func (d *Driver) session(ctx context.Context, dev *device.Device) (string, error) {
	if s := d.cachedSession(dev); s != "" {
		return s, nil
	}
	return d.login(ctx, dev)
}

// send performs one authenticated request, logging in again once when the
// session has expired.
func (d *Driver) send(ctx context.Context, dev *device.Device, req driver.Request) (*driver.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := d.session(ctx, dev)
		if err != nil {
			return nil, err
		}

		r := req
		r.Query = url.Values{}
		for k, v := range req.Query {
			r.Query[k] = v
		}
		r.Query.Set("session", token)

		resp, err := d.http.Do(ctx, dev, driver.AuthNone, r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		d.forgetSession(dev, token)
		if attempt > 0 {
			return resp, nil
		}
	}
}

// callJSON posts in as JSON to path and decodes a 2xx answer into out.
func (d *Driver) callJSON(ctx context.Context, dev *device.Device, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := d.send(ctx, dev, driver.Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return err
	}
	if err := resp.StatusError(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", driver.ErrVendorProtocol, path, err)
	}
	return nil
}

func supports(subject credential.Subject, dev *device.Device) bool {
	switch subject.Type {
	case credential.TypeTag:
		return dev.Kind == device.KindRFIDReader || dev.Kind == device.KindFaceTerminal
	case credential.TypeFace:
		return dev.Kind == device.KindFaceTerminal
	}
	return false
}

func unsupported(dev *device.Device, op string, subject credential.Subject) error {
	return driver.NewError(driver.ErrUnsupported, dev, op,
		fmt.Errorf("%s credentials on %s devices", subject.Type, dev.Kind))
}

// canonicalInt parses a value ControlID stores as an integer. Values with a
// sign or leading zeros are refused: the device would report them back in
// canonical form and they would no longer match the credential.
func canonicalInt(what, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 || strconv.FormatInt(v, 10) != s {
		return 0, fmt.Errorf("%w: %s %q is not a canonical positive integer", driver.ErrVendorProtocol, what, s)
	}
	return v, nil
}

// UpsertCredential ensures the person record exists and attaches the card or
// face picture to it. Cards hang off the owner's person (registration
// EmployeeNo). A face is a person of its own whose device id is the
// credential value, which is the user_id access logs report on recognition.
func (d *Driver) UpsertCredential(ctx context.Context, subject credential.Subject, dev *device.Device) (err error) {
	const op = "upsert"
	defer driver.Recover(dev, op, &err)

	if !supports(subject, dev) {
		return unsupported(dev, op, subject)
	}

	var card, personID int64
	switch subject.Type {
	case credential.TypeTag:
		card, err = canonicalInt("card value", subject.Value)
	case credential.TypeFace:
		personID, err = canonicalInt("face person id", subject.Value)
	}
	if err != nil {
		return driver.NewError(driver.ErrVendorProtocol, dev, op, err)
	}

	userID, err := d.upsertUser(ctx, dev, subject, personID)
	if err != nil {
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}

	switch subject.Type {
	case credential.TypeTag:
		err = d.upsertCard(ctx, dev, card, userID)
	case credential.TypeFace:
		if len(subject.Image) > 0 {
			err = d.setImage(ctx, dev, userID, subject.Image)
		}
	}
	return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
}

func (d *Driver) findUser(ctx context.Context, dev *device.Device, field string, value any) (*userObject, error) {
	var out loadUsersResponse
	err := d.callJSON(ctx, dev, "/load_objects.fcgi",
		loadRequest{Object: "users", Where: where("users", field, value)}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, nil
	}
	return &out.Users[0], nil
}

// upsertUser finds the person by id when one is requested, by registration
// otherwise, and creates it when absent.
func (d *Driver) upsertUser(ctx context.Context, dev *device.Device, subject credential.Subject, id int64) (int64, error) {
	registration := subject.PersonKey()
	var existing *userObject
	var err error
	if id != 0 {
		existing, err = d.findUser(ctx, dev, "id", id)
	} else {
		existing, err = d.findUser(ctx, dev, "registration", registration)
	}
	if err != nil {
		return 0, err
	}
	if existing != nil && existing.Registration != registration {
		return 0, fmt.Errorf("%w: user id %d already belongs to %q", driver.ErrVendorProtocol, id, existing.Registration)
	}

	if existing != nil {
		if existing.Name != subject.DisplayName() {
			err := d.callJSON(ctx, dev, "/modify_objects.fcgi", modifyRequest{
				Object: "users",
				Values: map[string]any{"name": subject.DisplayName()},
				Where:  where("users", "id", existing.ID),
			}, &changesResponse{})
			if err != nil {
				return 0, err
			}
		}
		return existing.ID, nil
	}

	var created createResponse
	err = d.callJSON(ctx, dev, "/create_objects.fcgi", createRequest{
		Object: "users",
		Values: []any{userObject{ID: id, Name: subject.DisplayName(), Registration: registration}},
	}, &created)
	if err != nil {
		return 0, err
	}
	if len(created.IDs) != 1 || (id != 0 && created.IDs[0] != id) {
		return 0, fmt.Errorf("%w: create users returned ids %v", driver.ErrVendorProtocol, created.IDs)
	}
	return created.IDs[0], nil
}

func (d *Driver) upsertCard(ctx context.Context, dev *device.Device, value, userID int64) error {
	var out loadCardsResponse
	err := d.callJSON(ctx, dev, "/load_objects.fcgi",
		loadRequest{Object: "cards", Where: where("cards", "value", value)}, &out)
	if err != nil {
		return err
	}

	if len(out.Cards) > 0 {
		if out.Cards[0].UserID == userID {
			return nil
		}
		return d.callJSON(ctx, dev, "/modify_objects.fcgi", modifyRequest{
			Object: "cards",
			Values: map[string]any{"user_id": userID},
			Where:  where("cards", "id", out.Cards[0].ID),
		}, &changesResponse{})
	}

	return d.callJSON(ctx, dev, "/create_objects.fcgi", createRequest{
		Object: "cards",
		Values: []any{cardObject{Value: value, UserID: userID}},
	}, &createResponse{})
}

func (d *Driver) setImage(ctx context.Context, dev *device.Device, userID int64, img []byte) error {
	q := url.Values{
		"user_id":   {strconv.FormatInt(userID, 10)},
		"timestamp": {strconv.FormatInt(time.Now().Unix(), 10)},
		"match":     {"0"},
	}
	resp, err := d.send(ctx, dev, driver.Request{
		Method:      http.MethodPost,
		Path:        "/user_set_image.fcgi",
		Query:       q,
		Body:        img,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return err
	}
	return resp.StatusError()
}

// DeleteCredential removes a card by value or, for FACE, the person record.
// Zero changes is success.
func (d *Driver) DeleteCredential(ctx context.Context, subject credential.Subject, dev *device.Device) (err error) {
	const op = "delete"
	defer driver.Recover(dev, op, &err)

	if !supports(subject, dev) {
		return unsupported(dev, op, subject)
	}

	var req destroyRequest
	switch subject.Type {
	case credential.TypeTag:
		card, err := canonicalInt("card value", subject.Value)
		if err != nil {
			return driver.NewError(driver.ErrVendorProtocol, dev, op, err)
		}
		req = destroyRequest{Object: "cards", Where: where("cards", "value", card)}
	case credential.TypeFace:
		req = destroyRequest{Object: "users", Where: where("users", "registration", subject.PersonKey())}
	}

	return driver.Wrap(driver.ErrVendorProtocol, dev, op,
		d.callJSON(ctx, dev, "/destroy_objects.fcgi", req, &changesResponse{}))
}

// FetchSubjectImage returns the enrolled picture of the person registered as
// subjectID (then altID). path is not used by this brand.
func (d *Driver) FetchSubjectImage(ctx context.Context, dev *device.Device, subjectID, altID, _ string) (img []byte, err error) {
	const op = "fetch_image"
	defer driver.Recover(dev, op, &err)

	for _, id := range []string{subjectID, altID} {
		if id == "" {
			continue
		}
		user, err := d.findUser(ctx, dev, "registration", id)
		if err != nil {
			return nil, driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
		}
		if user == nil {
			continue
		}

		resp, err := d.send(ctx, dev, driver.Request{
			Method: http.MethodGet,
			Path:   "/user_get_image.fcgi",
			Query:  url.Values{"user_id": {strconv.FormatInt(user.ID, 10)}},
		})
		if err != nil {
			return nil, driver.Wrap(driver.ErrConnection, dev, op, err)
		}
		if resp.StatusCode == http.StatusNotFound || (resp.OK() && len(resp.Body) == 0) {
			return nil, nil
		}
		if err := resp.StatusError(); err != nil {
			return nil, driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
		}
		return resp.Body, nil
	}
	return nil, nil
}

// RawRequest performs method on path with a valid session appended.
func (d *Driver) RawRequest(ctx context.Context, method, path string, payload []byte, dev *device.Device) (raw *driver.RawResponse, err error) {
	const op = "raw"
	defer driver.Recover(dev, op, &err)

	req := driver.Request{Method: method, Path: path, Body: payload}
	if len(payload) > 0 {
		req.ContentType = contentTypeJSON
	}
	resp, err := d.send(ctx, dev, req)
	if err != nil {
		return nil, driver.Wrap(driver.ErrConnection, dev, op, err)
	}
	return resp.Raw(), nil
}
