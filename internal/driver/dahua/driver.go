package dahua

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

// Driver speaks the Dahua HTTP CGI API.
type Driver struct {
	http *driver.HTTPClient
}

// New creates a Dahua driver sending requests through client.
func New(client *driver.HTTPClient) *Driver {
	return &Driver{http: client}
}

// Brand implements driver.Driver.
func (d *Driver) Brand() device.Brand {
	return device.BrandDahua
}

// record is one row to write into a device table.
type record struct {
	table string
	// keyField identifies the row; find and remove match on it.
	keyField string
	keyValue string
	fields   url.Values
}

func (d *Driver) recordFor(subject credential.Subject, dev *device.Device, op string) (record, error) {
	switch {
	case subject.Type == credential.TypePlate && dev.Kind == device.KindLPRCamera:
		return record{
			table:    tableAllowList,
			keyField: "PlateNumber",
			keyValue: subject.Value,
			fields: url.Values{
				"PlateNumber": {subject.Value},
				"MasterOfCar": {subject.DisplayName()},
			},
		}, nil
	case subject.Type == credential.TypeTag && dev.Kind != device.KindLPRCamera:
		return record{
			table:    tableCards,
			keyField: "CardNo",
			keyValue: subject.Value,
			fields: url.Values{
				"CardNo":     {subject.Value},
				"UserID":     {subject.EmployeeNo()},
				"CardName":   {subject.DisplayName()},
				"CardStatus": {"0"},
			},
		}, nil
	default:
		return record{}, driver.NewError(driver.ErrUnsupported, dev, op,
			fmt.Errorf("%s credentials on %s devices", subject.Type, dev.Kind))
	}
}

// UpsertCredential finds the row by key and updates it, or inserts it when
// absent.
func (d *Driver) UpsertCredential(ctx context.Context, subject credential.Subject, dev *device.Device) (err error) {
	const op = "upsert"
	defer driver.Recover(dev, op, &err)

	rec, err := d.recordFor(subject, dev, op)
	if err != nil {
		return err
	}

	found, err := d.find(ctx, dev, rec)
	if err != nil {
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}

	if len(found) == 0 {
		_, err = d.call(ctx, dev, "/cgi-bin/recordUpdater.cgi", withAction("insert", rec.table, rec.fields))
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}

	q := withAction("update", rec.table, rec.fields)
	q.Set("recno", strconv.Itoa(found[0]))
	kv, err := d.call(ctx, dev, "/cgi-bin/recordUpdater.cgi", q)
	if err != nil {
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}
	if !ackOK(kv) {
		return driver.NewError(driver.ErrVendorProtocol, dev, op, fmt.Errorf("update not acknowledged"))
	}
	return nil
}

// DeleteCredential removes every row matching the key. No rows is success.
func (d *Driver) DeleteCredential(ctx context.Context, subject credential.Subject, dev *device.Device) (err error) {
	const op = "delete"
	defer driver.Recover(dev, op, &err)

	rec, err := d.recordFor(subject, dev, op)
	if err != nil {
		return err
	}

	found, err := d.find(ctx, dev, rec)
	if err != nil {
		return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
	}
	for _, n := range found {
		q := withAction("remove", rec.table, nil)
		q.Set("recno", strconv.Itoa(n))
		if _, err := d.call(ctx, dev, "/cgi-bin/recordUpdater.cgi", q); err != nil {
			return driver.Wrap(driver.ErrVendorProtocol, dev, op, err)
		}
	}
	return nil
}

func withAction(action, table string, fields url.Values) url.Values {
	q := url.Values{"action": {action}, "name": {table}}
	for k, v := range fields {
		q[k] = v
	}
	return q
}

func (d *Driver) find(ctx context.Context, dev *device.Device, rec record) ([]int, error) {
	q := url.Values{"action": {"find"}, "name": {rec.table}}
	q.Set("condition."+rec.keyField, rec.keyValue)
	kv, err := d.call(ctx, dev, "/cgi-bin/recordFinder.cgi", q)
	if err != nil {
		return nil, err
	}
	return recNos(kv)
}

func (d *Driver) call(ctx context.Context, dev *device.Device, path string, q url.Values) (map[string]string, error) {
	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	if err := resp.StatusError(); err != nil {
		return nil, err
	}
	return parseKV(resp.Body)
}

// FetchSubjectImage loads an event picture by its device path. Dahua has no
// lookup by subject, so a call without path reports the image as absent.
func (d *Driver) FetchSubjectImage(ctx context.Context, dev *device.Device, _, _ string, path string) (img []byte, err error) {
	const op = "fetch_image"
	defer driver.Recover(dev, op, &err)

	if path == "" {
		return nil, nil
	}
	rel, err := driver.SplitPath(path)
	if err != nil {
		return nil, driver.NewError(driver.ErrVendorProtocol, dev, op, err)
	}

	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, driver.Request{
		Method: http.MethodGet,
		Path:   "/cgi-bin/RPC_Loadfile" + rel,
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

// RawRequest implements driver.Driver.
func (d *Driver) RawRequest(ctx context.Context, method, path string, payload []byte, dev *device.Device) (raw *driver.RawResponse, err error) {
	const op = "raw"
	defer driver.Recover(dev, op, &err)

	req := driver.Request{Method: method, Path: path, Body: payload}
	if len(payload) > 0 {
		req.ContentType = "application/json"
	}
	resp, err := d.http.Do(ctx, dev, driver.AuthDigest, req)
	if err != nil {
		return nil, driver.Wrap(driver.ErrConnection, dev, op, err)
	}
	return resp.Raw(), nil
}
