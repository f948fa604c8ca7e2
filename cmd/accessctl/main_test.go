package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/livesync"
)

// stubDevices serves a fixed device list.
type stubDevices map[string]*device.Device

func (s stubDevices) GetDevice(_ context.Context, id string) (*device.Device, error) {
	if d, ok := s[id]; ok {
		return d, nil
	}
	return nil, device.ErrDeviceNotFound
}

// stubDriver answers every device with canned data.
type stubDriver struct {
	raw    *driver.RawResponse
	rawErr error
	image  []byte

	gotMethod, gotPath string
	gotPayload         []byte
	gotSubject         string
}

func (d *stubDriver) Brand() device.Brand { return device.BrandHikvision }

func (d *stubDriver) UpsertCredential(context.Context, credential.Subject, *device.Device) error {
	return nil
}

func (d *stubDriver) DeleteCredential(context.Context, credential.Subject, *device.Device) error {
	return nil
}

func (d *stubDriver) FetchSubjectImage(_ context.Context, _ *device.Device, subjectID, _, _ string) ([]byte, error) {
	d.gotSubject = subjectID
	return d.image, nil
}

func (d *stubDriver) RawRequest(_ context.Context, method, path string, payload []byte, _ *device.Device) (*driver.RawResponse, error) {
	d.gotMethod, d.gotPath, d.gotPayload = method, path, payload
	return d.raw, d.rawErr
}

// stubDrivers hands out the same driver for every brand.
type stubDrivers struct{ drv driver.Driver }

func (s stubDrivers) ForDevice(*device.Device) (driver.Driver, error) { return s.drv, nil }

// stubSync returns a prepared report.
type stubSync struct {
	report *livesync.Report
	gotID  string
}

func (s *stubSync) Sync(_ context.Context, id string) *livesync.Report {
	s.gotID = id
	return s.report
}

// stubAudit collects recorded entries.
type stubAudit struct{ entries []audit.Entry }

func (a *stubAudit) Create(_ context.Context, e *audit.Entry) error {
	a.entries = append(a.entries, *e)
	return nil
}

func resetFlags() {
	configPath = ""
	timeout = 10 * time.Second
	rawDevice, rawMethod, rawPath, rawData, rawDataFile, rawJSON = "", "GET", "", "", "", false
	syncCredential, syncJSON = "", false
	imageDevice, imageSubject, imageAltID, imagePath, imageOut = "", "", "", "", ""
}

// execute runs rootCmd against e and returns everything it printed.
func execute(t *testing.T, e *environment, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	env = e

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		env = nil
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

func testEnv(drv *stubDriver, sync *stubSync) *environment {
	return &environment{
		devices: stubDevices{"dev-gate": {ID: "dev-gate", Name: "Main gate", Brand: device.BrandHikvision}},
		drivers: stubDrivers{drv: drv},
		sync:    sync,
	}
}

func TestRaw_PrintsDeviceAnswer(t *testing.T) {
	drv := &stubDriver{raw: &driver.RawResponse{StatusCode: 403, ContentType: "application/xml", Body: []byte("<Forbidden/>")}}

	out, err := execute(t, testEnv(drv, nil), "raw", "--device", "dev-gate", "-X", "post", "--path", "/ISAPI/x", "--data", "<a/>")

	require.NoError(t, err, "non-2xx answers are not failures")
	assert.Equal(t, "POST", drv.gotMethod)
	assert.Equal(t, "/ISAPI/x", drv.gotPath)
	assert.Equal(t, []byte("<a/>"), drv.gotPayload)
	assert.Contains(t, out, "HTTP 403 (application/xml)")
	assert.Contains(t, out, "<Forbidden/>")
}

func TestRaw_RecordsAudit(t *testing.T) {
	t.Setenv("USER", "field-eng")
	drv := &stubDriver{raw: &driver.RawResponse{StatusCode: 200}}
	trail := &stubAudit{}
	e := testEnv(drv, nil)
	e.audit = trail

	_, err := execute(t, e, "raw", "-d", "dev-gate", "-p", "/ISAPI/System/deviceInfo")

	require.NoError(t, err)
	require.Len(t, trail.entries, 1)
	got := trail.entries[0]
	assert.Equal(t, audit.ActionRawRequest, got.Action)
	assert.Equal(t, audit.SourceCLI, got.Source)
	assert.Equal(t, "field-eng", got.Subject)
	assert.Equal(t, "dev-gate", got.DeviceID)
	assert.Equal(t, 200, got.Details["status_code"])
}

func TestRaw_JSONEncodesBinaryBody(t *testing.T) {
	drv := &stubDriver{raw: &driver.RawResponse{StatusCode: 200, ContentType: "image/jpeg", Body: []byte{0xff, 0xd8, 0xff}}}

	out, err := execute(t, testEnv(drv, nil), "raw", "-d", "dev-gate", "-p", "/pic", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"body_base64": "/9j/"`)
	assert.Contains(t, out, `"status_code": 200`)
}

func TestRaw_DataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0600))
	drv := &stubDriver{raw: &driver.RawResponse{StatusCode: 200}}

	_, err := execute(t, testEnv(drv, nil), "raw", "-d", "dev-gate", "-p", "/x", "--data-file", path)

	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), drv.gotPayload)
}

func TestRaw_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "relative path", args: []string{"raw", "-d", "dev-gate", "-p", "ISAPI"}, want: "must start with /"},
		{name: "missing device", args: []string{"raw", "-p", "/x"}, want: "--device is required"},
		{name: "unknown device", args: []string{"raw", "-d", "nope", "-p", "/x"}, want: "not found"},
		{name: "both bodies", args: []string{"raw", "-d", "dev-gate", "-p", "/x", "--data", "a", "--data-file", "b"}, want: "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &stubDriver{raw: &driver.RawResponse{StatusCode: 200}}
			_, err := execute(t, testEnv(drv, nil), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, drv.gotPath, "device must not be called")
		})
	}
}

func TestRaw_TransportFailure(t *testing.T) {
	drv := &stubDriver{rawErr: driver.NewError(driver.ErrAuth, nil, "raw", errors.New("401"))}

	_, err := execute(t, testEnv(drv, nil), "raw", "-d", "dev-gate", "-p", "/x")

	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrAuth)
}

func TestSync_AllDevicesSucceed(t *testing.T) {
	sync := &stubSync{report: &livesync.Report{
		CredentialID: "c-1",
		Operation:    livesync.OperationUpsert,
		Results: []livesync.DeviceResult{
			{DeviceID: "dev-gate", Brand: device.BrandHikvision, Duration: 12 * time.Millisecond},
			{DeviceID: "dev-door", Brand: device.BrandDahua, Duration: 30 * time.Millisecond},
		},
	}}

	out, err := execute(t, testEnv(&stubDriver{}, sync), "sync", "--credential", "c-1")

	require.NoError(t, err)
	assert.Equal(t, "c-1", sync.gotID)
	assert.Contains(t, out, "ok    dev-gate")
	assert.Contains(t, out, "synchronised to 2 devices")
}

func TestSync_DeviceFailureFailsCommand(t *testing.T) {
	dev := &device.Device{ID: "dev-door", Brand: device.BrandDahua}
	sync := &stubSync{report: &livesync.Report{
		CredentialID: "c-1",
		Results: []livesync.DeviceResult{
			{DeviceID: "dev-gate", Brand: device.BrandHikvision},
			{DeviceID: "dev-door", Brand: device.BrandDahua, Err: driver.NewError(driver.ErrConnection, dev, "upsert", context.DeadlineExceeded)},
		},
	}}

	out, err := execute(t, testEnv(&stubDriver{}, sync), "sync", "--credential", "c-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 devices failed")
	assert.Contains(t, out, "FAIL  dev-door")
	assert.Contains(t, out, "connection")
}

func TestSync_JSONAndNoDevices(t *testing.T) {
	sync := &stubSync{report: &livesync.Report{CredentialID: "c-9", Operation: livesync.OperationUpsert}}

	out, err := execute(t, testEnv(&stubDriver{}, sync), "sync", "--credential", "c-9", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"credential_id": "c-9"`)
	assert.Contains(t, out, "synchronised to 0 devices")
}

func TestSync_RequiresCredential(t *testing.T) {
	_, err := execute(t, testEnv(&stubDriver{}, &stubSync{}), "sync")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--credential is required")
}

func TestImage_WritesFile(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	drv := &stubDriver{image: jpeg}
	outPath := filepath.Join(t.TempDir(), "face.jpg")

	out, err := execute(t, testEnv(drv, nil), "image", "-d", "dev-gate", "-s", "1001", "-o", outPath)

	require.NoError(t, err)
	assert.Equal(t, "1001", drv.gotSubject)
	got, readErr := os.ReadFile(outPath)
	require.NoError(t, readErr)
	assert.Equal(t, jpeg, got)
	assert.Contains(t, out, "image/jpeg")
}

func TestImage_Stdout(t *testing.T) {
	drv := &stubDriver{image: []byte("PIC")}

	out, err := execute(t, testEnv(drv, nil), "image", "-d", "dev-gate", "--path", "/pic/1.jpg")

	require.NoError(t, err)
	assert.Equal(t, "PIC", out)
}

func TestImage_Absent(t *testing.T) {
	_, err := execute(t, testEnv(&stubDriver{}, nil), "image", "-d", "dev-gate", "-s", "42")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no picture")
}

func TestImage_RequiresSelector(t *testing.T) {
	_, err := execute(t, testEnv(&stubDriver{}, nil), "image", "-d", "dev-gate")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--subject")
}

func TestOpenEnvironment_FromConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "access.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
site:
  id: test-site
database:
  path: "`+filepath.Join(dir, "access.db")+`"
blob:
  root: "`+filepath.Join(dir, "blobs")+`"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`), 0600))

	resetFlags()
	configPath = configFile
	env = nil
	t.Cleanup(func() { env = nil })

	require.NoError(t, openEnvironment(rootCmd, nil))
	require.NotNil(t, env)

	_, err := env.devices.GetDevice(context.Background(), "missing")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	require.NoError(t, closeEnvironment(rootCmd, nil))
	assert.Nil(t, env)
}

func TestResolveConfigPath(t *testing.T) {
	resetFlags()
	t.Setenv("GRAYLOGIC_CONFIG", "")
	assert.Equal(t, defaultConfigPath, resolveConfigPath())

	t.Setenv("GRAYLOGIC_CONFIG", "/etc/access.yaml")
	assert.Equal(t, "/etc/access.yaml", resolveConfigPath())

	configPath = "/tmp/flag.yaml"
	defer resetFlags()
	assert.Equal(t, "/tmp/flag.yaml", resolveConfigPath())
}
