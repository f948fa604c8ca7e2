package hikvision

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/driver"
)

// ISAPI namespace used on every XML document.
const isapiNamespace = "http://www.hikvision.com/ver20/XMLSchema"

// Status codes and sub-status codes the devices report.
const (
	statusOK = 1

	// subStatusNoRecord and friends mean "nothing to delete". Firmware
	// versions disagree on the spelling.
	subStatusNoRecord       = "noRecord"
	subStatusUserNotExist   = "deviceUserNotExist"
	subStatusCardNotExist   = "cardNoNotExist"
	subStatusEmployeeAbsent = "employeeNoNotExist"
)

// plateListType is the ISAPI list a plate is provisioned into.
const plateListType = "whiteList"

// Default validity window for person records.
const (
	validFrom  = "2000-01-01T00:00:00"
	validUntil = "2037-12-31T23:59:59"
)

// faceLibID is the face library persons are enrolled into.
const faceLibID = "1"

type licensePlateInfoList struct {
	XMLName          xml.Name           `xml:"LicensePlateInfoList"`
	Version          string             `xml:"version,attr,omitempty"`
	Xmlns            string             `xml:"xmlns,attr,omitempty"`
	LicensePlateInfo []licensePlateInfo `xml:"LicensePlateInfo"`
}

type licensePlateInfo struct {
	LicensePlate string `xml:"LicensePlate"`
	ListType     string `xml:"listType,omitempty"`
	CardNo       string `xml:"cardNo,omitempty"`
	OwnerName    string `xml:"ownerName,omitempty"`
}

// responseStatus is the ISAPI XML status document. The JSON API uses the
// same field names in camel case.
type responseStatus struct {
	XMLName       xml.Name `xml:"ResponseStatus" json:"-"`
	RequestURL    string   `xml:"requestURL" json:"requestURL,omitempty"`
	StatusCode    int      `xml:"statusCode" json:"statusCode"`
	StatusString  string   `xml:"statusString" json:"statusString"`
	SubStatusCode string   `xml:"subStatusCode" json:"subStatusCode"`
	ErrorMsg      string   `xml:"errorMsg,omitempty" json:"errorMsg,omitempty"`
}

func (s responseStatus) ok() bool {
	return s.StatusCode == statusOK
}

func (s responseStatus) absent() bool {
	switch s.SubStatusCode {
	case subStatusNoRecord, subStatusUserNotExist, subStatusCardNotExist, subStatusEmployeeAbsent:
		return true
	}
	return false
}

func (s responseStatus) err() error {
	return fmt.Errorf("%w: statusCode=%d statusString=%q subStatusCode=%q",
		driver.ErrVendorProtocol, s.StatusCode, s.StatusString, s.SubStatusCode)
}

// parseStatus decodes a status body in either encoding. An empty body on a
// 2xx answer is treated as success; some firmware sends nothing at all.
func parseStatus(body []byte) (responseStatus, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return responseStatus{StatusCode: statusOK, StatusString: "OK"}, nil
	}

	var s responseStatus
	var err error
	if strings.HasPrefix(trimmed, "<") {
		err = xml.Unmarshal(body, &s)
	} else {
		err = json.Unmarshal(body, &s)
	}
	if err != nil {
		return s, fmt.Errorf("%w: decoding status: %w", driver.ErrVendorProtocol, err)
	}
	return s, nil
}

type userInfoEnvelope struct {
	UserInfo userInfo `json:"UserInfo"`
}

type userInfo struct {
	EmployeeNo string          `json:"employeeNo"`
	Name       string          `json:"name"`
	UserType   string          `json:"userType"`
	Valid      userValidity    `json:"Valid"`
	DoorRight  string          `json:"doorRight"`
	RightPlan  []userRightPlan `json:"RightPlan"`
}

type userValidity struct {
	Enable    bool   `json:"enable"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
	TimeType  string `json:"timeType"`
}

type userRightPlan struct {
	DoorNo         int    `json:"doorNo"`
	PlanTemplateNo string `json:"planTemplateNo"`
}

type cardInfoEnvelope struct {
	CardInfo cardInfo `json:"CardInfo"`
}

type cardInfo struct {
	EmployeeNo string `json:"employeeNo"`
	CardNo     string `json:"cardNo"`
	CardType   string `json:"cardType"`
}

type userDeleteEnvelope struct {
	UserInfoDelCond struct {
		EmployeeNoList []employeeNoRef `json:"EmployeeNoList"`
	} `json:"UserInfoDelCond"`
}

type employeeNoRef struct {
	EmployeeNo string `json:"employeeNo"`
}

type cardDeleteEnvelope struct {
	CardInfoDelCond struct {
		CardNoList []cardNoRef `json:"CardNoList"`
	} `json:"CardInfoDelCond"`
}

type cardNoRef struct {
	CardNo string `json:"cardNo"`
}

type faceDataRecord struct {
	FaceLibType string `json:"faceLibType"`
	FDID        string `json:"FDID"`
	FPID        string `json:"FPID"`
}

type faceSearchRequest struct {
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	FaceLibType          string `json:"faceLibType"`
	FDID                 string `json:"FDID"`
	FPID                 string `json:"FPID"`
}

type faceSearchResponse struct {
	StatusCode     int    `json:"statusCode"`
	ResponseStatus string `json:"responseStatusStrg"`
	NumOfMatches   int    `json:"numOfMatches"`
	MatchList      []struct {
		FPID    string `json:"FPID"`
		FaceURL string `json:"faceURL"`
	} `json:"MatchList"`
}
